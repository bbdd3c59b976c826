package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// ConnTimeout limits the time to read a request and write the response.
var ConnTimeout = 5 * time.Second

// Server is a handler that opens a unix socket
// and accepts commands and writes responses in JSON format.
type Server struct {
	socketName string
	handlers   map[string]ActionFunc
	errors     chan error
}

// NewServer creates a new server with some actions.
func NewServer(socketName string, actions ...Action) *Server {
	handlers := map[string]ActionFunc{}
	for _, action := range actions {
		handlers[action.Name] = action.Handler
	}
	return &Server{socketName: socketName, handlers: handlers, errors: make(chan error, 16)}
}

// Errors returns a channel with errors. Errors are dropped when nobody reads them.
func (sw *Server) Errors() <-chan error {
	return sw.errors
}

// SetHandler adds new or replaces the command (action) handler.
func (sw *Server) SetHandler(name string, action ActionFunc) {
	sw.handlers[name] = action
}

// Serve creates the unix socket and processes incoming commands until `ctx` is closed.
// Each connection carries one JSON `Request` and receives one JSON `Response`.
func (sw *Server) Serve(ctx context.Context) error {
	if err := sw.removeSocket(); err != nil {
		return err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "unix", sw.socketName)
	if err != nil {
		return errors.Wrap(err, "unable to create unix domain socket")
	}

	if err = os.Chmod(sw.socketName, 0700); err != nil {
		_ = listener.Close()
		return errors.Wrap(err, "unable to change the permissions for the socket")
	}

	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		var delay time.Duration
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				sw.report(errors.Wrap(err, "accept failed"))
				delay = acceptBackoff(delay)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
			delay = 0

			if err := sw.processSockRequest(conn); err != nil {
				sw.report(errors.Wrap(err, "process failed"))
			}
		}
	}()

	<-ctx.Done()
	if err := listener.Close(); err != nil {
		sw.report(errors.Wrap(err, "close failed"))
	}
	<-accepted

	return sw.removeSocket()
}

// acceptBackoff doubles the pause after a failed Accept, from 5ms up to 1s.
func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	if next := prev * 2; next < time.Second {
		return next
	}
	return time.Second
}

func (sw *Server) report(err error) {
	select {
	case sw.errors <- err:
	default:
	}
}

func (sw *Server) processSockRequest(conn net.Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if cerr := conn.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if err = conn.SetDeadline(time.Now().Add(ConnTimeout)); err != nil {
		return err
	}

	var in Request
	if err = json.NewDecoder(conn).Decode(&in); err != nil {
		return errors.Wrap(err, "unable to decode input")
	}

	handler, ok := sw.handlers[in.Action]
	if !ok {
		handler = defaultHandler
	}

	if err = json.NewEncoder(conn).Encode(handler(in)); err != nil {
		return errors.Wrap(err, "unable to encode output")
	}
	return nil
}

func (sw *Server) removeSocket() error {
	_, err := os.Stat(sw.socketName)
	if os.IsNotExist(err) {
		return nil
	}
	if err := os.Remove(sw.socketName); err != nil {
		return errors.Wrap(err, "unable to remove the socket")
	}

	return nil
}
