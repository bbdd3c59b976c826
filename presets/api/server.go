package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/pkg/errors"
)

const forceStopTimeout = 5 * time.Second

// Config is a parameters for `http.Server`.
// APIRequestTimeout and ReadHeaderTimeout time.Duration in Seconds.
type Config struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	// nolint:lll
	APIRequestTimeout int `json:"api_request_timeout" yaml:"api_request_timeout"`
	ReadHeaderTimeout int `json:"read_header_timeout" yaml:"read_header_timeout"`
}

// Validate - Validate config required fields
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Host, validation.Required, is.Host),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.APIRequestTimeout, validation.Min(0)),
		validation.Field(&c.ReadHeaderTimeout, validation.Min(0)),
	)
}

// TCPAddr returns tcp address for server.
func (c Config) TCPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Server is worker by default for starting a standard HTTP server.
// Server requires configuration and filled `http.Handler`.
// The HTTP server will work properly and will be correctly disconnected upon a signal from Supervisor.
// Warning: this Server does not process SSL/TLS certificates on its own.
type Server struct {
	config     Config
	router     http.Handler
	routerInit func(ctx context.Context) (http.Handler, error)

	mu   sync.Mutex
	addr net.Addr
}

// NewServer returns a new instance of `Server` with the passed configuration and HTTP router.
func NewServer(config Config, router http.Handler) *Server {
	return &Server{
		config: config,
		router: router,
	}
}

// NewServerWithInitFunc returns a new instance of `Server` with the passed configuration.
// Server router will be initialized during the call of Run() method.
func NewServerWithInitFunc(config Config, routerInit func(ctx context.Context) (http.Handler, error)) *Server {
	return &Server{
		config:     config,
		routerInit: routerInit,
	}
}

// Init is a method to satisfy `keeper.Worker` interface.
func (s *Server) Init() error {
	if s.router == nil && s.routerInit == nil {
		return errors.New("http router is not set")
	}
	return nil
}

// Addr returns the address the server listens on, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run starts serving the passed `http.Handler` with HTTP server.
func (s *Server) Run(ctx context.Context) error {
	readHeaderTimeout := time.Minute
	if s.config.ReadHeaderTimeout > 0 {
		readHeaderTimeout = time.Duration(s.config.ReadHeaderTimeout) * time.Second
	}

	router := s.router
	if router == nil {
		var err error
		router, err = s.routerInit(ctx)
		if err != nil {
			return errors.Wrap(err, "router init failed")
		}
	}
	if s.config.APIRequestTimeout > 0 {
		router = http.TimeoutHandler(router, time.Duration(s.config.APIRequestTimeout)*time.Second, "request timeout")
	}

	listener, err := net.Listen("tcp", s.config.TCPAddr())
	if err != nil {
		return errors.Wrap(err, "unable to listen")
	}
	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverFailed := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			serverFailed <- err
		}
	}()

	select {
	case <-ctx.Done():
		serverCtx, cancel := context.WithTimeout(context.Background(), forceStopTimeout)
		defer cancel()

		if err := server.Shutdown(serverCtx); err != nil {
			return errors.Wrap(err, "server shutdown failed")
		}
		return nil
	case err := <-serverFailed:
		return errors.Wrap(err, "server failed")
	}
}
