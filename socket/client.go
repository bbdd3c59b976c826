package socket

import (
	"context"
	"encoding/json"
	"net"

	"github.com/pkg/errors"
)

// Client provides the ability to communicate over the socket
// with some application running `Server`.
type Client struct {
	socketName string
}

// NewClient returns new `Client`.
func NewClient(socketName string) *Client {
	return &Client{socketName: socketName}
}

// Send tries to send a command in the `Request` through the socket to the `Server` and process the `Response`.
func (client Client) Send(request Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ConnTimeout)
	defer cancel()
	return client.SendContext(ctx, request)
}

// SendContext is Send bounded by `ctx`.
func (client Client) SendContext(ctx context.Context, request Request) (*Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", client.socketName)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to the service socket")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err = conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	if err = json.NewEncoder(conn).Encode(request); err != nil {
		return nil, errors.Wrap(err, "unable to encode input")
	}

	response := &Response{}
	if err = json.NewDecoder(conn).Decode(response); err != nil {
		return nil, errors.Wrap(err, "unable to decode output")
	}
	return response, nil
}
