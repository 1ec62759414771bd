package transport

import (
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/req"

	"github.com/dd0wney/burrowdb/pkg/protocol"
)

// DefaultClientTimeout bounds one round trip
const DefaultClientTimeout = 10 * time.Second

// Client sends protocol lines to a Server. It is safe for concurrent use;
// requests are serialized on one REQ socket.
type Client struct {
	mu   sync.Mutex
	sock mangos.Socket
	url  string
}

// Dial connects to url. A zero timeout uses DefaultClientTimeout.
func Dial(url string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}

	sock, err := req.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create REQ socket: %w", err)
	}

	for opt, v := range map[string]any{
		mangos.OptionSendDeadline: timeout,
		mangos.OptionRecvDeadline: timeout,
		mangos.OptionMaxRecvSize:  DefaultMaxMessageSize,
	} {
		if err := sock.SetOption(opt, v); err != nil {
			sock.Close()
			return nil, fmt.Errorf("failed to set %s: %w", opt, err)
		}
	}

	if err := sock.Dial(url); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &Client{sock: sock, url: url}, nil
}

// Do sends one command line and returns the raw reply line
func (c *Client) Do(line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sock.Send([]byte(line)); err != nil {
		return "", fmt.Errorf("send to %s: %w", c.url, err)
	}
	msg, err := c.sock.Recv()
	if err != nil {
		return "", fmt.Errorf("receive from %s: %w", c.url, err)
	}
	return string(msg), nil
}

// Exec sends line and parses the reply
func (c *Client) Exec(line string) (protocol.Response, error) {
	raw, err := c.Do(line)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.ParseResponse(raw), nil
}

// Close releases the socket
func (c *Client) Close() error {
	return c.sock.Close()
}
