package overlay

import (
	"context"
	"net"
	"sync"
	"time"

	"go.skia.org/infra/go/skerr"

	"go.skia.org/snapped/internal/wire"
)

// Client is a connection to one tree neighbor. It is strictly FIFO:
// concurrent callers of Do serialize behind a mutex, matching the
// original's one-request-in-flight client loop over a raw socket.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	wc   *wire.Conn
}

// Dial opens a Client to addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, skerr.Wrapf(err, "dialing overlay peer %q", addr)
	}
	return &Client{conn: conn, wc: wire.NewConn(conn)}, nil
}

// Do sends cmd and blocks for the correlated response. The deadline from
// ctx, if any, is applied to the whole round trip.
func (c *Client) Do(ctx context.Context, cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return Response{}, skerr.Wrap(err)
		}
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}

	if err := c.wc.WriteMessage(cmd); err != nil {
		return Response{}, skerr.Wrap(err)
	}
	var resp Response
	if err := c.wc.ReadMessage(&resp); err != nil {
		return Response{}, skerr.Wrap(err)
	}
	return resp, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
