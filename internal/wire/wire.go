// Package wire implements the tree's transport framing: JSON messages
// delimited by a single NUL byte, with no length prefix, over a plain TCP
// connection. The wire is strictly FIFO — one request in flight per
// connection — matching the original's client loop.
package wire

import (
	"bufio"
	"encoding/json"
	"io"

	"go.skia.org/infra/go/skerr"
)

// Conn wraps a connection with NUL-delimited JSON framing.
type Conn struct {
	w io.Writer
	r *bufio.Reader
}

// NewConn wraps rw for NUL-delimited JSON framing.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{w: rw, r: bufio.NewReader(rw)}
}

// WriteMessage marshals v to JSON and writes it followed by a single NUL
// byte.
func (c *Conn) WriteMessage(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return skerr.Wrap(err)
	}
	b = append(b, 0)
	if _, err := c.w.Write(b); err != nil {
		return skerr.Wrap(err)
	}
	return nil
}

// ReadMessage reads up to the next NUL byte and unmarshals it into v.
// Returns io.EOF if the connection closed with no partial message pending.
func (c *Conn) ReadMessage(v interface{}) error {
	raw, err := c.r.ReadBytes(0)
	if err != nil {
		if err == io.EOF && len(raw) == 0 {
			return io.EOF
		}
		return skerr.Wrap(err)
	}
	raw = raw[:len(raw)-1] // drop the trailing NUL
	if err := json.Unmarshal(raw, v); err != nil {
		return skerr.Wrapf(err, "unmarshaling wire message")
	}
	return nil
}

// ReadUntilNull reads raw bytes up to (excluding) the next NUL byte,
// mirroring the original's byte-by-byte read_until_null, used where a
// caller wants the framed payload without JSON decoding it immediately.
func ReadUntilNull(r *bufio.Reader) ([]byte, error) {
	raw, err := r.ReadBytes(0)
	if err != nil {
		return nil, err
	}
	return raw[:len(raw)-1], nil
}
