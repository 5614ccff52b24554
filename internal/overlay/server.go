package overlay

import (
	"context"
	"io"
	"net"

	"go.skia.org/infra/go/skerr"
	"go.skia.org/infra/go/sklog"

	"go.skia.org/snapped/internal/wire"
)

// Handler answers one Command. Implementations (the tree node) are
// responsible for fanning a broadcast command out to children and merging
// results; the server only owns framing and connection lifecycle.
type Handler interface {
	Handle(ctx context.Context, cmd Command) Response
}

// Server accepts tree-edge connections and dispatches each one's commands,
// strictly one in flight at a time per connection, to a Handler.
type Server struct {
	listener net.Listener
	handler  Handler
}

// Listen starts a Server on addr. An empty port (":0") lets the OS pick a
// free one; callers that need to advertise it should read Server.Addr.
func Listen(addr string, handler Handler) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, skerr.Wrapf(err, "listening on %q", addr)
	}
	return &Server{listener: l, handler: handler}, nil
}

// Addr returns the address the server is actually listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return skerr.Wrap(err)
		}
		go s.serveConn(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	wc := wire.NewConn(conn)
	for {
		var cmd Command
		if err := wc.ReadMessage(&cmd); err != nil {
			if err != io.EOF {
				sklog.Warningf("overlay: reading command from %s: %s", conn.RemoteAddr(), err)
			}
			return
		}
		resp := s.handler.Handle(ctx, cmd)
		if err := wc.WriteMessage(resp); err != nil {
			sklog.Warningf("overlay: writing response to %s: %s", conn.RemoteAddr(), err)
			return
		}
	}
}
