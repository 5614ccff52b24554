package overlay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandler struct {
	lastCmd Command
}

func (h *echoHandler) Handle(ctx context.Context, cmd Command) Response {
	h.lastCmd = cmd
	switch cmd.Kind {
	case CmdCount:
		return CountResponse(3)
	default:
		return Ok()
	}
}

func startTestServer(t *testing.T, h Handler) (*Server, func()) {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", h)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()

	return srv, func() {
		cancel()
		_ = srv.Close()
	}
}

func TestClientServer_RoundTrip(t *testing.T) {
	h := &echoHandler{}
	srv, stop := startTestServer(t, h)
	defer stop()

	client, err := Dial(context.Background(), srv.Addr())
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Do(context.Background(), Command{Kind: CmdCount})
	require.NoError(t, err)
	assert.Equal(t, RespCount, resp.Kind)
	assert.Equal(t, 3, resp.Count)
}

func TestClientServer_MultipleSequentialCommands_SameConnection(t *testing.T) {
	h := &echoHandler{}
	srv, stop := startTestServer(t, h)
	defer stop()

	client, err := Dial(context.Background(), srv.Addr())
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 5; i++ {
		resp, err := client.Do(context.Background(), Command{Kind: CmdGetState})
		require.NoError(t, err)
		assert.Equal(t, RespOk, resp.Kind)
	}
}

func TestClientServer_DeadlineExceeded(t *testing.T) {
	h := &echoHandler{}
	srv, stop := startTestServer(t, h)
	defer stop()

	client, err := Dial(context.Background(), srv.Addr())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err = client.Do(ctx, Command{Kind: CmdGetState})
	assert.Error(t, err)
}

func TestResponse_IsError(t *testing.T) {
	assert.True(t, Err("boom").IsError())
	assert.False(t, Ok().IsError())
}
