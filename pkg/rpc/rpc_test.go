package rpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
)

type echoReq struct {
	Word string `json:"word"`
}

func startServer(t *testing.T) string {
	t.Helper()
	s := NewServer()
	Handle(s, "Echo.Say", func(_ context.Context, req echoReq) (map[string]string, error) {
		return map[string]string{"word": req.Word}, nil
	})
	s.Register("Echo.Fail", func(context.Context, json.RawMessage) (any, error) {
		return nil, apperrors.New(apperrors.ErrLockUnavailable, http.StatusServiceUnavailable, "busy")
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.ServeListener(ln)
	t.Cleanup(s.Stop)
	return ln.Addr().String()
}

func TestCallRoundTrip(t *testing.T) {
	addr := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	var out map[string]string
	require.NoError(t, c.Call(ctx, "Echo.Say", echoReq{Word: "cat"}, &out))
	assert.Equal(t, "cat", out["word"])
}

func TestCallMapsRemoteErrors(t *testing.T) {
	addr := startServer(t)
	ctx := context.Background()
	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	err = c.Call(ctx, "Echo.Fail", nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrLockUnavailable)
	assert.Equal(t, "busy", apperrors.Message(err))

	err = c.Call(ctx, "Echo.Missing", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)

	err = c.Call(ctx, "Echo.Say", map[string]any{"word": "x", "extra": 1}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestStopClosesIdleConnections(t *testing.T) {
	s := NewServer()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.ServeListener(ln) }()

	c, err := Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop waited on an idle client")
	}
	assert.NoError(t, <-served)
	assert.Error(t, c.Call(context.Background(), "Echo.Say", echoReq{Word: "late"}, nil))
}

func TestClientIsUnusableAfterTransportFailure(t *testing.T) {
	addr := startServer(t)
	c, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	c.conn.Close()

	first := c.Call(context.Background(), "Echo.Say", echoReq{Word: "a"}, nil)
	require.Error(t, first)
	assert.ErrorIs(t, c.Call(context.Background(), "Echo.Say", echoReq{Word: "b"}, nil), errBroken)
}
