package transport

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-tcp/internal/codec"
	"github.com/vovakirdan/wirechat-tcp/internal/core"
	"github.com/vovakirdan/wirechat-tcp/internal/metrics"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
)

type readResult struct {
	req proto.Request
	err error
}

// chanConn is an in-memory Conn driven by the test.
type chanConn struct {
	in  chan readResult
	out chan proto.Response

	// reject, when set, fails matching writes as oversized.
	reject func(proto.Response) bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newChanConn() *chanConn {
	return &chanConn{
		in:     make(chan readResult, 16),
		out:    make(chan proto.Response, 16),
		closed: make(chan struct{}),
	}
}

func (c *chanConn) ReadRequest(ctx context.Context) (proto.Request, error) {
	select {
	case r := <-c.in:
		return r.req, r.err
	case <-c.closed:
		return proto.Request{}, io.EOF
	}
}

func (c *chanConn) WriteResponse(ctx context.Context, resp proto.Response) error {
	if c.reject != nil && c.reject(resp) {
		return errors.Wrap(codec.ErrFrameTooLarge, "encode")
	}
	select {
	case c.out <- resp:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *chanConn) RemoteAddr() string { return "pipe" }

func (c *chanConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *chanConn) push(t *testing.T, op string, data any) {
	t.Helper()
	req, err := proto.NewRequest(op, data)
	require.NoError(t, err)
	c.in <- readResult{req: req}
}

func (c *chanConn) next(t *testing.T) proto.Response {
	t.Helper()
	select {
	case resp := <-c.out:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
		return proto.Response{}
	}
}

func newTestHandler(maxUsers int, opts Options) (*Handler, *core.Registry) {
	registry := core.NewRegistry(maxUsers)
	dispatcher := core.NewDispatcher(registry, nil, nil)
	presence := core.NewPresenceMonitor(registry, 10*time.Millisecond, time.Minute, nil)
	return NewHandler(dispatcher, presence, nil, metrics.New(), opts), registry
}

func serve(t *testing.T, h *Handler, conn Conn) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), conn) }()
	return done
}

func TestServeProtocolErrorContinues(t *testing.T) {
	h, _ := newTestHandler(4, Options{})
	conn := newChanConn()
	done := serve(t, h, conn)

	conn.in <- readResult{err: errors.Mark(errors.New("bad json"), codec.ErrMalformed)}
	resp := conn.next(t)
	assert.Equal(t, proto.CodeBadRequest, resp.Code)
	assert.Equal(t, core.MsgMalformed, resp.Message)

	conn.push(t, proto.OpRegisterUser, proto.RegisterUserData{Username: "alice"})
	assert.Equal(t, proto.CodeOK, conn.next(t).Code)

	require.NoError(t, conn.Close())
	require.NoError(t, <-done)
}

func TestServeOversizedResponseIsDropped(t *testing.T) {
	registry := core.NewRegistry(4)
	m := metrics.New()
	presence := core.NewPresenceMonitor(registry, 10*time.Millisecond, time.Minute, nil)
	h := NewHandler(core.NewDispatcher(registry, nil, m), presence, nil, m, Options{})

	conn := newChanConn()
	conn.reject = func(resp proto.Response) bool { return resp.Op == proto.OpGetUsers }
	done := serve(t, h, conn)

	conn.push(t, proto.OpRegisterUser, proto.RegisterUserData{Username: "alice"})
	assert.Equal(t, proto.CodeOK, conn.next(t).Code)

	conn.push(t, proto.OpGetUsers, proto.GetUsersData{})
	conn.push(t, proto.OpUpdateStatus, proto.UpdateStatusData{Status: "busy"})

	resp := conn.next(t)
	assert.Equal(t, proto.OpUpdateStatus, resp.Op)
	assert.Equal(t, core.MsgStatusUpdated, resp.Message)
	assert.Equal(t, 1, registry.Count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedResponses))

	require.NoError(t, conn.Close())
	require.NoError(t, <-done)
}

func TestServeRateLimit(t *testing.T) {
	h, _ := newTestHandler(4, Options{RateLimit: 0.001, RateBurst: 1})
	conn := newChanConn()
	done := serve(t, h, conn)

	conn.push(t, proto.OpRegisterUser, proto.RegisterUserData{Username: "alice"})
	assert.Equal(t, proto.CodeOK, conn.next(t).Code)

	conn.push(t, proto.OpGetUsers, proto.GetUsersData{})
	resp := conn.next(t)
	assert.Equal(t, proto.CodeBadRequest, resp.Code)
	assert.Equal(t, core.MsgRateLimited, resp.Message)

	require.NoError(t, conn.Close())
	<-done
}

func TestServeTransportErrorRemovesSession(t *testing.T) {
	h, registry := newTestHandler(4, Options{})
	conn := newChanConn()
	done := serve(t, h, conn)

	conn.push(t, proto.OpRegisterUser, proto.RegisterUserData{Username: "alice"})
	conn.next(t)
	require.Equal(t, 1, registry.Count())

	boom := errors.New("connection reset")
	conn.in <- readResult{err: boom}
	assert.ErrorIs(t, <-done, boom)
	assert.Equal(t, 0, registry.Count())
	assert.Zero(t, h.Active())
}

func TestServeRejectsWhenFull(t *testing.T) {
	h, registry := newTestHandler(1, Options{})
	first := newChanConn()
	done := serve(t, h, first)
	first.push(t, proto.OpRegisterUser, proto.RegisterUserData{Username: "alice"})
	first.next(t)

	second := newChanConn()
	require.NoError(t, h.Serve(context.Background(), second))
	resp := second.next(t)
	assert.Equal(t, core.MsgCapacity, resp.Message)
	assert.Equal(t, 1, registry.Count())

	require.NoError(t, first.Close())
	<-done
}

func TestCloseAndWait(t *testing.T) {
	h, _ := newTestHandler(4, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	conn := newChanConn()
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, conn) }()
	require.Eventually(t, func() bool { return h.Active() == 1 }, time.Second, 5*time.Millisecond)

	h.Close()
	assert.ErrorIs(t, h.Serve(ctx, newChanConn()), ErrHandlerClosed)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	assert.Error(t, h.Wait(short))

	cancel()
	require.NoError(t, h.Wait(context.Background()))
	<-done
}
