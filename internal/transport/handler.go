// Package transport drives one chat session per connection, independent of
// how requests are framed on the wire.
package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-tcp/internal/codec"
	"github.com/vovakirdan/wirechat-tcp/internal/core"
	"github.com/vovakirdan/wirechat-tcp/internal/metrics"
	"github.com/vovakirdan/wirechat-tcp/internal/proto"
	"github.com/vovakirdan/wirechat-tcp/internal/utils"
)

// ErrHandlerClosed is returned by Serve once Close has been called.
var ErrHandlerClosed = errors.New("transport: handler closed")

// Conn is one client connection speaking proto requests and responses.
// ReadRequest is called from a single goroutine. Errors for which
// codec.IsProtocolError is true leave the connection usable.
type Conn interface {
	ReadRequest(ctx context.Context) (proto.Request, error)
	WriteResponse(ctx context.Context, resp proto.Response) error
	RemoteAddr() string
	Close() error
}

// Options tune per-session behaviour.
type Options struct {
	OutboxSize   int
	WriteTimeout time.Duration
	RateLimit    float64
	RateBurst    int
}

const defaultWriteTimeout = 10 * time.Second

// Handler runs sessions on top of a shared dispatcher.
type Handler struct {
	dispatcher *core.Dispatcher
	registry   *core.Registry
	presence   *core.PresenceMonitor
	log        *zerolog.Logger
	metrics    *metrics.Metrics
	opts       Options

	active atomic.Int64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewHandler builds a session handler. m may be nil.
func NewHandler(dispatcher *core.Dispatcher, presence *core.PresenceMonitor, logger *zerolog.Logger, m *metrics.Metrics, opts Options) *Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	presence.OnChange(func(core.View) { m.PresenceChanged() })
	return &Handler{
		dispatcher: dispatcher,
		registry:   dispatcher.Registry(),
		presence:   presence,
		log:        logger,
		metrics:    m,
		opts:       opts,
	}
}

// Active returns the number of sessions currently being served.
func (h *Handler) Active() int64 {
	return h.active.Load()
}

// Serve runs a session on conn until the client leaves, the connection fails
// or ctx is cancelled. conn is always closed on return.
func (h *Handler) Serve(ctx context.Context, conn Conn) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return ErrHandlerClosed
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	s := core.NewSession(utils.NewID(), conn.RemoteAddr(), h.opts.OutboxSize)
	logger := h.log.With().Str("session_id", s.ID).Str("addr", s.Addr).Logger()

	if err := h.registry.Insert(s); err != nil {
		h.metrics.ConnectionRejected()
		logger.Warn().Err(err).Msg("connection rejected")
		if errors.Is(err, core.ErrCapacityExceeded) {
			h.writeDirect(ctx, conn, core.BadRequest(core.CommandRegisterUser, core.ErrCodeCapacity, core.MsgCapacity))
		}
		_ = conn.Close()
		return nil
	}

	h.active.Inc()
	h.metrics.SessionOpened()
	logger.Info().Msg("session opened")
	defer func() {
		h.active.Dec()
		h.metrics.SessionClosed()
		logger.Info().Msg("session closed")
	}()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stop()

	g.Go(func() error {
		h.presence.Watch(gctx, s)
		return nil
	})
	g.Go(func() error {
		return h.writeLoop(gctx, conn, s)
	})

	readErr := h.readLoop(gctx, conn, s, &logger)

	h.registry.Remove(s)
	writeErr := g.Wait()
	_ = conn.Close()

	if readErr != nil {
		logger.Warn().Err(readErr).Msg("session read failed")
		return readErr
	}
	if writeErr != nil && !errors.Is(writeErr, context.Canceled) {
		logger.Warn().Err(writeErr).Msg("session write failed")
	}
	return nil
}

func (h *Handler) readLoop(ctx context.Context, conn Conn, s *core.Session, logger *zerolog.Logger) error {
	limiter := newRateLimiter(h.opts.RateLimit, h.opts.RateBurst)

	for {
		req, err := conn.ReadRequest(ctx)
		if err != nil {
			if codec.IsProtocolError(err) {
				h.metrics.DecodeError()
				logger.Warn().Err(err).Msg("dropping malformed request")
				if !h.reply(ctx, s, core.BadRequest(unknownOp, core.ErrCodeBadRequest, core.MsgMalformed)) {
					return nil
				}
				continue
			}
			if isClosedConn(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if !allow(limiter) {
			logger.Debug().Str("op", req.Op).Msg("rate limited")
			if !h.reply(ctx, s, core.BadRequest(unknownOp, core.ErrCodeRateLimited, core.MsgRateLimited)) {
				return nil
			}
			continue
		}

		h.registry.Touch(s)

		cmd, resp := commandFromRequest(req)
		if resp != nil {
			if !h.reply(ctx, s, resp) {
				return nil
			}
			continue
		}

		start := time.Now()
		resp, closeAfter := h.dispatcher.Dispatch(ctx, s, cmd)
		if resp != nil {
			h.metrics.ObserveRequest(cmd.Kind(), resp.Code, time.Since(start))
			if !h.reply(ctx, s, resp) {
				return nil
			}
		}
		if closeAfter {
			return nil
		}
	}
}

// reply queues resp behind any pending notifications. It reports whether the
// session is still usable.
func (h *Handler) reply(ctx context.Context, s *core.Session, resp *core.Response) bool {
	return s.Enqueue(ctx, resp) == nil
}

func (h *Handler) writeLoop(ctx context.Context, conn Conn, s *core.Session) error {
	for {
		select {
		case resp := <-s.Outbox():
			if err := h.write(ctx, conn, resp); err != nil {
				return err
			}
		case <-s.Done():
			return h.drain(ctx, conn, s)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain flushes replies queued before the session was removed.
func (h *Handler) drain(ctx context.Context, conn Conn, s *core.Session) error {
	for {
		select {
		case resp := <-s.Outbox():
			if err := h.write(ctx, conn, resp); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// write sends one response. A response too large for the wire is dropped and
// the session carries on; nothing was written, so the stream stays aligned.
func (h *Handler) write(ctx context.Context, conn Conn, resp *core.Response) error {
	wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()

	err := conn.WriteResponse(wctx, responseToProto(resp))
	if errors.Is(err, codec.ErrFrameTooLarge) {
		h.metrics.ResponseDropped()
		h.log.Warn().Err(err).Str("addr", conn.RemoteAddr()).Stringer("op", resp.Op).Msg("dropping oversized response")
		return nil
	}
	return err
}

func (h *Handler) writeDirect(ctx context.Context, conn Conn, resp *core.Response) {
	if err := h.write(ctx, conn, resp); err != nil {
		h.log.Debug().Err(err).Msg("write rejection")
	}
}

// Close stops new sessions from being served. Running sessions are left to
// their contexts.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

// Wait blocks until every running session has finished or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%d sessions still running", h.active.Load())
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
