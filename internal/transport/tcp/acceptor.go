// Package tcp accepts chat clients over length-prefixed TCP.
package tcp

import (
	"context"
	"net"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/vovakirdan/wirechat-tcp/internal/transport"
)

// Acceptor owns a listener and hands every accepted connection to a
// transport.Handler on its own goroutine.
type Acceptor struct {
	ln           net.Listener
	handler      *transport.Handler
	maxFrameSize uint32
	log          *zerolog.Logger

	closing   atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen opens a TCP listener on addr.
func Listen(addr string, handler *transport.Handler, maxFrameSize uint32, logger *zerolog.Logger) (*Acceptor, error) {
	if addr == "" {
		return nil, errors.New("tcp: addr is empty")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	return New(ln, handler, maxFrameSize, logger), nil
}

// New builds an acceptor on an existing listener.
func New(ln net.Listener, handler *transport.Handler, maxFrameSize uint32, logger *zerolog.Logger) *Acceptor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Acceptor{
		ln:           ln,
		handler:      handler,
		maxFrameSize: maxFrameSize,
		log:          logger,
	}
}

// Addr returns the listening address.
func (a *Acceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Serve accepts until Close is called or ctx is cancelled. Sessions run with
// ctx; Serve does not wait for them.
func (a *Acceptor) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = a.Close() })
	defer stop()

	a.log.Info().Str("addr", a.Addr().String()).Msg("accepting tcp connections")
	for {
		nc, err := a.ln.Accept()
		if err != nil {
			if a.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				a.log.Warn().Err(err).Msg("accept timeout")
				continue
			}
			return errors.Wrap(err, "accept")
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			conn := NewConn(nc, a.maxFrameSize)
			if err := a.handler.Serve(ctx, conn); err != nil && !errors.Is(err, transport.ErrHandlerClosed) {
				a.log.Debug().Err(err).Str("addr", conn.RemoteAddr()).Msg("session ended with error")
			}
		}()
	}
}

// Close stops accepting. It is safe to call more than once.
func (a *Acceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closing.Store(true)
		err = a.ln.Close()
	})
	return err
}

// Wait blocks until every connection goroutine started by Serve has returned.
func (a *Acceptor) Wait() {
	a.wg.Wait()
}
