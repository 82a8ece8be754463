package app

import (
	"context"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-tcp/internal/codec"
	"github.com/vovakirdan/wirechat-tcp/internal/config"
	"github.com/vovakirdan/wirechat-tcp/internal/core"
	wclog "github.com/vovakirdan/wirechat-tcp/internal/log"
	"github.com/vovakirdan/wirechat-tcp/internal/metrics"
	"github.com/vovakirdan/wirechat-tcp/internal/transport"
	transporthttp "github.com/vovakirdan/wirechat-tcp/internal/transport/http"
	"github.com/vovakirdan/wirechat-tcp/internal/transport/tcp"
)

// App wires together core and transport layers.
type App struct {
	registry *core.Registry
	sessions *transport.Handler
	acceptor *tcp.Acceptor

	admin   *stdhttp.Server
	adminLn net.Listener

	sessionCtx     context.Context
	cancelSessions context.CancelFunc

	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application and binds its listeners.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.New()
	if err := m.Register(promRegistry); err != nil {
		return nil, err
	}
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := core.NewRegistry(cfg.MaxUsers)
	dispatcher := core.NewDispatcher(registry, wclog.Component(logger, "dispatcher"), m)
	maxFrameSize := cfg.MaxFrameSize
	if maxFrameSize == 0 {
		maxFrameSize = codec.DefaultMaxFrameSize
	}
	dispatcher.LimitNotifications(int(maxFrameSize), transport.EncodedSize)
	presence := core.NewPresenceMonitor(registry, cfg.PresenceInterval, cfg.InactivityThreshold, wclog.Component(logger, "presence"))
	sessions := transport.NewHandler(dispatcher, presence, wclog.Component(logger, "session"), m, transport.Options{
		OutboxSize:   cfg.OutboundBuffer,
		WriteTimeout: cfg.WriteTimeout,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
	})

	acceptor, err := tcp.Listen(cfg.Addr, sessions, cfg.MaxFrameSize, wclog.Component(logger, "tcp"))
	if err != nil {
		return nil, err
	}

	sessionCtx, cancelSessions := context.WithCancel(context.Background())
	a := &App{
		registry:        registry,
		sessions:        sessions,
		acceptor:        acceptor,
		sessionCtx:      sessionCtx,
		cancelSessions:  cancelSessions,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}

	if cfg.AdminAddr != "" {
		ln, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			cancelSessions()
			_ = acceptor.Close()
			return nil, errors.Wrapf(err, "listen admin %s", cfg.AdminAddr)
		}
		a.adminLn = ln
		a.admin = transporthttp.NewServer(transporthttp.Deps{
			Registry:       registry,
			Sessions:       sessions,
			Gatherer:       promRegistry,
			SessionContext: sessionCtx,
		}, cfg, wclog.Component(logger, "admin"))
	}

	return a, nil
}

// Addr is the chat listener address.
func (a *App) Addr() net.Addr {
	return a.acceptor.Addr()
}

// AdminAddr is the admin listener address, nil when the admin server is off.
func (a *App) AdminAddr() net.Addr {
	if a.adminLn == nil {
		return nil
	}
	return a.adminLn.Addr()
}

// Registry exposes the session registry.
func (a *App) Registry() *core.Registry {
	return a.registry
}

// Run serves until ctx is cancelled or a listener fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.acceptor.Serve(a.sessionCtx)
	})
	if a.admin != nil {
		g.Go(func() error {
			a.log.Info().Str("addr", a.adminLn.Addr().String()).Msg("admin http server listening")
			if err := a.admin.Serve(a.adminLn); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return errors.Wrap(err, "admin server")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

// shutdown stops accepting, closes every session, then releases the registry.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	a.log.Info().Msg("shutting down")

	var errs error
	if err := a.acceptor.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "close listener"))
	}
	if a.admin != nil {
		if err := a.admin.Shutdown(ctx); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "shutdown admin server"))
		}
	}
	a.sessions.Close()

	a.cancelSessions()
	if err := a.sessions.Wait(ctx); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	a.acceptor.Wait()

	remaining := a.registry.Close()
	a.log.Info().Int("remaining", remaining).Msg("registry closed")
	return errs
}
