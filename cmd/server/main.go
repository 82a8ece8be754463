package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-tcp/internal/app"
	"github.com/vovakirdan/wirechat-tcp/internal/config"
	wclog "github.com/vovakirdan/wirechat-tcp/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		adminAddr  string
	)

	cmd := &cobra.Command{
		Use:           "server [port]",
		Short:         "Run the wirechat TCP chat server",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLogger := wclog.New(logLevel)

			cfg, path, err := config.Load(bootLogger, configPath)
			if err != nil {
				bootLogger.Error().Err(err).Str("path", path).Msg("load config")
				return err
			}

			if err := applyOverrides(cmd, &cfg, args, logLevel, adminAddr); err != nil {
				bootLogger.Error().Err(err).Msg("parse arguments")
				return err
			}

			logger := wclog.New(cfg.LogLevel)
			gin.SetMode(gin.ReleaseMode)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("init app")
				return err
			}

			logger.Info().
				Str("addr", application.Addr().String()).
				Int("max_users", cfg.MaxUsers).
				Dur("inactivity_threshold", cfg.InactivityThreshold).
				Str("config", path).
				Msg("starting wirechat server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml (default ./config.yaml)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "admin HTTP listen address, empty string disables")
	return cmd
}

// applyOverrides layers the port argument and explicitly set flags over cfg.
// An explicit empty --admin-addr disables the admin server.
func applyOverrides(cmd *cobra.Command, cfg *config.Config, args []string, logLevel, adminAddr string) error {
	var overrides config.Config
	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 1 || port > 65535 {
			return errors.Newf("invalid port %q", args[0])
		}
		host, _, splitErr := net.SplitHostPort(cfg.Addr)
		if splitErr != nil {
			host = ""
		}
		overrides.Addr = net.JoinHostPort(host, args[0])
	}
	if cmd.Flags().Changed("log-level") {
		overrides.LogLevel = logLevel
	}
	cfg.UpdateFrom(overrides)
	if cmd.Flags().Changed("admin-addr") {
		cfg.AdminAddr = adminAddr
	}
	return nil
}
