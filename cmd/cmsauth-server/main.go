// Command cmsauth-server serves the cmsauth HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/internal/httpapi"
	"github.com/MrEthical07/cmsauth/internal/logging"
	"github.com/MrEthical07/cmsauth/metrics/export/prometheus"
)

func main() {
	var (
		configPath string
		devRedis   bool
	)
	root := &cobra.Command{
		Use:          "cmsauth-server",
		Short:        "Serve the cmsauth authentication API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath, devRedis)
		},
	}
	root.Flags().StringVar(&configPath, "config", "cmsauth.yaml", "config file; a missing file means defaults plus environment")
	root.Flags().BoolVar(&devRedis, "dev-redis", false, "back rate limiting with an embedded miniredis when redis.addr is empty")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, devRedis bool) error {
	cfg, err := cmsauth.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Env: cfg.Logging.Env, Level: cfg.Logging.Level, Service: "cmsauth"})
	defer func() { _ = logger.Sync() }()

	if err := initSentry(cfg.Sentry); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	} else if cfg.Sentry.DSN != "" {
		defer sentry.Flush(2 * time.Second)
	}

	comps, err := assemble(ctx, cfg, logger, devRedis)
	if err != nil {
		return err
	}
	defer comps.close()

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler, err = prometheus.Handler(comps.svc)
		if err != nil {
			return fmt.Errorf("metrics handler: %w", err)
		}
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Service:           comps.svc,
			IPLimiter:         comps.ipLimiter,
			APIKeyFailures:    comps.apiKeyFailures,
			MetricsHandler:    metricsHandler,
			Logger:            logger,
			TrustForwardedFor: cfg.Security.TrustForwardedFor,
			SecureCookies:     cfg.HTTP.SecureCookies,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func initSentry(cfg cmsauth.SentryConfig) error {
	if cfg.DSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		SampleRate:       cfg.SampleRate,
		AttachStacktrace: true,
	})
}
