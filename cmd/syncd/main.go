package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookingsync/internal/api"
	"bookingsync/internal/app"
	"bookingsync/internal/config"
	"bookingsync/internal/database"
	"bookingsync/internal/logging"
	"bookingsync/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	a, err := app.Open(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.InitSync(ctx); err != nil {
		logger.Error().Err(err).Msg("init sync pipeline")
		return err
	}
	if err := a.AttachNotifier(); err != nil {
		logger.Warn().Err(err).Msg("telegram notifier disabled")
	}
	if a.Commands != nil {
		go a.Commands.Start(ctx)
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(a.DB, cfg.Backup, a.Clock, &logger)
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	var servers []shutdowner
	if cfg.API.Enabled {
		servers, err = startAPI(ctx, a, &logger)
		if err != nil {
			return err
		}
	}

	if cfg.Sync.IsEnabled() {
		go a.Orchestrator.Start(ctx)
		logger.Info().Msg("sync scheduler started")
	} else {
		logger.Warn().Msg("periodic sync disabled; only API triggers will run")
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range servers {
		s.shutdown(shutdownCtx)
	}

	logger.Info().Msg("sync daemon stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, logger, closer, nil
}

type shutdowner struct {
	shutdown func(ctx context.Context)
}

func startAPI(ctx context.Context, a *app.App, logger *zerolog.Logger) ([]shutdowner, error) {
	cfg := a.Config
	var out []shutdowner

	if cfg.API.GRPC.Enabled {
		grpcServer, err := api.NewGRPCServer(&cfg.API, a.Orchestrator, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return nil, err
		}
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
		go grpcServer.WatchHealth(ctx, 30*time.Second)
		out = append(out, shutdowner{shutdown: grpcServer.Shutdown})
	}

	if cfg.API.HTTP.Enabled {
		httpServer := api.NewHTTPServer(cfg.API, a.Orchestrator, a.Engine, a.DB, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
		out = append(out, shutdowner{shutdown: func(ctx context.Context) { _ = httpServer.Shutdown(ctx) }})
	}

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Int("grpc_port", cfg.API.GRPC.Port).Msg("API server started")
	return out, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
