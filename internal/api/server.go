package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"bookingsync/internal/config"
	"bookingsync/internal/models"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// SyncHealthService is the gRPC health service name reporting sync health.
const SyncHealthService = "bookingsync.v1.Sync"

// StatusSource reports the current sync status.
type StatusSource interface {
	Status(ctx context.Context) (*models.SyncStatus, error)
}

// GRPCServer serves the standard health protocol mirroring sync health.
type GRPCServer struct {
	cfg      *config.APIConfig
	status   StatusSource
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg *config.APIConfig, source StatusSource, logger *zerolog.Logger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	auth := NewAuthInterceptor(cfg)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		LoggingUnaryInterceptor(logger),
		auth.Unary(),
	))

	hs := health.NewServer()
	hs.SetServingStatus(SyncHealthService, healthpb.HealthCheckResponse_UNKNOWN)
	healthpb.RegisterHealthServer(grpcServer, hs)

	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	serverLogger := zerolog.Nop()
	if logger != nil {
		serverLogger = logger.With().Str("component", "grpc").Logger()
	}

	return &GRPCServer{
		cfg:      cfg,
		status:   source,
		server:   grpcServer,
		health:   hs,
		listener: lis,
		log:      serverLogger,
	}, nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

// UpdateHealth reads the sync status and publishes it on the health service.
func (s *GRPCServer) UpdateHealth(ctx context.Context) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s.status != nil {
		report, err := s.status.Status(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to read sync status")
		} else {
			st = servingStatus(report.Health)
		}
	}
	s.health.SetServingStatus(SyncHealthService, st)
}

// WatchHealth refreshes the health status every interval until ctx ends.
func (s *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.UpdateHealth(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.UpdateHealth(ctx)
		}
	}
}

// servingStatus treats only a failing sync as not serving.
func servingStatus(h string) healthpb.HealthCheckResponse_ServingStatus {
	if h == models.HealthFailing {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.server == nil {
		return
	}
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
		return
	}
}
