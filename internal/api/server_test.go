package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"bookingsync/internal/config"
	"bookingsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startGRPC(t *testing.T, source StatusSource) (*GRPCServer, healthpb.HealthClient) {
	t.Helper()
	logger := zerolog.Nop()
	cfg := testAPIConfig()
	cfg.GRPC = config.APIGRPCConfig{Enabled: true, Port: 0}

	s, err := NewGRPCServer(&cfg, source, &logger)
	require.NoError(t, err)
	go func() { _ = s.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})

	port := s.listener.Addr().(*net.TCPAddr).Port
	conn, err := grpc.NewClient(fmt.Sprintf("127.0.0.1:%d", port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func TestGRPCServer_Health(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Status", mock.Anything).Return(&models.SyncStatus{Health: models.HealthDegraded}, nil).Once()
	runner.On("Status", mock.Anything).Return(&models.SyncStatus{Health: models.HealthFailing}, nil).Once()
	runner.On("Status", mock.Anything).Return(nil, errors.New("db closed")).Once()

	s, client := startGRPC(t, runner)
	ctx := context.Background()
	req := &healthpb.HealthCheckRequest{Service: SyncHealthService}

	resp, err := client.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, resp.GetStatus())

	s.UpdateHealth(ctx)
	resp, err = client.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	s.UpdateHealth(ctx)
	resp, err = client.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	s.UpdateHealth(ctx)
	resp, err = client.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestGRPCServer_WatchHealthStopsWithContext(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Status", mock.Anything).Return(&models.SyncStatus{Health: models.HealthHealthy}, nil)
	s, client := startGRPC(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.WatchHealth(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: SyncHealthService})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchHealth did not return")
	}
}

func TestServingStatus(t *testing.T) {
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(models.HealthUnknown))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(models.HealthHealthy))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(models.HealthFailing))
}
