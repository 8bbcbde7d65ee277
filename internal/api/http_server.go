package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookingsync/internal/config"
	"bookingsync/internal/metrics"
	"bookingsync/internal/models"
	"bookingsync/internal/service"
	"bookingsync/internal/syncerr"
	"bookingsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SyncRunner triggers runs and reports status.
type SyncRunner interface {
	StatusSource
	RunSync(ctx context.Context, source string, since *time.Time) (*worker.RunResult, error)
}

// OrderSyncer runs the engine operations that bypass the orchestrator.
type OrderSyncer interface {
	SyncOrder(ctx context.Context, orderID string, opts service.ProcessOptions) (*service.OrderResult, error)
	Preview(ctx context.Context, since *time.Time) (*service.SyncPreview, error)
	RetryNow(ctx context.Context, orderIDs []string) (*service.SyncStats, error)
}

// HistorySource reads the processed order, run and error ledgers.
type HistorySource interface {
	ListProcessedOrders(ctx context.Context, limit int) ([]models.ProcessedOrder, error)
	ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
	ListSyncErrors(ctx context.Context, since time.Time, limit int) ([]models.SyncError, error)
}

// HTTPServer exposes health, metrics and the sync trigger endpoints.
type HTTPServer struct {
	cfg     config.APIConfig
	runner  SyncRunner
	orders  OrderSyncer
	history HistorySource
	server  *http.Server
	auth    *HTTPAuth
	logger  zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, runner SyncRunner, orders OrderSyncer, history HistorySource, logger *zerolog.Logger) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, runner: runner, orders: orders, history: history, logger: l}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/sync/status", srv.handleStatus)
	mux.HandleFunc("POST /api/v1/sync/run", srv.handleRun)
	mux.HandleFunc("POST /api/v1/sync/order", srv.handleSyncOrder)
	mux.HandleFunc("POST /api/v1/sync/retry", srv.handleRetry)
	mux.HandleFunc("GET /api/v1/sync/history", srv.handleHistory)
	mux.HandleFunc("GET /api/v1/sync/orders", srv.handleProcessedOrders)
	mux.HandleFunc("GET /api/v1/sync/errors", srv.handleErrors)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Handler(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Handler wraps mux with logging and auth.
func (s *HTTPServer) Handler(mux http.Handler) http.Handler {
	return s.loggingMiddleware(s.auth.Wrap(mux))
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on lis until Shutdown.
func (s *HTTPServer) Serve(lis net.Listener) error {
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "error": err.Error()})
		return
	}

	code := http.StatusOK
	if report.Health == models.HealthFailing {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":          report.Health,
		"running":         report.Running,
		"pending_retries": report.PendingRetries,
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Status(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read sync status")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read sync status")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type runRequest struct {
	Since  *time.Time `json:"since,omitempty"`
	DryRun bool       `json:"dry_run,omitempty"`
}

func (s *HTTPServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}

	if body.DryRun {
		preview, err := s.orders.Preview(r.Context(), body.Since)
		if err != nil {
			s.logger.Error().Err(err).Msg("dry run failed")
			writeError(w, http.StatusInternalServerError, "DRY_RUN_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"dry_run": true, "preview": preview})
		return
	}

	// The run outlives a disconnecting client; the orchestrator bounds its duration.
	res, err := s.runner.RunSync(context.WithoutCancel(r.Context()), models.SyncSourceManual, body.Since)
	if err != nil {
		s.logger.Error().Err(err).Msg("manual sync failed")
		writeError(w, http.StatusInternalServerError, "SYNC_FAILED", err.Error())
		return
	}
	if res.Skipped {
		writeError(w, http.StatusConflict, "SYNC_RUNNING", "a sync is already running")
		return
	}

	resp := map[string]any{"run": res.Run}
	if res.Stats != nil {
		resp["summary"] = res.Stats.Summary()
	}
	writeJSON(w, http.StatusOK, resp)
}

type syncOrderRequest struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

type eventDetails struct {
	ProductName string `json:"product_name"`
	BookingDate string `json:"booking_date"`
	BookingTime string `json:"booking_time"`
	EventID     string `json:"calendar_event_id"`
	EventLink   string `json:"calendar_event_link,omitempty"`
	Reused      bool   `json:"reused,omitempty"`
	Moved       bool   `json:"moved,omitempty"`
}

func (s *HTTPServer) handleSyncOrder(w http.ResponseWriter, r *http.Request) {
	var body syncOrderRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}
	body.OrderID = strings.TrimSpace(body.OrderID)
	if body.OrderID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "order_id is required")
		return
	}

	log := s.logger.With().Str("order_id", body.OrderID).Logger()
	res, err := s.orders.SyncOrder(context.WithoutCancel(r.Context()), body.OrderID, service.ProcessOptions{
		Force:  body.Force,
		Source: models.SyncSourceFrontend,
	})
	switch {
	case errors.Is(err, syncerr.ErrLockHeld):
		writeError(w, http.StatusConflict, "ORDER_LOCKED", "order is already being processed")
		return
	case errors.Is(err, syncerr.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
		return
	case syncerr.Classify(err) == syncerr.CategoryValidation:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	case err != nil:
		log.Error().Err(err).Msg("order sync failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an error occurred while syncing the order")
		return
	}

	if !res.Success {
		code := "SYNC_FAILED"
		switch {
		case errors.Is(res.Err(), syncerr.ErrNotPaid):
			code = "ORDER_NOT_PAID"
		case errors.Is(res.Err(), syncerr.ErrNoBookings):
			code = "NO_BOOKING_DATA"
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":        res.Err().Error(),
			"code":         code,
			"order_id":     res.OrderID,
			"order_number": res.OrderNumber,
			"category":     res.Category,
			"queued":       res.Queued,
			"errors":       res.Errors,
		})
		return
	}

	events := make([]eventDetails, 0, len(res.Bookings))
	for _, b := range res.Bookings {
		events = append(events, eventDetails{
			ProductName: b.ProductName,
			BookingDate: b.Date,
			BookingTime: b.Time,
			EventID:     b.EventID,
			EventLink:   b.EventLink,
			Reused:      b.Reused,
			Moved:       b.Moved,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"skipped":      res.Skipped,
		"order_id":     res.OrderID,
		"order_number": res.OrderNumber,
		"events":       events,
	})
}

type retryRequest struct {
	OrderIDs []string `json:"order_ids,omitempty"`
}

func (s *HTTPServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	var body retryRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}

	stats, err := s.orders.RetryNow(context.WithoutCancel(r.Context()), body.OrderIDs)
	switch {
	case errors.Is(err, syncerr.ErrRetryEntryMissing):
		writeError(w, http.StatusNotFound, "NOT_QUEUED", err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("manual retry failed")
		writeError(w, http.StatusInternalServerError, "RETRY_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"retried":    stats.Retried,
		"successful": stats.RetrySucceeded,
		"failed":     stats.RetryFailed,
		"summary":    stats.Summary(),
	})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 20)
	if !ok {
		return
	}
	runs, err := s.history.ListSyncRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list sync runs")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list sync runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": nonNil(runs)})
}

func (s *HTTPServer) handleProcessedOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 10)
	if !ok {
		return
	}
	orders, err := s.history.ListProcessedOrders(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list processed orders")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list processed orders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": nonNil(orders)})
}

func (s *HTTPServer) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 50)
	if !ok {
		return
	}
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "since must be a positive duration such as 24h")
			return
		}
		window = d
	}
	list, err := s.history.ListSyncErrors(r.Context(), time.Now().Add(-window), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list sync errors")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list sync errors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": nonNil(list)})
}

// queryLimit reads ?limit=, writing a 400 when it is not a positive integer.
func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
		return 0, false
	}
	return min(n, 500), true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// decodeBody decodes an optional JSON body; an empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	keys    *keyring
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg, keys: newKeyring(cfg.Auth), limiter: newRateLimiter(cfg.RateLimit)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			apiKey := strings.TrimSpace(r.Header.Get(a.keys.header))
			if _, err := a.keys.check(apiKey, requiredPermissionHTTP(r)); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, "UNAUTHORIZED", err.Error())
				return
			}
		}

		if !a.limiter.Allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requiredPermissionHTTP(r *http.Request) string {
	if r.Method == http.MethodGet {
		return permSyncRead
	}
	return permSyncWrite
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.header)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message, "code": code})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
