// Package storefront is the HTTP client for the storefront order API.
package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"bookingsync/internal/config"
	"bookingsync/internal/domain"
	"bookingsync/internal/models"
	"bookingsync/internal/syncerr"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const accessTokenHeader = "EasyStore-Access-Token"

// StatusError is a non-2xx answer from the order API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("storefront api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("storefront api: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the storefront order API. Requests share one rate limiter.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	pageSize   int
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger
}

// NewClient validates the storefront settings and builds a client.
func NewClient(cfg config.StorefrontConfig, logger *zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.AccessToken == "" {
		return nil, errors.New("storefront client requires base_url and access_token")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("storefront base_url: %w", err)
	}

	version := cfg.APIVersion
	if version == "" {
		version = "3.0"
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "storefront").Logger()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/api/" + version,
		token:      cfg.AccessToken,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		pageSize:   pageSize,
		maxRetries: max(cfg.MaxRetries, 0),
		retryDelay: cfg.RetryDelay,
		logger:     l,
	}, nil
}

type ordersResponse struct {
	Orders []models.Order `json:"orders"`
}

type orderResponse struct {
	Order *models.Order `json:"order"`
}

// FetchOrdersSince pages through orders updated at or after since.
func (c *Client) FetchOrdersSince(ctx context.Context, since time.Time, filter domain.OrderFilter) ([]models.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = c.pageSize
	}

	var all []models.Order
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("updated_at_min", since.UTC().Format(time.RFC3339))
		q.Set("sort", "updated_at.asc")
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(limit))
		if filter.FinancialStatus != "" {
			q.Set("financial_status", filter.FinancialStatus)
		}

		var resp ordersResponse
		if err := c.get(ctx, "/orders.json", q, &resp); err != nil {
			return nil, fmt.Errorf("fetch orders page %d: %w", page, err)
		}
		all = append(all, resp.Orders...)
		if len(resp.Orders) < limit {
			break
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].UpdatedAt.Before(all[j].UpdatedAt)
	})
	c.logger.Debug().Int("orders", len(all)).Time("since", since).Msg("fetched orders")
	return all, nil
}

// FetchOrder loads a single order; an unknown id yields syncerr.ErrOrderNotFound.
func (c *Client) FetchOrder(ctx context.Context, id string) (*models.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, syncerr.Validation("order_id", "order id is required")
	}

	var resp orderResponse
	err := c.get(ctx, "/orders/"+url.PathEscape(id)+".json", nil, &resp)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("order %s: %w", id, syncerr.ErrOrderNotFound)
	}
	if err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, fmt.Errorf("order %s: %w", id, syncerr.ErrOrderNotFound)
	}
	return resp.Order, nil
}

// Ping checks that the API answers with the configured token.
func (c *Client) Ping(ctx context.Context) error {
	var resp ordersResponse
	return c.get(ctx, "/orders.json", url.Values{"limit": {"1"}}, &resp)
}

// get issues a GET, repeating throttled and server failures with exponential backoff.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug().Str("path", path).Int("attempt", attempt).Dur("delay", delay).Msg("retrying request")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = c.do(ctx, path, query, out)
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.Retryable() {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	var se *StatusError
	if errors.As(lastErr, &se) {
		return syncerr.Transient("GET "+path, lastErr)
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set(accessTokenHeader, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &msg) == nil {
			se.Message = msg.Message
		}
		return se
	}

	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
