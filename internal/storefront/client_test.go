package storefront

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"bookingsync/internal/config"
	"bookingsync/internal/domain"
	"bookingsync/internal/syncerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(config.StorefrontConfig{
		BaseURL:     server.URL + "/",
		AccessToken: "tok",
		PageSize:    2,
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(config.StorefrontConfig{BaseURL: "https://shop.example.com"}, nil)
	assert.Error(t, err)
}

func TestFetchOrdersSince_Pages(t *testing.T) {
	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	var pages []string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/3.0/orders.json", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get(accessTokenHeader))
		q := r.URL.Query()
		assert.Equal(t, "paid", q.Get("financial_status"))
		assert.Equal(t, "2025-03-01T00:00:00Z", q.Get("updated_at_min"))
		assert.Equal(t, "updated_at.asc", q.Get("sort"))
		assert.Equal(t, "2", q.Get("limit"))
		pages = append(pages, q.Get("page"))

		switch q.Get("page") {
		case "1":
			fmt.Fprint(w, `{"orders":[
				{"id":2,"order_number":"1002","updated_at":"2025-03-01T10:00:00Z"},
				{"id":1,"order_number":"1001","updated_at":"2025-03-01T09:00:00Z"}]}`)
		default:
			fmt.Fprint(w, `{"orders":[{"id":"3","order_number":"1003","updated_at":"2025-03-01T11:00:00Z"}]}`)
		}
	})

	orders, err := c.FetchOrdersSince(context.Background(), since, domain.OrderFilter{FinancialStatus: "paid"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, pages)
	require.Len(t, orders, 3)
	assert.Equal(t, "1", orders[0].ID.String())
	assert.Equal(t, "2", orders[1].ID.String())
	assert.Equal(t, "3", orders[2].ID.String())
}

func TestFetchOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/3.0/orders/5001.json":
			fmt.Fprint(w, `{"order":{"id":5001,"order_number":"1001","financial_status":"paid"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Order not found"}`)
		}
	})

	order, err := c.FetchOrder(context.Background(), "5001")
	require.NoError(t, err)
	assert.Equal(t, "1001", order.OrderNumber)
	assert.True(t, order.IsPaid())

	_, err = c.FetchOrder(context.Background(), "404")
	assert.ErrorIs(t, err, syncerr.ErrOrderNotFound)

	_, err = c.FetchOrder(context.Background(), " ")
	assert.Equal(t, syncerr.CategoryValidation, syncerr.Classify(err))
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"orders":[]}`)
	})

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_ExhaustedRetriesAreTransient(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"message":"slow down"}`)
	})

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, syncerr.CategoryTransient, syncerr.Classify(err))
	assert.Contains(t, err.Error(), "slow down")
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := c.Ping(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, syncerr.CategoryUnknown, syncerr.Classify(err))
}

func TestStatusError_Retryable(t *testing.T) {
	for code, want := range map[int]bool{400: false, 404: false, 429: true, 500: true, 502: true} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			assert.Equal(t, want, (&StatusError{StatusCode: code}).Retryable())
		})
	}
}
