package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"marketlink/internal/limit"
	"marketlink/internal/model"
)

func fastPolicy() limit.RetryPolicy {
	return limit.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}
}

func testRequest() model.OrderRequest {
	return model.OrderRequest{
		Instrument: "BTC-USD",
		Side:       model.SideBuy,
		Type:       model.TypeLimit,
		Quantity:   1,
		LimitPrice: 50000,
	}
}

func TestPlaceOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want bearer credential", got)
		}

		var req placeOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ClientOrderID != "local-1" {
			t.Errorf("ClientOrderID = %q, want %q", req.ClientOrderID, "local-1")
		}

		json.NewEncoder(w).Encode(orderResponse{Order: VenueOrder{
			VenueRef:      "venue-99",
			ClientOrderID: req.ClientOrderID,
			Status:        "accepted",
		}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", WithRetryPolicy(fastPolicy()))

	order, err := client.PlaceOrder(context.Background(), "local-1", testRequest())
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if order.VenueRef != "venue-99" {
		t.Errorf("VenueRef = %q, want %q", order.VenueRef, "venue-99")
	}
}

func TestPlaceOrder_VenueErrorNotRetried(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "insufficient funds", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithRetryPolicy(fastPolicy()))

	_, err := client.PlaceOrder(context.Background(), "local-1", testRequest())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("PlaceOrder error = %v, want APIError", err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("venue saw %d placement attempts, want exactly 1", got)
	}
}

func TestPlaceOrder_ServerErrorNotRetried(t *testing.T) {
	// A 5xx still means the venue received the request; placement must not
	// be re-sent even though the class is transient for idempotent calls.
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithRetryPolicy(fastPolicy()))

	_, err := client.PlaceOrder(context.Background(), "local-1", testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("venue saw %d placement attempts, want exactly 1", got)
	}
}

func TestPlaceOrder_TransportFailureRetried(t *testing.T) {
	// First connection is killed before a response; the resend carries the
	// same client order id.
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		json.NewEncoder(w).Encode(orderResponse{Order: VenueOrder{VenueRef: "venue-1", Status: "accepted"}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithRetryPolicy(fastPolicy()))

	order, err := client.PlaceOrder(context.Background(), "local-1", testRequest())
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if order.VenueRef != "venue-1" {
		t.Errorf("VenueRef = %q, want %q", order.VenueRef, "venue-1")
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Errorf("placement attempts = %d, want 2", got)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithRetryPolicy(fastPolicy()))

	_, err := client.GetOrder(context.Background(), "venue-1")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("GetOrder error = %v, want ErrOrderNotFound", err)
	}
}

func TestGetOrder_RetriesTransient(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(orderResponse{Order: VenueOrder{VenueRef: "venue-1", Status: "filled"}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithRetryPolicy(fastPolicy()))

	order, err := client.GetOrder(context.Background(), "venue-1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if order.Status != "filled" {
		t.Errorf("Status = %q, want %q", order.Status, "filled")
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Errorf("status queries = %d, want 3", got)
	}
}

func TestCancelOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/orders/venue-7" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithRetryPolicy(fastPolicy()))

	if err := client.CancelOrder(context.Background(), "venue-7"); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
}

func TestFetchHistory_Paged(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/candles" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("instrument"); got != "BTC-USD" {
			t.Errorf("instrument = %q, want BTC-USD", got)
		}

		switch r.URL.Query().Get("cursor") {
		case "":
			json.NewEncoder(w).Encode(candlesResponse{
				Candles: []candle{
					{Timestamp: base.UnixMilli(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
					{Timestamp: base.Add(time.Minute).UnixMilli(), Open: 1.5, High: 2, Low: 1, Close: 2, Volume: 5},
				},
				Cursor: "page-2",
			})
		case "page-2":
			json.NewEncoder(w).Encode(candlesResponse{
				Candles: []candle{
					{Timestamp: base.Add(2 * time.Minute).UnixMilli(), Open: 2, High: 3, Low: 2, Close: 3, Volume: 7},
				},
			})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithRetryPolicy(fastPolicy()))

	bars, err := client.FetchHistory(context.Background(), "BTC-USD", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("got %d bars, want 3", len(bars))
	}
	for i, bar := range bars {
		want := base.Add(time.Duration(i) * time.Minute)
		if !bar.Timestamp.Equal(want) {
			t.Errorf("bar[%d].Timestamp = %v, want %v", i, bar.Timestamp, want)
		}
		if bar.Source != model.SourceHistorical {
			t.Errorf("bar[%d].Source = %v, want historical", i, bar.Source)
		}
	}
}

func TestClient_RateLimiterApplied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"order":{"order_id":"v1","status":"filled"}}`)
	}))
	defer server.Close()

	limiter := limit.NewLimiter(2, 200*time.Millisecond)
	client := NewClient(server.URL, "",
		WithRetryPolicy(fastPolicy()),
		WithLimiter(limiter),
	)

	start := time.Now()
	for i := 0; i < 4; i++ {
		if _, err := client.GetOrder(context.Background(), "v1"); err != nil {
			t.Fatalf("GetOrder %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("4 calls at 2 per 200ms completed in %v, want >= 200ms", elapsed)
	}
}

func TestClient_SaturatedLimiterFailsWithinTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"order":{"order_id":"v1","status":"filled"}}`)
	}))
	defer server.Close()

	// One slot per hour: the second call cannot be served and must fail
	// within the client timeout instead of hanging on the limiter.
	limiter := limit.NewLimiter(1, time.Hour)
	client := NewClient(server.URL, "",
		WithRetryPolicy(fastPolicy()),
		WithLimiter(limiter),
		WithTimeout(100*time.Millisecond),
	)

	if _, err := client.GetOrder(context.Background(), "v1"); err != nil {
		t.Fatalf("first GetOrder failed: %v", err)
	}

	start := time.Now()
	_, err := client.GetOrder(context.Background(), "v1")
	if err == nil {
		t.Fatal("expected error from saturated limiter")
	}
	if !errors.Is(err, limit.ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("saturated limiter held the call %v, want prompt failure", elapsed)
	}
}
