package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/upstream"
)

func manualClock() *clock.Manual {
	return clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)).AutoAdvance(true)
}

func TestDoServiceUnavailableExhausts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"Message":"maintenance"}`))
	}))
	defer srv.Close()

	client := upstream.New(upstream.Config{HTTPClient: srv.Client()})
	clk := manualClock()
	_, err := Do(context.Background(), DefaultPolicy, clk, nil, "list_invoices", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, client.Do(ctx, upstream.Request{URL: srv.URL + "/Invoices"}, nil)
	})
	var unavailable *UpstreamUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UpstreamUnavailableError, got %v", err)
	}
	if unavailable.Attempts != 3 || hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d (server saw %d)", unavailable.Attempts, hits.Load())
	}
	if want := []time.Duration{time.Second, 2 * time.Second}; !reflect.DeepEqual(clk.Waits(), want) {
		t.Fatalf("unexpected backoff %v, want %v", clk.Waits(), want)
	}
	var upErr *upstream.Error
	if !errors.As(err, &upErr) || upErr.Status != http.StatusServiceUnavailable || upErr.Message != "maintenance" {
		t.Fatalf("last error not preserved: %v", err)
	}
}

func TestDoNotFoundIsPermanent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := upstream.New(upstream.Config{HTTPClient: srv.Client()})
	clk := manualClock()
	_, err := Do(context.Background(), DefaultPolicy, clk, nil, "get_invoice", func(ctx context.Context) (int, error) {
		return 0, client.Do(ctx, upstream.Request{URL: srv.URL}, nil)
	})
	var upErr *upstream.Error
	if !errors.As(err, &upErr) || upErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 upstream error, got %v", err)
	}
	if IsUnavailable(err) {
		t.Fatal("permanent failure must not be reported as unavailable")
	}
	if hits.Load() != 1 || len(clk.Waits()) != 0 {
		t.Fatalf("expected single attempt without sleep, got %d hits %v waits", hits.Load(), clk.Waits())
	}
}

func TestDoRecoversAfterTransient(t *testing.T) {
	t.Parallel()

	clk := manualClock()
	calls := 0
	got, err := Do(context.Background(), DefaultPolicy, clk, nil, "op", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &upstream.Error{Status: http.StatusTooManyRequests}
		}
		return "ok", nil
	})
	if err != nil || got != "ok" || calls != 2 {
		t.Fatalf("expected recovery on second attempt: %q %v %d", got, err, calls)
	}
}

func TestDoRetryAfterKeepsSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		retryAfter time.Duration
	}{
		{name: "zero-hint", retryAfter: 0},
		{name: "one-second-hint", retryAfter: time.Second},
		{name: "shorter-hint", retryAfter: 300 * time.Millisecond},
		{name: "longer-hint", retryAfter: 30 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			clk := manualClock()
			calls := 0
			_, err := Do(context.Background(), DefaultPolicy, clk, nil, "op", func(context.Context) (int, error) {
				calls++
				return 0, &upstream.Error{Status: http.StatusTooManyRequests, RetryAfter: tc.retryAfter}
			})
			if !IsUnavailable(err) || calls != 3 {
				t.Fatalf("expected 3 attempts ending unavailable, got %d calls: %v", calls, err)
			}
			if want := []time.Duration{time.Second, 2 * time.Second}; !reflect.DeepEqual(clk.Waits(), want) {
				t.Fatalf("waits=%v want %v", clk.Waits(), want)
			}
		})
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, DefaultPolicy, manualClock(), nil, "op", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, &upstream.Error{Status: http.StatusBadGateway}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no attempt after cancel, got %d", calls)
	}
}

func TestPolicyDelay(t *testing.T) {
	t.Parallel()

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, d := range want {
		if got := DefaultPolicy.Delay(i + 1); got != d {
			t.Fatalf("attempt %d: got %v want %v", i+1, got, d)
		}
	}
}
