package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pkt.systems/ledgerd/internal/uuidv7"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "abc-123", want: "abc-123", ok: true},
		{in: "  xyz  ", want: "xyz", ok: true},
		{in: "", ok: false},
		{in: strings.Repeat("a", MaxIDLength+1), ok: false},
		{in: "bad\x01suffix", ok: false},
		{in: "café", ok: false},
	}
	for _, tc := range cases {
		got, ok := Normalize(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Normalize(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestWithAndID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if ID(ctx) != "" {
		t.Fatal("expected empty id on bare context")
	}
	if ID(With(ctx, "\x00")) != "" {
		t.Fatal("invalid id must be ignored")
	}
	if got := ID(With(ctx, " req-7 ")); got != "req-7" {
		t.Fatalf("expected req-7, got %q", got)
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var seen string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderName, "client-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "client-42" || rec.Header().Get(HeaderName) != "client-42" {
		t.Fatalf("client id not propagated: ctx=%q header=%q", seen, rec.Header().Get(HeaderName))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !uuidv7.Valid(seen) || rec.Header().Get(HeaderName) != seen {
		t.Fatalf("expected generated uuidv7, got ctx=%q header=%q", seen, rec.Header().Get(HeaderName))
	}
}
