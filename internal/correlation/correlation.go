// Package correlation carries a caller-supplied request identifier from the
// HTTP edge into gateway logs and audit events.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"pkt.systems/ledgerd/internal/uuidv7"
)

// HeaderName is read from incoming requests and echoed on responses.
const HeaderName = "X-Correlation-Id"

// MaxIDLength caps accepted identifiers.
const MaxIDLength = 128

type contextKey struct{}

// With returns ctx carrying id. Invalid ids leave ctx unchanged.
func With(ctx context.Context, id string) context.Context {
	normalized, ok := Normalize(id)
	if !ok {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, normalized)
}

// ID returns the identifier stored on ctx, or "".
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Normalize trims id and accepts printable ASCII up to MaxIDLength.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// Generate returns a fresh time-ordered identifier.
func Generate() string {
	return uuidv7.NewString()
}

// FromHeader returns the normalized header value when present and valid.
func FromHeader(h http.Header) (string, bool) {
	if h == nil {
		return "", false
	}
	return Normalize(h.Get(HeaderName))
}

// Middleware attaches the request's correlation id, generating one when the
// header is missing or invalid, and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromHeader(r.Header)
		if !ok {
			id = Generate()
		}
		w.Header().Set(HeaderName, id)
		next.ServeHTTP(w, r.WithContext(With(r.Context(), id)))
	})
}
