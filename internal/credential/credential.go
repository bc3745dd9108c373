// Package credential resolves per-user OAuth tokens for upstream providers.
// Tokens are obtained and refreshed elsewhere; ledgerd only reads them.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/ledgerd/internal/clock"
)

// Provider names.
const (
	ProviderXero  = "xero"
	ProviderGmail = "gmail"
)

// ErrNotConnected is returned when the user has no usable token for a
// provider.
var ErrNotConnected = errors.New("credential: provider not connected")

// Token is an OAuth access token plus the context executors need.
type Token struct {
	AccessToken  string    `yaml:"access_token" json:"accessToken"`
	RefreshToken string    `yaml:"refresh_token,omitempty" json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `yaml:"expires_at,omitempty" json:"expiresAt,omitempty"`
	Scopes       []string  `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	TenantID     string    `yaml:"tenant_id,omitempty" json:"tenantId,omitempty"`
}

// Usable reports whether the token can be presented at now. A zero
// ExpiresAt never expires.
func (t Token) Usable(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt)
}

// Provider returns a user's token for an upstream provider.
type Provider interface {
	Token(ctx context.Context, userID, provider string) (Token, error)
}

// NotConnectedError names the missing connection.
type NotConnectedError struct {
	UserID   string
	Provider string
	Expired  bool
}

func (e *NotConnectedError) Error() string {
	if e.Expired {
		return fmt.Sprintf("%s token expired for user %s", e.Provider, e.UserID)
	}
	return fmt.Sprintf("%s is not connected for user %s", e.Provider, e.UserID)
}

func (e *NotConnectedError) Unwrap() error { return ErrNotConnected }

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// Static is a map-backed provider.
type Static struct {
	mu     sync.RWMutex
	tokens map[string]map[string]Token
	clock  clock.Clock
}

// NewStatic returns an empty Static provider.
func NewStatic(clk clock.Clock) *Static {
	return &Static{tokens: make(map[string]map[string]Token), clock: clock.Or(clk)}
}

// Set stores tok for user and provider.
func (s *Static) Set(userID, provider string, tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byProvider := s.tokens[userID]
	if byProvider == nil {
		byProvider = make(map[string]Token)
		s.tokens[userID] = byProvider
	}
	byProvider[normalizeProvider(provider)] = tok
}

// Token implements Provider.
func (s *Static) Token(ctx context.Context, userID, provider string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	s.mu.RLock()
	tok, ok := s.tokens[userID][normalizeProvider(provider)]
	s.mu.RUnlock()
	return resolve(tok, ok, userID, provider, s.clock.Now())
}

func resolve(tok Token, ok bool, userID, provider string, now time.Time) (Token, error) {
	if !ok || tok.AccessToken == "" {
		return Token{}, &NotConnectedError{UserID: userID, Provider: provider}
	}
	if !tok.Usable(now) {
		return Token{}, &NotConnectedError{UserID: userID, Provider: provider, Expired: true}
	}
	tok.Scopes = append([]string(nil), tok.Scopes...)
	return tok, nil
}
