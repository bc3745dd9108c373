package mcp

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/svcfields"
	"pkt.systems/ledgerd/internal/watchfile"
)

// sessionLifetime is the expiration reported for bearer tokens that carry
// none of their own.
const sessionLifetime = time.Hour

// Verifier resolves bearer tokens to users. VerifyToken matches
// mcpauth.TokenVerifier.
type Verifier interface {
	VerifyToken(ctx context.Context, token string, req *http.Request) (*mcpauth.TokenInfo, error)
}

// DevVerifier accepts any non-empty bearer value as the user id. It exists for
// local development only.
type DevVerifier struct {
	Clock clock.Clock
}

// VerifyToken implements Verifier.
func (v DevVerifier) VerifyToken(_ context.Context, token string, _ *http.Request) (*mcpauth.TokenInfo, error) {
	user := strings.TrimSpace(token)
	if user == "" {
		return nil, fmt.Errorf("%w: empty token", mcpauth.ErrInvalidToken)
	}
	return &mcpauth.TokenInfo{
		UserID:     user,
		Expiration: clock.Or(v.Clock).Now().Add(sessionLifetime),
	}, nil
}

// tokenDocument is the token file layout:
//
//	tokens:
//	  - token: 9f3c...
//	    user: user-123
//	    expires_at: 2026-12-31T00:00:00Z
type tokenDocument struct {
	Tokens []tokenEntry `yaml:"tokens"`
}

type tokenEntry struct {
	Token     string    `yaml:"token"`
	User      string    `yaml:"user"`
	Scopes    []string  `yaml:"scopes,omitempty"`
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
}

// TokenFile verifies bearer tokens against a YAML file, reloading it when it
// changes on disk.
type TokenFile struct {
	path    string
	clock   clock.Clock
	logger  pslog.Logger
	tokens  atomic.Pointer[map[string]tokenEntry]
	watcher *watchfile.Watcher
	done    chan struct{}
	once    sync.Once
}

// OpenTokenFile loads path and watches it for changes.
func OpenTokenFile(path string, clk clock.Clock, logger pslog.Logger) (*TokenFile, error) {
	f := &TokenFile{
		path:   path,
		clock:  clock.Or(clk),
		logger: svcfields.WithSubsystem(logger, "mcp.auth.tokens"),
		done:   make(chan struct{}),
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	w, err := watchfile.New(path, f.logger)
	if err != nil {
		return nil, fmt.Errorf("mcp: watch token file: %w", err)
	}
	f.watcher = w
	go func() {
		defer close(f.done)
		for range w.Events() {
			if err := f.Reload(); err != nil {
				f.logger.Warn("mcp.auth.tokens.reload_failed", "path", f.path, "error", err)
			}
		}
	}()
	return f, nil
}

// Reload re-reads the token file, keeping the previous set on failure.
func (f *TokenFile) Reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("mcp: read token file: %w", err)
	}
	var doc tokenDocument
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && len(bytes.TrimSpace(raw)) > 0 {
		return fmt.Errorf("mcp: parse token file %s: %w", f.path, err)
	}
	tokens := make(map[string]tokenEntry, len(doc.Tokens))
	for i, entry := range doc.Tokens {
		entry.Token = strings.TrimSpace(entry.Token)
		entry.User = strings.TrimSpace(entry.User)
		if entry.Token == "" || entry.User == "" {
			return fmt.Errorf("mcp: token file %s: entry %d needs token and user", f.path, i)
		}
		if _, dup := tokens[entry.Token]; dup {
			return fmt.Errorf("mcp: token file %s: entry %d repeats a token", f.path, i)
		}
		tokens[entry.Token] = entry
	}
	f.tokens.Store(&tokens)
	f.logger.Info("mcp.auth.tokens.loaded", "path", f.path, "tokens", len(tokens))
	return nil
}

// VerifyToken implements Verifier.
func (f *TokenFile) VerifyToken(_ context.Context, token string, _ *http.Request) (*mcpauth.TokenInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", mcpauth.ErrInvalidToken)
	}
	entry, ok := (*f.tokens.Load())[token]
	if !ok {
		return nil, fmt.Errorf("%w: token not found", mcpauth.ErrInvalidToken)
	}
	now := f.clock.Now()
	expires := entry.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(sessionLifetime)
	} else if !now.Before(expires) {
		return nil, fmt.Errorf("%w: token expired", mcpauth.ErrInvalidToken)
	}
	return &mcpauth.TokenInfo{
		UserID:     entry.User,
		Scopes:     append([]string(nil), entry.Scopes...),
		Expiration: expires,
	}, nil
}

// Close stops watching the file.
func (f *TokenFile) Close() error {
	var err error
	f.once.Do(func() {
		err = f.watcher.Close()
		<-f.done
	})
	return err
}
