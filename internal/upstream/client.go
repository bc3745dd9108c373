// Package upstream is the JSON-over-HTTP client used by tool executors to
// reach third-party APIs. Each request carries its own timeout and response
// bodies are compacted under a size cap. Guard puts whole logical calls
// behind a circuit breaker per host and partition (Xero tenant, Gmail user).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/jsonutil"
	"pkt.systems/ledgerd/internal/svcfields"
	"pkt.systems/ledgerd/internal/version"
)

const (
	// DefaultTimeout bounds a single upstream call.
	DefaultTimeout = 15 * time.Second
	// MinTimeout is the lowest accepted per-call timeout.
	MinTimeout = 10 * time.Second
	// DefaultMaxBodyBytes caps upstream response bodies.
	DefaultMaxBodyBytes int64 = 32 << 20

	// breakerFailures is counted in exhausted calls, not attempts.
	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

// ErrCircuitOpen is returned by Guard without contacting the upstream while
// the partition's breaker is open.
var ErrCircuitOpen = errors.New("upstream temporarily unavailable after repeated failures")

// Config controls a Client.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	HTTPClient   *http.Client
	Clock        clock.Clock
	Logger       pslog.Logger
}

// Client issues upstream requests.
type Client struct {
	http     *http.Client
	timeout  time.Duration
	maxBody  int64
	clock    clock.Clock
	logger   pslog.Logger
	breakers sync.Map // host + partition -> *gobreaker.CircuitBreaker
}

// New returns a Client. Timeout is clamped to [MinTimeout, DefaultTimeout].
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > DefaultTimeout {
		timeout = DefaultTimeout
	}
	if timeout < MinTimeout {
		timeout = MinTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		http:    httpClient,
		timeout: timeout,
		maxBody: maxBody,
		clock:   clock.Or(cfg.Clock),
		logger:  svcfields.WithSubsystem(cfg.Logger, "upstream.client"),
	}
}

// Request describes one upstream call.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Token  string
	Body   any

	// Partition scopes the circuit breaker below the host, typically the
	// Xero tenant or the Gmail user. Empty shares the host-wide breaker.
	Partition string
}

// Do issues req and decodes the JSON response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	body, err := c.Raw(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("upstream: decode response: %w", err)
	}
	return nil
}

// Raw issues req and returns the compacted JSON body.
func (c *Client) Raw(ctx context.Context, req Request) ([]byte, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("upstream: parse url: %w", err)
	}
	if len(req.Query) > 0 {
		q := target.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	return c.roundTrip(ctx, req, target)
}

// Guard runs fn, one logical call including every retry attempt, behind the
// breaker of req's host and partition. An admitted call is never cut short by
// the breaker. Only calls still failing transiently at the end count as
// failures, and rate limiting never does.
func (c *Client) Guard(req Request, fn func() error) error {
	target, err := url.Parse(req.URL)
	if err != nil {
		return fmt.Errorf("upstream: parse url: %w", err)
	}
	cb := c.breaker(breakerKey(target.Host, req.Partition))
	var callErr error
	_, execErr := cb.Execute(func() (interface{}, error) {
		callErr = fn()
		if tripsBreaker(callErr) {
			return nil, callErr
		}
		return nil, nil
	})
	if callErr != nil {
		return callErr
	}
	if execErr != nil {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, execErr)
	}
	return nil
}

func breakerKey(host, partition string) string {
	if partition == "" {
		return host
	}
	return host + "/" + partition
}

func tripsBreaker(err error) bool {
	if err == nil || Classify(err) != Transient {
		return false
	}
	var upErr *Error
	return !errors.As(err, &upErr) || upErr.Status != http.StatusTooManyRequests
}

func (c *Client) roundTrip(ctx context.Context, req Request, target *url.URL) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var reader io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("upstream: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	begin := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s %s: %w", method, target.Host, err)
	}
	defer resp.Body.Close()
	c.logger.Trace("upstream.response",
		"method", method,
		"host", target.Host,
		"path", target.Path,
		"status", resp.StatusCode,
		"elapsed", time.Since(begin),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &Error{
			Status:     resp.StatusCode,
			Message:    errorMessage(raw),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now()),
		}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
		if err != nil {
			return nil, fmt.Errorf("upstream: read body: %w", err)
		}
		if int64(len(raw)) > c.maxBody {
			return nil, fmt.Errorf("upstream: %w: exceeds %d bytes", jsonutil.ErrTooLarge, c.maxBody)
		}
		return raw, nil
	}
	body, err := jsonutil.Compact(resp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s %s: %w", method, target.Host, err)
	}
	return body, nil
}

func (c *Client) breaker(key string) *gobreaker.CircuitBreaker {
	if cb, ok := c.breakers.Load(key); ok {
		return cb.(*gobreaker.CircuitBreaker)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("upstream.breaker.state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	actual, _ := c.breakers.LoadOrStore(key, cb)
	return actual.(*gobreaker.CircuitBreaker)
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "json")
}
