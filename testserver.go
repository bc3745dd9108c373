package ledgerd

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/credential"
)

// TestServer wraps a running Server bound to a loopback port.
type TestServer struct {
	Server  *Server
	BaseURL string
	Config  Config

	stop func(context.Context) error
}

type testServerOptions struct {
	mutators     []func(*Config)
	logger       pslog.Logger
	testTB       testing.TB
	serverOpts   []Option
	startTimeout time.Duration
}

// TestServerOption customises NewTestServer.
type TestServerOption func(*testServerOptions)

// WithTestConfigFunc mutates the test configuration before start.
func WithTestConfigFunc(fn func(*Config)) TestServerOption {
	return func(o *testServerOptions) {
		if fn != nil {
			o.mutators = append(o.mutators, fn)
		}
	}
}

// WithTestLogger sets the server logger.
func WithTestLogger(logger pslog.Logger) TestServerOption {
	return func(o *testServerOptions) {
		o.logger = logger
	}
}

// WithTestLoggerFromTB routes server logs through t.Log.
func WithTestLoggerFromTB(t testing.TB) TestServerOption {
	return func(o *testServerOptions) {
		o.testTB = t
	}
}

// WithTestCredentials injects OAuth tokens for upstream calls.
func WithTestCredentials(p credential.Provider) TestServerOption {
	return func(o *testServerOptions) {
		o.serverOpts = append(o.serverOpts, WithCredentials(p))
	}
}

// WithTestServerOptions forwards raw server options.
func WithTestServerOptions(opts ...Option) TestServerOption {
	return func(o *testServerOptions) {
		o.serverOpts = append(o.serverOpts, opts...)
	}
}

type testingWriter struct {
	t      testing.TB
	mu     sync.Mutex
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		func(entry string) {
			defer func() {
				if r := recover(); r != nil {
					if strings.Contains(fmt.Sprint(r), "Log in goroutine after") {
						return
					}
					panic(r)
				}
			}()
			w.t.Log(entry)
		}(string(line))
	}
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// NewTestingLogger creates a structured logger that writes through testing.TB.
func NewTestingLogger(t testing.TB) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	return pslog.NewWithOptions(context.Background(), writer, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.DebugLevel,
	}).With("app", "testserver")
}

// NewTestServer starts a dev-auth server on a loopback port. BaseURL is the
// bound address so resource links resolve against the test server.
func NewTestServer(ctx context.Context, opts ...TestServerOption) (*TestServer, error) {
	options := testServerOptions{startTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&options)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("test server listen: %w", err)
	}
	baseURL := "http://" + ln.Addr().String()
	cfg := Config{
		Listen:  ln.Addr().String(),
		BaseURL: baseURL,
		DevAuth: true,
	}
	for _, mut := range options.mutators {
		mut(&cfg)
	}

	logger := options.logger
	if logger == nil {
		if options.testTB != nil {
			logger = NewTestingLogger(options.testTB)
		} else {
			logger = pslog.NoopLogger()
		}
	}
	startOpts := append([]Option{WithLogger(logger), WithListener(ln)}, options.serverOpts...)

	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(context.Background())
	type startResult struct {
		srv  *Server
		stop func(context.Context) error
		err  error
	}
	resultCh := make(chan startResult, 1)
	go func() {
		srv, stop, err := StartServer(serverCtx, cfg, startOpts...)
		resultCh <- startResult{srv: srv, stop: stop, err: err}
	}()
	var res startResult
	select {
	case res = <-resultCh:
	case <-time.After(options.startTimeout):
		cancel()
		res = <-resultCh
		if res.err == nil {
			res.err = fmt.Errorf("test server start timeout after %s", options.startTimeout)
		}
	case <-ctx.Done():
		cancel()
		res = <-resultCh
		if res.err == nil {
			res.err = ctx.Err()
		}
	}
	if res.err != nil {
		cancel()
		_ = ln.Close()
		return nil, res.err
	}
	srv := res.srv
	stop := func(stopCtx context.Context) error {
		err := res.stop(stopCtx)
		cancel()
		return err
	}
	return &TestServer{
		Server:  srv,
		BaseURL: baseURL,
		Config:  srv.cfg,
		stop:    stop,
	}, nil
}

// StartTestServer fails the test on error and registers cleanup.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()
	ts, err := NewTestServer(context.Background(), opts...)
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	t.Cleanup(func() {
		if err := ts.Stop(context.Background()); err != nil {
			t.Errorf("stop test server: %v", err)
		}
	})
	return ts
}

// Stop shuts the server down.
func (ts *TestServer) Stop(ctx context.Context) error {
	if ts == nil || ts.stop == nil {
		return nil
	}
	return ts.stop(ctx)
}

// MCPEndpoint is the streamable MCP URL of the server.
func (ts *TestServer) MCPEndpoint() string {
	return ts.BaseURL + ts.Config.MCPPath
}

// HTTPClient returns a client that sends token as the bearer credential.
func (ts *TestServer) HTTPClient(token string) *http.Client {
	return &http.Client{Transport: bearerTransport{token: token, next: http.DefaultTransport}}
}

// Connect opens an MCP client session authenticated as token. Under dev auth
// the token is the user id.
func (ts *TestServer) Connect(ctx context.Context, token string) (*mcpsdk.ClientSession, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "ledgerd-test", Version: "0.0.0"}, nil)
	return client.Connect(ctx, &mcpsdk.StreamableClientTransport{
		Endpoint:   ts.MCPEndpoint(),
		HTTPClient: ts.HTTPClient(token),
		MaxRetries: -1,
	}, nil)
}

type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (b bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if b.token != "" {
		clone.Header.Set("Authorization", "Bearer "+b.token)
	}
	return b.next.RoundTrip(clone)
}
