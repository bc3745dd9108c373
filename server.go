package ledgerd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/blob"
	"pkt.systems/ledgerd/internal/blob/logging"
	blobretry "pkt.systems/ledgerd/internal/blob/retry"
	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/correlation"
	"pkt.systems/ledgerd/internal/credential"
	"pkt.systems/ledgerd/internal/cursor"
	"pkt.systems/ledgerd/internal/gateway"
	"pkt.systems/ledgerd/internal/gmail"
	"pkt.systems/ledgerd/internal/permission"
	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/retry"
	"pkt.systems/ledgerd/internal/svcfields"
	"pkt.systems/ledgerd/internal/tools"
	"pkt.systems/ledgerd/internal/upstream"
	"pkt.systems/ledgerd/internal/xero"
	"pkt.systems/ledgerd/mcp"
)

// Server wires storage, the tool gateway and the HTTP surface.
type Server struct {
	cfg       Config
	logger    pslog.Logger
	clock     clock.Clock
	resources *resource.Store
	engine    *permission.Engine
	gateway   *gateway.Gateway
	verifier  mcp.Verifier
	httpSrv   *http.Server
	listener  net.Listener
	telemetry *telemetryBundle

	// closers are released in reverse order on shutdown.
	closers []io.Closer

	mu           sync.Mutex
	shutdown     bool
	lastServeErr error
	sweepCancel  context.CancelFunc
	sweepDone    sync.WaitGroup
	readyOnce    sync.Once
	readyCh      chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger          pslog.Logger
	Clock           clock.Clock
	Blob            blob.Backend
	PermissionStore permission.Store
	Credentials     credential.Provider
	Verifier        mcp.Verifier
	HTTPClient      *http.Client
	Listener        net.Listener
	configHooks     []func(*Config)
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithBlobBackend injects a pre-built blob backend in place of cfg.BlobStore.
// It is still wrapped with retry and logging.
func WithBlobBackend(b blob.Backend) Option {
	return func(o *options) {
		o.Blob = b
	}
}

// WithPermissionStore injects a level store in place of cfg.PermissionStore.
func WithPermissionStore(s permission.Store) Option {
	return func(o *options) {
		o.PermissionStore = s
	}
}

// WithCredentials injects the OAuth token provider in place of
// cfg.CredentialsFile.
func WithCredentials(p credential.Provider) Option {
	return func(o *options) {
		o.Credentials = p
	}
}

// WithVerifier overrides bearer token verification.
func WithVerifier(v mcp.Verifier) Option {
	return func(o *options) {
		o.Verifier = v
	}
}

// WithHTTPClient sets the client used for Xero and Gmail requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.HTTPClient = c
	}
}

// WithListener serves on an already bound listener instead of cfg.Listen.
func WithListener(ln net.Listener) Option {
	return func(o *options) {
		o.Listener = ln
	}
}

// WithDevAuth enables dev-mode bearer verification.
func WithDevAuth() Option {
	return func(o *options) {
		o.configHooks = append(o.configHooks, func(cfg *Config) {
			cfg.DevAuth = true
			cfg.TokenFile = ""
		})
	}
}

// NewServer constructs a ledgerd server according to cfg.
// Example:
//
//	cfg := ledgerd.Config{Listen: ":9443", DevAuth: true}
//	srv, err := ledgerd.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (_ *Server, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	for _, hook := range o.configHooks {
		hook(&cfg)
	}
	if o.Verifier != nil && cfg.TokenFile == "" && !cfg.DevAuth {
		// An injected verifier satisfies the bearer requirement.
		cfg.DevAuth = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := svcfields.Ensure(o.Logger)
	clk := clock.Or(o.Clock)
	s := &Server{
		cfg:      cfg,
		logger:   svcfields.WithSubsystem(logger, "server"),
		clock:    clk,
		listener: o.Listener,
		readyCh:  make(chan struct{}),
	}
	defer func() {
		if err != nil {
			_ = s.closeAll()
			if s.telemetry != nil {
				_ = s.telemetry.Shutdown(context.Background())
			}
		}
	}()
	ctx := context.Background()

	s.telemetry, err = setupTelemetry(ctx, telemetryConfig{
		OTLPEndpoint:   cfg.OTLPEndpoint,
		MetricsListen:  cfg.MetricsListen,
		PprofListen:    cfg.PprofListen,
		RuntimeMetrics: cfg.EnableProfilingMetrics,
	}, svcfields.WithSubsystem(logger, "telemetry"))
	if err != nil {
		return nil, err
	}

	backend, kind := o.Blob, "injected"
	if backend == nil {
		backend, kind, err = openBlobBackend(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	blobLogger := svcfields.WithSubsystem(logger, "blob")
	backend = blobretry.Wrap(backend, blobLogger, clk, blobretry.Config{
		MaxAttempts: cfg.BlobRetryMaxAttempts,
		BaseDelay:   cfg.BlobRetryBaseDelay,
		MaxDelay:    cfg.BlobRetryMaxDelay,
		Multiplier:  cfg.BlobRetryMultiplier,
	})
	backend = logging.Wrap(backend, blobLogger, kind)
	index, err := openResourceIndex(ctx, cfg, clk)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	compression, err := blob.ParseCompression(cfg.Compression)
	if err != nil {
		_ = backend.Close()
		_ = index.Close()
		return nil, err
	}
	s.resources, err = resource.New(resource.Config{
		BaseURL:     cfg.BaseURL,
		Index:       index,
		Blob:        backend,
		Compression: compression,
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		_ = backend.Close()
		_ = index.Close()
		return nil, err
	}
	s.closers = append(s.closers, s.resources)
	s.logger.Info("resource.store.configured", "blob", kind, "index", redactURL(cfg.ResourceIndex), "compression", cfg.Compression)

	creds := o.Credentials
	if creds == nil {
		if cfg.CredentialsFile != "" {
			file, err := credential.OpenFile(cfg.CredentialsFile, true, clk, logger)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, file)
			creds = file
		} else {
			s.logger.Warn("credential.none_configured", "impact", "every tool call will report not_connected")
			creds = credential.NewStatic(clk)
		}
	}

	registry, err := s.buildRegistry(cfg, o, creds, logger)
	if err != nil {
		return nil, err
	}

	permStore := o.PermissionStore
	if permStore == nil {
		permStore, err = OpenPermissionStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, permStore)
	}
	s.engine = permission.NewEngine(permStore, registry, logger)

	sink, err := openAuditSink(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, sink)
	s.gateway, err = gateway.New(gateway.Config{
		Registry: registry,
		Engine:   s.engine,
		Audit:    sink,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	s.verifier = o.Verifier
	if s.verifier == nil {
		if cfg.TokenFile != "" {
			tokens, err := mcp.OpenTokenFile(cfg.TokenFile, clk, logger)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, tokens)
			s.verifier = tokens
		} else {
			s.logger.Warn("auth.dev_mode", "impact", "bearer tokens are accepted as user ids")
			s.verifier = mcp.DevVerifier{Clock: clk}
		}
	}
	mcpSrv, err := mcp.New(mcp.Config{
		Gateway:             s.gateway,
		Resources:           s.resources,
		Verifier:            s.verifier,
		ResourceMetadataURL: cfg.ResourceMetadataURL,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}
	mcpHandler, err := mcpSrv.Handler()
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(correlation.Middleware)
	router.Get("/healthz", s.handleHealth)
	router.Method(http.MethodGet, "/resources/{id}", s.requireBearer(http.HandlerFunc(s.handleResource)))
	router.Handle(cfg.MCPPath, mcpHandler)
	router.Handle(cfg.MCPPath+"/*", mcpHandler)

	s.httpSrv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           otelhttp.NewHandler(router, "ledgerd"),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return pslog.ContextWithLogger(context.Background(), logger)
		},
	}
	return s, nil
}

func (s *Server) buildRegistry(cfg Config, o options, creds credential.Provider, logger pslog.Logger) (*tools.Registry, error) {
	client := upstream.New(upstream.Config{
		Timeout:    cfg.UpstreamTimeout,
		HTTPClient: o.HTTPClient,
		Clock:      s.clock,
		Logger:     logger,
	})
	cursors := cursor.NewCodec(s.clock)
	xeroExec, err := xero.New(xero.Config{
		BaseURL:     cfg.XeroBaseURL,
		Client:      client,
		Credentials: creds,
		Resources:   s.resources,
		Cursors:     cursors,
		Retry:       retry.DefaultPolicy,
		Clock:       s.clock,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	gmailExec, err := gmail.New(gmail.Config{
		BaseURL:     cfg.GmailBaseURL,
		Client:      client,
		Credentials: creds,
		Resources:   s.resources,
		Cursors:     cursors,
		Retry:       retry.DefaultPolicy,
		Clock:       s.clock,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	bindings := xeroExec.Bindings()
	maps.Copy(bindings, gmailExec.Bindings())

	catalog := tools.DefaultCatalog()
	if cfg.CatalogFile != "" {
		catalog, err = os.ReadFile(cfg.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("read tool catalog: %w", err)
		}
	}
	registry, err := tools.NewRegistry(catalog, bindings)
	if err != nil {
		return nil, err
	}
	s.logger.Info("tools.registry.loaded", "tools", len(registry.All()), "categories", len(registry.Categories()))
	return registry, nil
}

// Handler returns the HTTP handler so ledgerd can be mounted inside an
// existing server.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Gateway exposes the tool gateway for in-process callers.
func (s *Server) Gateway() *gateway.Gateway {
	return s.gateway
}

// Permissions exposes the permission engine.
func (s *Server) Permissions() *permission.Engine {
	return s.engine
}

// Resources exposes the resource store.
func (s *Server) Resources() *resource.Store {
	return s.resources
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen (%s): %w", s.cfg.Listen, err)
		}
		s.mu.Lock()
		s.listener = ln
		s.mu.Unlock()
	}
	s.signalReady()
	s.logger.Info("listening", "address", ln.Addr().String(), "mcp_path", s.cfg.MCPPath, "base_url", s.cfg.BaseURL)
	s.startSweeper()
	defer s.stopSweeper()
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server. The returned error is nil for clean
// shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	var errs []error
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.stopSweeper()
	if err := s.closeAll(); err != nil {
		errs = append(errs, err)
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			errs = append(errs, err)
		}
		s.telemetry = nil
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("shutdown.close_failed", "error", err)
		return err
	}
	return nil
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the listener is bound or ctx ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

func (s *Server) startSweeper() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweepCancel != nil || s.shutdown {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	s.sweepDone.Add(1)
	go func() {
		defer s.sweepDone.Done()
		s.resources.Run(ctx, s.cfg.SweepInterval)
	}()
}

func (s *Server) stopSweeper() {
	s.mu.Lock()
	cancel := s.sweepCancel
	s.sweepCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.sweepDone.Wait()
	}
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the HTTP server.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// StartServer starts a server in a background goroutine and waits until it
// accepts connections. The returned stop function shuts it down.
// Example:
//
//	srv, stop, err := ledgerd.StartServer(ctx, ledgerd.Config{Listen: "127.0.0.1:0", DevAuth: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stop(context.Background())
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	select {
	case <-srv.readyCh:
	case <-waitCtx.Done():
		_ = srv.Shutdown(context.Background())
		<-errCh
		return nil, nil, waitCtx.Err()
	case err := <-errCh:
		_ = srv.Shutdown(context.Background())
		if err == nil {
			err = errors.New("server stopped before becoming ready")
		}
		return nil, nil, err
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			stopErr = srv.Shutdown(shutdownCtx)
			if err := <-errCh; err != nil && stopErr == nil {
				stopErr = err
			}
		})
		return stopErr
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = stop(context.Background())
		}()
	}
	return srv, stop, nil
}
