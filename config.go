package ledgerd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/ledgerd/internal/blob"
	"pkt.systems/ledgerd/internal/upstream"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":9443"
	// DefaultBaseURL is the public URL resource links are built from.
	DefaultBaseURL = "http://localhost:9443"
	// DefaultMCPPath is where the streamable MCP transport is mounted.
	DefaultMCPPath = "/mcp"
	// DefaultBlobStore keeps large resource payloads in memory.
	DefaultBlobStore = "mem://"
	// DefaultResourceIndex keeps resource metadata in memory.
	DefaultResourceIndex = "mem://"
	// DefaultPermissionStore keeps permission levels in memory.
	DefaultPermissionStore = "mem://"
	// DefaultCompression is applied to blob-tier payloads.
	DefaultCompression = "zstd"
	// DefaultUpstreamTimeout bounds a single Xero or Gmail request.
	DefaultUpstreamTimeout = upstream.DefaultTimeout
	// DefaultSweepInterval controls how often expired resources are evicted.
	DefaultSweepInterval = time.Minute
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultMetricsListen is the Prometheus scrape endpoint (empty disables).
	DefaultMetricsListen = ""
	// DefaultPprofListen is the pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultBlobRetryMaxAttempts bounds retries of transient blob failures.
	DefaultBlobRetryMaxAttempts = 4
	// DefaultBlobRetryBaseDelay is the first blob retry delay.
	DefaultBlobRetryBaseDelay = 50 * time.Millisecond
	// DefaultBlobRetryMaxDelay caps the blob retry delay.
	DefaultBlobRetryMaxDelay = 2 * time.Second
	// DefaultBlobRetryMultiplier grows the blob retry delay per attempt.
	DefaultBlobRetryMultiplier = 2.0
	// DefaultConfigFileName is looked up inside DefaultConfigDir.
	DefaultConfigFileName = "config.yaml"
)

// Config captures the server configuration.
type Config struct {
	Listen  string
	BaseURL string
	MCPPath string

	// BlobStore selects the large-payload backend: mem://, disk:///path,
	// s3://host[:port]/bucket[/prefix] or azure://account/container[/prefix].
	BlobStore   string
	Compression string
	// ResourceIndex selects resource metadata storage: mem:// or redis://.
	ResourceIndex string
	// PermissionStore selects level storage: mem://, postgres:// or sqlite:///path.
	PermissionStore string
	// AuditSink adds an amqp:// publisher next to the log sink. Empty logs only.
	AuditSink string

	S3AccessKeyID     string
	S3SecretAccessKey string
	S3SessionToken    string
	AzureAccountKey   string
	AzureSASToken     string
	AzureEndpoint     string

	BlobRetryMaxAttempts int
	BlobRetryBaseDelay   time.Duration
	BlobRetryMaxDelay    time.Duration
	BlobRetryMultiplier  float64

	// CredentialsFile holds per-user Xero and Gmail OAuth tokens.
	CredentialsFile string
	// CatalogFile overrides the embedded tool catalog.
	CatalogFile string
	// TokenFile maps bearer tokens to user ids.
	TokenFile string
	// DevAuth accepts the bearer value itself as the user id.
	DevAuth bool
	// ResourceMetadataURL is advertised on 401 responses.
	ResourceMetadataURL string

	XeroBaseURL     string
	GmailBaseURL    string
	UpstreamTimeout time.Duration

	SweepInterval   time.Duration
	ShutdownTimeout time.Duration

	OTLPEndpoint           string
	MetricsListen          string
	PprofListen            string
	EnableProfilingMetrics bool
}

// Validate fills defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: base url %q must be an absolute http(s) URL", c.BaseURL)
	}
	if c.MCPPath == "" {
		c.MCPPath = DefaultMCPPath
	}
	if !strings.HasPrefix(c.MCPPath, "/") {
		c.MCPPath = "/" + c.MCPPath
	}
	if c.MCPPath == "/" || strings.HasPrefix(c.MCPPath, "/resources") || c.MCPPath == "/healthz" {
		return fmt.Errorf("config: mcp path %q collides with a built-in route", c.MCPPath)
	}
	if c.BlobStore == "" {
		c.BlobStore = DefaultBlobStore
	}
	if err := checkScheme("blob store", c.BlobStore, "mem", "memory", "disk", "s3", "azure"); err != nil {
		return err
	}
	if c.Compression == "" {
		c.Compression = DefaultCompression
	}
	if _, err := blob.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ResourceIndex == "" {
		c.ResourceIndex = DefaultResourceIndex
	}
	if err := checkScheme("resource index", c.ResourceIndex, "mem", "memory", "redis", "rediss"); err != nil {
		return err
	}
	if c.PermissionStore == "" {
		c.PermissionStore = DefaultPermissionStore
	}
	if err := checkScheme("permission store", c.PermissionStore, "mem", "memory", "postgres", "postgresql", "sqlite"); err != nil {
		return err
	}
	if c.AuditSink != "" {
		if err := checkScheme("audit sink", c.AuditSink, "amqp", "amqps"); err != nil {
			return err
		}
	}
	if c.BlobRetryMaxAttempts <= 0 {
		c.BlobRetryMaxAttempts = DefaultBlobRetryMaxAttempts
	}
	if c.BlobRetryBaseDelay <= 0 {
		c.BlobRetryBaseDelay = DefaultBlobRetryBaseDelay
	}
	if c.BlobRetryMaxDelay <= 0 {
		c.BlobRetryMaxDelay = DefaultBlobRetryMaxDelay
	}
	if c.BlobRetryMaxDelay < c.BlobRetryBaseDelay {
		return fmt.Errorf("config: blob retry max delay %s is below base delay %s", c.BlobRetryMaxDelay, c.BlobRetryBaseDelay)
	}
	if c.BlobRetryMultiplier < 1 {
		c.BlobRetryMultiplier = DefaultBlobRetryMultiplier
	}
	if c.TokenFile != "" && c.DevAuth {
		return fmt.Errorf("config: token file and dev auth are mutually exclusive")
	}
	if c.TokenFile == "" && !c.DevAuth {
		return fmt.Errorf("config: bearer verification requires a token file or dev auth")
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if c.UpstreamTimeout < upstream.MinTimeout {
		return fmt.Errorf("config: upstream timeout %s is below the %s minimum", c.UpstreamTimeout, upstream.MinTimeout)
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("config: sweep interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.EnableProfilingMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: profiling metrics require a metrics listen address")
	}
	return nil
}

func checkScheme(what, raw string, allowed ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: parse %s %q: %w", what, raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	for _, s := range allowed {
		if scheme == s {
			return nil
		}
	}
	return fmt.Errorf("config: %s scheme %q not supported (expected %s)", what, u.Scheme, strings.Join(allowed, "|"))
}

// DefaultConfigDir returns the default configuration directory ($HOME/.ledgerd).
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("LEDGERD_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ledgerd"), nil
}
