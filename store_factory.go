package ledgerd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	minioCredentials "github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/audit"
	"pkt.systems/ledgerd/internal/blob"
	azurestore "pkt.systems/ledgerd/internal/blob/azure"
	"pkt.systems/ledgerd/internal/blob/disk"
	"pkt.systems/ledgerd/internal/blob/memory"
	"pkt.systems/ledgerd/internal/blob/s3"
	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/permission"
	"pkt.systems/ledgerd/internal/permission/pgstore"
	"pkt.systems/ledgerd/internal/permission/sqlitestore"
	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/resource/memindex"
	"pkt.systems/ledgerd/internal/resource/redisindex"
)

const connectTimeout = 10 * time.Second

// CredentialSummary describes which credentials were selected for object storage.
type CredentialSummary struct {
	AccessKey string
	HasSecret bool
	Source    string
}

// openBlobBackend returns the raw backend for cfg.BlobStore and a short kind
// label used in logs and spans.
func openBlobBackend(ctx context.Context, cfg Config) (blob.Backend, string, error) {
	u, err := url.Parse(cfg.BlobStore)
	if err != nil {
		return nil, "", fmt.Errorf("parse blob store URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "memory", "mem", "":
		return memory.New(), "memory", nil
	case "disk":
		diskCfg, err := BuildDiskConfig(cfg)
		if err != nil {
			return nil, "", err
		}
		backend, err := disk.New(diskCfg)
		if err != nil {
			return nil, "", err
		}
		return backend, "disk", nil
	case "s3":
		s3cfg, _, err := BuildS3Config(cfg)
		if err != nil {
			return nil, "", err
		}
		backend, err := s3.New(s3cfg)
		if err != nil {
			return nil, "", err
		}
		readyCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := backend.EnsureBucket(readyCtx); err != nil {
			_ = backend.Close()
			return nil, "", fmt.Errorf("object store connectivity check failed: %w", err)
		}
		return backend, "s3", nil
	case "azure":
		azcfg, err := BuildAzureConfig(cfg)
		if err != nil {
			return nil, "", err
		}
		readyCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		backend, err := azurestore.New(readyCtx, azcfg)
		if err != nil {
			return nil, "", err
		}
		return backend, "azure", nil
	default:
		return nil, "", fmt.Errorf("blob store scheme %q not supported", u.Scheme)
	}
}

// BuildDiskConfig parses disk:// URLs into a disk.Config.
func BuildDiskConfig(cfg Config) (disk.Config, error) {
	u, err := url.Parse(cfg.BlobStore)
	if err != nil {
		return disk.Config{}, fmt.Errorf("parse blob store URL: %w", err)
	}
	if u.Scheme != "disk" {
		return disk.Config{}, fmt.Errorf("blob store scheme %q not supported", u.Scheme)
	}
	root := localPath(u)
	if root == "" {
		return disk.Config{}, fmt.Errorf("disk store missing path (expected disk:///path)")
	}
	return disk.Config{Root: root}, nil
}

// BuildS3Config parses s3://host[:port]/bucket[/prefix] URLs.
func BuildS3Config(cfg Config) (s3.Config, CredentialSummary, error) {
	u, err := url.Parse(cfg.BlobStore)
	if err != nil {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("parse blob store URL: %w", err)
	}
	if u.Scheme != "s3" {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("blob store scheme %q not supported", u.Scheme)
	}
	endpoint := strings.TrimSpace(u.Host)
	if endpoint == "" {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("s3 store missing host (expected s3://host[:port]/bucket[/prefix])")
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("s3 store missing bucket (expected s3://host[:port]/bucket[/prefix])")
	}
	bucket, prefix, _ := strings.Cut(path, "/")
	query := u.Query()
	secure := true
	if v := query.Get("insecure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil && ok {
			secure = false
		}
	}
	if v := query.Get("tls"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			secure = ok
		}
	}
	forcePath := false
	if v := query.Get("path-style"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			forcePath = ok
		}
	}
	cred, summary, err := resolveS3Credentials(cfg)
	if err != nil {
		return s3.Config{}, summary, err
	}
	return s3.Config{
		Endpoint:       endpoint,
		Region:         query.Get("region"),
		Bucket:         bucket,
		Prefix:         strings.Trim(prefix, "/"),
		Insecure:       !secure,
		ForcePathStyle: forcePath,
		CustomCreds:    cred,
	}, summary, nil
}

func resolveS3Credentials(cfg Config) (*minioCredentials.Credentials, CredentialSummary, error) {
	accessKey := strings.TrimSpace(cfg.S3AccessKeyID)
	secretKey := cfg.S3SecretAccessKey
	sessionToken := cfg.S3SessionToken
	source := "config"
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		accessKey = strings.TrimSpace(os.Getenv("LEDGERD_S3_ACCESS_KEY_ID"))
		secretKey = os.Getenv("LEDGERD_S3_SECRET_ACCESS_KEY")
		sessionToken = os.Getenv("LEDGERD_S3_SESSION_TOKEN")
		source = "env:LEDGERD_S3_ACCESS_KEY_ID"
	}
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		accessKey = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		sessionToken = os.Getenv("AWS_SESSION_TOKEN")
		source = "env:AWS_ACCESS_KEY_ID"
	}
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		return minioCredentials.NewStaticV4("", "", ""), CredentialSummary{Source: "anonymous"}, nil
	}
	summary := CredentialSummary{AccessKey: accessKey, HasSecret: secretKey != "", Source: source}
	if accessKey == "" || secretKey == "" {
		return nil, summary, fmt.Errorf("s3 credentials incomplete (need access key and secret key)")
	}
	return minioCredentials.NewStaticV4(accessKey, secretKey, sessionToken), summary, nil
}

// BuildAzureConfig parses azure://account/container[/prefix] URLs.
func BuildAzureConfig(cfg Config) (azurestore.Config, error) {
	u, err := url.Parse(cfg.BlobStore)
	if err != nil {
		return azurestore.Config{}, fmt.Errorf("parse blob store URL: %w", err)
	}
	if u.Scheme != "azure" {
		return azurestore.Config{}, fmt.Errorf("blob store scheme %q not supported", u.Scheme)
	}
	account := strings.TrimSpace(u.Host)
	if account == "" {
		account = firstEnv("AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_ACCOUNT_NAME")
	}
	if account == "" {
		return azurestore.Config{}, fmt.Errorf("azure: account name required (set azure://account/... or AZURE_STORAGE_ACCOUNT)")
	}
	path := strings.Trim(u.Path, "/")
	container, prefix, _ := strings.Cut(path, "/")
	if container == "" {
		return azurestore.Config{}, fmt.Errorf("azure store missing container (expected azure://account/container[/prefix])")
	}
	query := u.Query()
	endpoint := strings.TrimSpace(cfg.AzureEndpoint)
	if v := strings.TrimSpace(query.Get("endpoint")); v != "" {
		endpoint = v
	}
	accountKey := strings.TrimSpace(cfg.AzureAccountKey)
	if accountKey == "" {
		accountKey = firstEnv("LEDGERD_AZURE_ACCOUNT_KEY", "AZURE_STORAGE_ACCOUNT_KEY", "AZURE_STORAGE_KEY")
	}
	sas := strings.TrimSpace(cfg.AzureSASToken)
	if v := strings.TrimSpace(query.Get("sas")); v != "" {
		sas = v
	}
	if sas == "" {
		sas = firstEnv("LEDGERD_AZURE_SAS_TOKEN", "AZURE_STORAGE_SAS_TOKEN")
	}
	return azurestore.Config{
		Account:    account,
		AccountKey: accountKey,
		Endpoint:   endpoint,
		SASToken:   sas,
		Container:  container,
		Prefix:     strings.Trim(prefix, "/"),
	}, nil
}

func openResourceIndex(ctx context.Context, cfg Config, clk clock.Clock) (resource.Index, error) {
	u, err := url.Parse(cfg.ResourceIndex)
	if err != nil {
		return nil, fmt.Errorf("parse resource index URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "memory", "mem", "":
		return memindex.New(), nil
	case "redis", "rediss":
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		index, err := redisindex.New(connectCtx, redisindex.Config{URL: cfg.ResourceIndex, Clock: clk})
		if err != nil {
			return nil, err
		}
		return index, nil
	default:
		return nil, fmt.Errorf("resource index scheme %q not supported", u.Scheme)
	}
}

// OpenPermissionStore opens the level store selected by cfg.PermissionStore.
func OpenPermissionStore(ctx context.Context, cfg Config) (permission.Store, error) {
	u, err := url.Parse(cfg.PermissionStore)
	if err != nil {
		return nil, fmt.Errorf("parse permission store URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "memory", "mem", "":
		return permission.NewMemoryStore(), nil
	case "postgres", "postgresql":
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		store, err := pgstore.Open(connectCtx, cfg.PermissionStore)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		path := localPath(u)
		if path == "" {
			return nil, fmt.Errorf("sqlite store missing path (expected sqlite:///path/to/db)")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("sqlite store: prepare directory: %w", err)
		}
		store, err := sqlitestore.Open(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("permission store scheme %q not supported", u.Scheme)
	}
}

// openAuditSink always logs; an amqp:// AuditSink adds a broker publisher.
func openAuditSink(cfg Config, logger pslog.Logger) (audit.Sink, error) {
	logSink := audit.NewLogSink(logger)
	if strings.TrimSpace(cfg.AuditSink) == "" {
		return logSink, nil
	}
	u, err := url.Parse(cfg.AuditSink)
	if err != nil {
		return nil, fmt.Errorf("parse audit sink URL: %w", err)
	}
	exchange := u.Query().Get("exchange")
	q := u.Query()
	q.Del("exchange")
	u.RawQuery = q.Encode()
	sink, err := audit.DialAMQP(audit.AMQPConfig{URL: u.String(), Exchange: exchange, Logger: logger})
	if err != nil {
		return nil, err
	}
	return audit.Multi{logSink, sink}, nil
}

// localPath accepts both scheme:///abs/path and scheme://relative/path.
func localPath(u *url.URL) string {
	if u.Host != "" {
		return filepath.Clean(filepath.Join(u.Host, u.Path))
	}
	if u.Path == "" {
		return ""
	}
	return filepath.Clean(u.Path)
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return ""
}
