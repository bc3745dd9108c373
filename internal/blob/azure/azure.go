// Package azure implements blob.Backend on Azure Blob Storage.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	ledgerblob "pkt.systems/ledgerd/internal/blob"
)

const containerTimeout = 30 * time.Second

// Config controls connectivity to Azure Blob Storage. Either AccountKey or
// SASToken must be set.
type Config struct {
	Account    string
	AccountKey string
	Endpoint   string
	SASToken   string
	Container  string
	Prefix     string
}

// Store keeps resource payloads as block blobs under Prefix.
type Store struct {
	client    *azblob.Client
	container string
	prefix    string
}

// New connects to the account and creates the container when missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("azure: account is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure: container is required")
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	createCtx, cancel := context.WithTimeout(ctx, containerTimeout)
	defer cancel()
	if _, err := client.CreateContainer(createCtx, cfg.Container, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, wrapError(err, "azure: create container")
	}
	return &Store{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// newClient picks SAS over shared key. SDK retries are off; the blob retry
// wrapper owns backoff for every backend.
func newClient(cfg Config) (*azblob.Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://" + cfg.Account + ".blob.core.windows.net"
	}
	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry:     policy.RetryOptions{MaxRetries: -1},
			Transport: &http.Client{Transport: pooledTransport()},
		},
	}
	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.SASToken != "":
		signed, serr := appendSASToken(endpoint, cfg.SASToken)
		if serr != nil {
			return nil, serr
		}
		client, err = azblob.NewClientWithNoCredential(signed, opts)
	case cfg.AccountKey != "":
		cred, cerr := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if cerr != nil {
			return nil, fmt.Errorf("azure: shared key: %w", cerr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, opts)
	default:
		return nil, fmt.Errorf("azure: account key or SAS token required")
	}
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}
	return client, nil
}

func pooledTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	clone.MaxIdleConnsPerHost = 16
	return clone
}

func appendSASToken(endpoint, sas string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("azure: parse endpoint: %w", err)
	}
	sas = strings.TrimPrefix(sas, "?")
	if u.RawQuery == "" {
		u.RawQuery = sas
	} else {
		u.RawQuery += "&" + sas
	}
	return u.String(), nil
}

func (s *Store) blobName(key string) (string, error) {
	clean, err := ledgerblob.CleanKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return clean, nil
	}
	return path.Join(s.prefix, clean), nil
}

// Put writes data as a single block blob, replacing any previous payload.
func (s *Store) Put(ctx context.Context, key string, data []byte, opts ledgerblob.PutOptions) error {
	name, err := s.blobName(key)
	if err != nil {
		return err
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.UploadBuffer(ctx, s.container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
	})
	if err != nil {
		return wrapError(err, "azure: upload "+name)
	}
	return nil
}

// Get reads the whole blob stored under key.
func (s *Store) Get(ctx context.Context, key string) (ledgerblob.Object, error) {
	name, err := s.blobName(key)
	if err != nil {
		return ledgerblob.Object{}, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		if isNotFound(err) {
			return ledgerblob.Object{}, ledgerblob.ErrNotFound
		}
		return ledgerblob.Object{}, wrapError(err, "azure: download "+name)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ledgerblob.Object{}, ledgerblob.NewTransientError(fmt.Errorf("azure: read %s: %w", name, err))
	}
	obj := ledgerblob.Object{Data: data}
	if resp.ContentType != nil {
		obj.ContentType = *resp.ContentType
	}
	if resp.LastModified != nil {
		obj.ModTime = resp.LastModified.UTC()
	}
	return obj, nil
}

// Delete removes the blob and its snapshots.
func (s *Store) Delete(ctx context.Context, key string) error {
	name, err := s.blobName(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteBlob(ctx, s.container, name, &azblob.DeleteBlobOptions{
		DeleteSnapshots: to.Ptr(azblob.DeleteSnapshotsOptionTypeInclude),
	})
	if err != nil {
		if isNotFound(err) {
			return ledgerblob.ErrNotFound
		}
		return wrapError(err, "azure: delete "+name)
	}
	return nil
}

// Close satisfies blob.Backend.
func (s *Store) Close() error { return nil }

func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// wrapError marks throttling, 5xx and deadline failures transient.
func wrapError(err error, msg string) error {
	wrapped := fmt.Errorf("%s: %w", msg, err)
	var respErr *azcore.ResponseError
	switch {
	case errors.As(err, &respErr):
		if respErr.StatusCode == http.StatusTooManyRequests || respErr.StatusCode >= http.StatusInternalServerError {
			return ledgerblob.NewTransientError(wrapped)
		}
	case errors.Is(err, context.DeadlineExceeded):
		return ledgerblob.NewTransientError(wrapped)
	}
	return wrapped
}
