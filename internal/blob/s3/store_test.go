package s3

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/ledgerd/internal/blob"
	"pkt.systems/ledgerd/internal/blob/blobtest"
)

func setupFakeS3(t *testing.T) *Store {
	t.Helper()
	backend := s3mem.New()
	faker := gofakes3.New(backend)
	server := httptest.NewServer(faker.Server())
	t.Cleanup(server.Close)
	bucket := "ledgerd-test"
	if err := backend.CreateBucket(bucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	store, err := New(Config{
		Endpoint:       strings.TrimPrefix(server.URL, "http://"),
		Region:         "us-east-1",
		Bucket:         bucket,
		Prefix:         "tenant-a/",
		Insecure:       true,
		ForcePathStyle: true,
		CustomCreds:    credentials.NewStaticV4("test", "test", ""),
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestStoreLifecycle(t *testing.T) {
	store := setupFakeS3(t)
	ctx := context.Background()

	if err := store.EnsureBucket(ctx); err != nil {
		t.Fatalf("ensure bucket: %v", err)
	}
	payload := []byte(`{"rows":[1,2,3]}`)
	if err := store.Put(ctx, "resources/abc", payload, blob.PutOptions{ContentType: blob.ContentTypeJSON}); err != nil {
		t.Fatalf("put: %v", err)
	}
	obj, err := store.Get(ctx, "resources/abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(obj.Data) != string(payload) {
		t.Fatalf("unexpected payload %q", obj.Data)
	}
	if err := store.Delete(ctx, "resources/abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "resources/abc"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "resources/abc"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStoreBackendSuite(t *testing.T) {
	blobtest.RunBackendSuite(t, setupFakeS3(t), "suite")
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "context deadline", err: context.DeadlineExceeded, expected: true},
		{name: "net timeout", err: fakeTimeoutErr{}, expected: true},
		{name: "dns temporary", err: &net.DNSError{IsTemporary: true}, expected: true},
		{name: "connection reset", err: syscall.ECONNRESET, expected: true},
		{name: "io EOF", err: io.EOF, expected: true},
		{name: "server error", err: minio.ErrorResponse{StatusCode: http.StatusServiceUnavailable}, expected: true},
		{name: "throttled", err: minio.ErrorResponse{StatusCode: http.StatusTooManyRequests}, expected: true},
		{name: "forbidden", err: minio.ErrorResponse{StatusCode: http.StatusForbidden}, expected: false},
		{name: "plain", err: errors.New("boom"), expected: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryable(tc.err); got != tc.expected {
				t.Fatalf("expected %v, got %v for %T", tc.expected, got, tc.err)
			}
		})
	}
}

func TestWrapErrorMarksTransient(t *testing.T) {
	err := wrapError(minio.ErrorResponse{StatusCode: http.StatusBadGateway}, "s3: put object")
	if !blob.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	err = wrapError(minio.ErrorResponse{StatusCode: http.StatusForbidden}, "s3: put object")
	if blob.IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
