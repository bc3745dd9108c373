// Package blobtest holds the behaviour every blob.Backend must satisfy.
package blobtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pkt.systems/ledgerd/internal/blob"
)

// RunBackendSuite exercises backend. Keys are namespaced by prefix so a
// shared bucket can host several runs.
func RunBackendSuite(t *testing.T, backend blob.Backend, prefix string) {
	t.Helper()
	ctx := context.Background()
	key := func(name string) string { return prefix + "/" + name }

	t.Run("missing-object", func(t *testing.T) {
		if _, err := backend.Get(ctx, key("ghost")); !errors.Is(err, blob.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := backend.Delete(ctx, key("ghost")); !errors.Is(err, blob.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on delete, got %v", err)
		}
	})

	t.Run("round-trip", func(t *testing.T) {
		payload := []byte(`{"rows":[{"n":1},{"n":2}]}`)
		if err := backend.Put(ctx, key("r1"), payload, blob.PutOptions{ContentType: blob.ContentTypeJSON}); err != nil {
			t.Fatalf("put: %v", err)
		}
		obj, err := backend.Get(ctx, key("r1"))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !bytes.Equal(obj.Data, payload) || obj.Size() != int64(len(payload)) {
			t.Fatalf("payload mismatch: %q", obj.Data)
		}
		obj.Data[0] = 'X'
		again, err := backend.Get(ctx, key("r1"))
		if err != nil || !bytes.Equal(again.Data, payload) {
			t.Fatalf("stored bytes changed through returned slice: %q %v", again.Data, err)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		if err := backend.Put(ctx, key("r2"), []byte("one"), blob.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := backend.Put(ctx, key("r2"), []byte("two"), blob.PutOptions{}); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		obj, err := backend.Get(ctx, key("r2"))
		if err != nil || string(obj.Data) != "two" {
			t.Fatalf("expected two, got %q %v", obj.Data, err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := backend.Put(ctx, key("r3"), []byte("x"), blob.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := backend.Delete(ctx, key("r3")); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := backend.Get(ctx, key("r3")); !errors.Is(err, blob.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("invalid-key", func(t *testing.T) {
		for _, bad := range []string{"", "  ", "../escape", key("a/../../b")} {
			if err := backend.Put(ctx, bad, []byte("x"), blob.PutOptions{}); err == nil {
				t.Fatalf("expected error for key %q", bad)
			}
		}
	})

	t.Run("concurrent-readers", func(t *testing.T) {
		payload := bytes.Repeat([]byte("a"), 64<<10)
		if err := backend.Put(ctx, key("shared"), payload, blob.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				obj, err := backend.Get(ctx, key("shared"))
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(obj.Data, payload) {
					errs <- fmt.Errorf("reader saw %d bytes", len(obj.Data))
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatal(err)
		}
	})

	t.Run("cancelled-context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := backend.Put(cctx, key("late"), []byte("x"), blob.PutOptions{}); err == nil {
			t.Fatal("expected error for cancelled context")
		}
	})
}
