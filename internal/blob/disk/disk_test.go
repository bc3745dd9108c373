package disk_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/ledgerd/internal/blob"
	"pkt.systems/ledgerd/internal/blob/blobtest"
	"pkt.systems/ledgerd/internal/blob/disk"
)

func TestDiskBackend(t *testing.T) {
	t.Parallel()

	store, err := disk.New(disk.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	blobtest.RunBackendSuite(t, store, "suite")
}

func TestDiskLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := disk.New(disk.Config{Root: root})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := store.Put(context.Background(), "resources/a/b", []byte("{}"), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(root, "tmp"))
	if err != nil {
		t.Fatalf("read tmp: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty tmp dir, found %d entries", len(entries))
	}
	if _, err := os.Stat(filepath.Join(root, "objects", "resources", "a", "b")); err != nil {
		t.Fatalf("object not at expected path: %v", err)
	}
}

func TestDiskRequiresRoot(t *testing.T) {
	t.Parallel()

	if _, err := disk.New(disk.Config{}); err == nil {
		t.Fatal("expected error without root")
	}
}
