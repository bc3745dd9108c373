package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"pkt.systems/ledgerd/internal/permission"
	"pkt.systems/ledgerd/internal/permission/permissiontest"
)

func TestStoreSuite(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "permissions.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	permissiontest.RunStoreSuite(t, store, "")
}

func TestLevelsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Set(context.Background(), "alice", permission.ApproveUpdate); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	level, ok, err := reopened.Get(context.Background(), "alice")
	if err != nil || !ok || level != permission.ApproveUpdate {
		t.Fatalf("expected persisted ApproveUpdate, got %v %v %v", level, ok, err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
