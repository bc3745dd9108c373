package permission_test

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/ledgerd/internal/permission"
	"pkt.systems/ledgerd/internal/permission/permissiontest"
)

type requirements map[string]permission.Level

func (r requirements) RequiredLevel(tool string) (permission.Level, bool) {
	level, ok := r[tool]
	return level, ok
}

type def struct {
	name  string
	level permission.Level
}

func (d def) RequiredLevel() permission.Level { return d.level }

var catalog = requirements{
	"list_invoices":        permission.ReadOnly,
	"create_draft_invoice": permission.CreateDraft,
	"approve_invoice":      permission.ApproveUpdate,
	"void_invoice":         permission.FullAccess,
}

func TestCheckPermissionMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := permission.NewMemoryStore()
	engine := permission.NewEngine(store, catalog, nil)
	for _, userLevel := range permission.Levels() {
		if err := engine.SetLevel(ctx, "u", userLevel); err != nil {
			t.Fatalf("set: %v", err)
		}
		for tool, required := range catalog {
			decision, err := engine.CheckPermission(ctx, "u", tool)
			if err != nil {
				t.Fatalf("check %s: %v", tool, err)
			}
			if want := userLevel >= required; decision.Allowed != want {
				t.Fatalf("user %v tool %s (requires %v): allowed=%v want %v", userLevel, tool, required, decision.Allowed, want)
			}
			if decision.Required != required || decision.Current != userLevel {
				t.Fatalf("decision levels wrong: %+v", decision)
			}
		}
	}
}

func TestDefaultDeny(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := permission.NewMemoryStore()
	engine := permission.NewEngine(store, catalog, nil)

	decision, err := engine.CheckPermission(ctx, "newcomer", "create_draft_invoice")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Allowed {
		t.Fatal("user without record must not create drafts")
	}
	if decision.Reason != "create_draft_invoice requires Create Drafts permission or higher" {
		t.Fatalf("unexpected reason %q", decision.Reason)
	}
	level, ok, _ := store.Get(ctx, "newcomer")
	if !ok || level != permission.ReadOnly {
		t.Fatalf("default record not created: %v %v", level, ok)
	}
	allowed, err := engine.CheckPermission(ctx, "newcomer", "list_invoices")
	if err != nil || !allowed.Allowed {
		t.Fatalf("read only tool must be allowed: %+v %v", allowed, err)
	}
}

func TestUnknownToolDenied(t *testing.T) {
	t.Parallel()

	engine := permission.NewEngine(permission.NewMemoryStore(), catalog, nil)
	decision, err := engine.CheckPermission(context.Background(), "u", "drop_tables")
	if !errors.Is(err, permission.ErrUnknownTool) {
		t.Fatalf("expected unknown tool, got %v", err)
	}
	if decision.Allowed {
		t.Fatal("unknown tool must be denied")
	}
}

type brokenStore struct{ permission.MemoryStore }

func (*brokenStore) Get(context.Context, string) (permission.Level, bool, error) {
	return permission.FullAccess, true, errors.New("db down")
}

func TestStoreFailureFailsClosed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := permission.NewEngine(&brokenStore{}, catalog, nil)
	decision, err := engine.CheckPermission(ctx, "u", "list_invoices")
	if err == nil {
		t.Fatal("expected store error")
	}
	if decision.Allowed {
		t.Fatal("store failure must deny")
	}
	defs := []def{{"list_invoices", permission.ReadOnly}, {"void_invoice", permission.FullAccess}}
	visible := permission.VisibleTools(ctx, engine, "u", defs)
	if len(visible) != 1 || visible[0].name != "list_invoices" {
		t.Fatalf("store failure must fall back to ReadOnly visibility: %+v", visible)
	}
}

func TestVisibleToolsPerUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := permission.NewEngine(permission.NewMemoryStore(), catalog, nil)
	defs := []def{
		{"list_invoices", permission.ReadOnly},
		{"create_draft_invoice", permission.CreateDraft},
		{"approve_invoice", permission.ApproveUpdate},
		{"void_invoice", permission.FullAccess},
	}
	if err := engine.SetLevel(ctx, "bob", permission.ApproveUpdate); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := permission.VisibleTools(ctx, engine, "alice", defs); len(got) != 1 {
		t.Fatalf("alice should see 1 tool, got %d", len(got))
	}
	if got := permission.VisibleTools(ctx, engine, "bob", defs); len(got) != 3 {
		t.Fatalf("bob should see 3 tools, got %d", len(got))
	}
	if err := engine.SetLevel(ctx, "bob", permission.ReadOnly); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := permission.VisibleTools(ctx, engine, "bob", defs); len(got) != 1 {
		t.Fatalf("downgrade must apply immediately, got %d", len(got))
	}
	if got := permission.VisibleTools(ctx, engine, "alice", defs); len(got) != 1 {
		t.Fatalf("alice affected by bob's change: %d", len(got))
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]permission.Level{
		"read_only":        permission.ReadOnly,
		"Read Only":        permission.ReadOnly,
		"create-drafts":    permission.CreateDraft,
		"Approve & Update": permission.ApproveUpdate,
		"full_access":      permission.FullAccess,
		"3":                permission.FullAccess,
	}
	for raw, want := range cases {
		got, err := permission.ParseLevel(raw)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %v %v want %v", raw, got, err, want)
		}
	}
	for _, bad := range []string{"", "admin", "4", "-1"} {
		if _, err := permission.ParseLevel(bad); !errors.Is(err, permission.ErrInvalidLevel) {
			t.Fatalf("parse %q: expected invalid level, got %v", bad, err)
		}
	}
}

func TestMemoryStoreSuite(t *testing.T) {
	permissiontest.RunStoreSuite(t, permission.NewMemoryStore(), "")
}
