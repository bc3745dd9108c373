// Package permissiontest holds the behaviour every permission.Store must
// satisfy.
package permissiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pkt.systems/ledgerd/internal/permission"
)

// RunStoreSuite exercises store. Users are namespaced by prefix so a shared
// database can host several runs.
func RunStoreSuite(t *testing.T, store permission.Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	user := func(name string) string { return prefix + name }

	t.Run("missing-user", func(t *testing.T) {
		level, ok, err := store.Get(ctx, user("ghost"))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if ok || level != permission.ReadOnly {
			t.Fatalf("expected no record, got %v %v", level, ok)
		}
	})

	t.Run("ensure-default", func(t *testing.T) {
		level, err := store.EnsureDefault(ctx, user("fresh"))
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if level != permission.ReadOnly {
			t.Fatalf("expected ReadOnly default, got %v", level)
		}
		_, ok, err := store.Get(ctx, user("fresh"))
		if err != nil || !ok {
			t.Fatalf("default record missing: %v %v", ok, err)
		}
	})

	t.Run("ensure-keeps-existing", func(t *testing.T) {
		if err := store.Set(ctx, user("admin"), permission.FullAccess); err != nil {
			t.Fatalf("set: %v", err)
		}
		level, err := store.EnsureDefault(ctx, user("admin"))
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if level != permission.FullAccess {
			t.Fatalf("ensure overwrote existing level: %v", level)
		}
	})

	t.Run("set-up-and-down", func(t *testing.T) {
		for _, want := range []permission.Level{permission.ApproveUpdate, permission.CreateDraft, permission.ReadOnly, permission.FullAccess} {
			if err := store.Set(ctx, user("flip"), want); err != nil {
				t.Fatalf("set %v: %v", want, err)
			}
			got, ok, err := store.Get(ctx, user("flip"))
			if err != nil || !ok || got != want {
				t.Fatalf("expected %v, got %v %v %v", want, got, ok, err)
			}
		}
	})

	t.Run("reject-invalid", func(t *testing.T) {
		if err := store.Set(ctx, user("bad"), permission.Level(9)); !errors.Is(err, permission.ErrInvalidLevel) {
			t.Fatalf("expected invalid level error, got %v", err)
		}
	})

	t.Run("isolation", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := user(fmt.Sprintf("iso-%d", i))
				level := permission.Levels()[i%4]
				if err := store.Set(ctx, name, level); err != nil {
					t.Errorf("set %s: %v", name, err)
				}
			}(i)
		}
		wg.Wait()
		for i := 0; i < 8; i++ {
			name := user(fmt.Sprintf("iso-%d", i))
			got, _, err := store.Get(ctx, name)
			if err != nil {
				t.Fatalf("get %s: %v", name, err)
			}
			if want := permission.Levels()[i%4]; got != want {
				t.Fatalf("%s: expected %v, got %v", name, want, got)
			}
		}
	})
}
