package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pkt.systems/ledgerd/internal/permission"
	"pkt.systems/ledgerd/internal/schema"
)

var catalogTools = map[string]permission.Level{
	"list_invoices":          permission.ReadOnly,
	"get_invoice":            permission.ReadOnly,
	"list_overdue_invoices":  permission.ReadOnly,
	"create_draft_invoice":   permission.CreateDraft,
	"approve_invoice":        permission.ApproveUpdate,
	"void_invoice":           permission.FullAccess,
	"get_profit_and_loss":    permission.ReadOnly,
	"get_balance_sheet":      permission.ReadOnly,
	"list_bank_accounts":     permission.ReadOnly,
	"list_bank_transactions": permission.ReadOnly,
	"list_contacts":          permission.ReadOnly,
	"get_contact":            permission.ReadOnly,
	"get_organisation":       permission.ReadOnly,
	"list_expenses":          permission.ReadOnly,
	"search_emails":          permission.ReadOnly,
	"get_email_content":      permission.ReadOnly,
	"get_email_attachment":   permission.ReadOnly,
}

func stubBindings() map[string]Binding {
	out := make(map[string]Binding, len(catalogTools))
	for name := range catalogTools {
		out[name] = Binding{
			Input: schema.Object(schema.Props{}),
			Handler: func(context.Context, Call) (any, error) {
				return name, nil
			},
		}
	}
	return out
}

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(DefaultCatalog(), stubBindings())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if len(reg.All()) != len(catalogTools) {
		t.Fatalf("expected %d tools, got %d", len(catalogTools), len(reg.All()))
	}
	for name, want := range catalogTools {
		got, ok := reg.RequiredLevel(name)
		if !ok || got != want {
			t.Fatalf("%s: level %v ok=%v, want %v", name, got, ok, want)
		}
	}
	wantCounts := map[string]int{
		"invoices": 6, "reports": 2, "banking": 2, "contacts": 2,
		"organisation": 1, "expenses": 1, "email": 3,
	}
	cats := reg.Categories()
	if len(cats) != len(wantCounts) {
		t.Fatalf("unexpected categories %+v", cats)
	}
	for _, c := range cats {
		if c.Tools != wantCounts[c.Name] {
			t.Fatalf("category %s: %d tools, want %d", c.Name, c.Tools, wantCounts[c.Name])
		}
		defs, ok := reg.Category(c.Name)
		if !ok || len(defs) != c.Tools {
			t.Fatalf("category %s lookup mismatch", c.Name)
		}
		for _, d := range defs {
			if d.Category != c.Name || d.Description == "" || d.ShortName == "" {
				t.Fatalf("incomplete definition %+v", d)
			}
		}
	}
	if names := reg.CategoryNames(); names[0] != "invoices" || names[len(names)-1] != "email" {
		t.Fatalf("catalog order not kept: %v", names)
	}
	def, ok := reg.Lookup("get_invoice")
	if !ok {
		t.Fatal("get_invoice missing")
	}
	out, err := def.Handler(context.Background(), Call{})
	if err != nil || out != "get_invoice" {
		t.Fatalf("handler not bound: %v %v", out, err)
	}
	if _, ok := reg.Lookup("get_tools_in_category"); ok {
		t.Fatal("meta-tool must not be an executor")
	}
}

func TestRegistryRejectsMismatch(t *testing.T) {
	t.Parallel()

	missing := stubBindings()
	delete(missing, "void_invoice")
	orphan := stubBindings()
	orphan["delete_everything"] = orphan["get_invoice"]
	noSchema := stubBindings()
	noSchema["get_invoice"] = Binding{Handler: noSchema["get_invoice"].Handler}

	cases := []struct {
		name     string
		catalog  string
		bindings map[string]Binding
		want     string
	}{
		{name: "missing-binding", catalog: string(DefaultCatalog()), bindings: missing, want: "void_invoice"},
		{name: "orphan-binding", catalog: string(DefaultCatalog()), bindings: orphan, want: "delete_everything"},
		{name: "no-schema", catalog: string(DefaultCatalog()), bindings: noSchema, want: "input schema"},
		{name: "bad-level", catalog: "categories:\n  - name: x\n    tools:\n      - {name: get_invoice, level: admin, description: d}\n", bindings: map[string]Binding{"get_invoice": stubBindings()["get_invoice"]}, want: "admin"},
		{name: "missing-level", catalog: "categories:\n  - name: x\n    tools:\n      - {name: get_invoice, description: d}\n", bindings: map[string]Binding{"get_invoice": stubBindings()["get_invoice"]}, want: "level"},
		{name: "empty-category", catalog: "categories:\n  - name: x\n    tools: []\n", bindings: nil, want: "no tools"},
		{name: "unknown-field", catalog: "categories:\n  - name: x\n    owner: y\n", bindings: nil, want: "owner"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRegistry([]byte(tc.catalog), tc.bindings)
			if !errors.Is(err, ErrRegistry) {
				t.Fatalf("expected ErrRegistry, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestRegistryIsACopy(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(DefaultCatalog(), stubBindings())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	defs, _ := reg.Category("invoices")
	defs[0].Level = permission.FullAccess
	all := reg.All()
	all[0].Name = "mutated"
	if got, _ := reg.Lookup("list_invoices"); got.Level != permission.ReadOnly {
		t.Fatal("registry mutated through Category")
	}
	if reg.All()[0].Name != "list_invoices" {
		t.Fatal("registry mutated through All")
	}
}
