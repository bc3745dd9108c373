// Package toolstest builds registries over the default catalog with stub
// executors, for tests of the layers above the registry.
package toolstest

import (
	"context"
	"sync"
	"testing"

	"pkt.systems/ledgerd/internal/schema"
	"pkt.systems/ledgerd/internal/tools"
)

// Names lists every tool in the default catalog.
var Names = []string{
	"list_invoices", "get_invoice", "list_overdue_invoices",
	"create_draft_invoice", "approve_invoice", "void_invoice",
	"get_profit_and_loss", "get_balance_sheet",
	"list_bank_accounts", "list_bank_transactions",
	"list_contacts", "get_contact",
	"get_organisation",
	"list_expenses",
	"search_emails", "get_email_content", "get_email_attachment",
}

// StubInput is the input schema of every stub: one optional string "id".
var StubInput = schema.Object(schema.Props{
	"id": schema.String("Record id").Length(1, 64),
})

// Recorder counts executor invocations per tool.
type Recorder struct {
	mu    sync.Mutex
	calls map[string]int
	// Result overrides the handler outcome for a tool.
	Result map[string]func(tools.Call) (any, error)
}

// Calls returns how often tool was dispatched.
func (r *Recorder) Calls(tool string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[tool]
}

// Total returns the number of dispatches across all tools.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

// Bindings returns a stub binding for every catalog tool. A stub echoes
// {"tool": name, "id": args.id} unless Result overrides it.
func (r *Recorder) Bindings() map[string]tools.Binding {
	out := make(map[string]tools.Binding, len(Names))
	for _, name := range Names {
		out[name] = tools.Binding{
			Input: StubInput,
			Handler: func(_ context.Context, call tools.Call) (any, error) {
				r.mu.Lock()
				if r.calls == nil {
					r.calls = make(map[string]int)
				}
				r.calls[name]++
				override := r.Result[name]
				r.mu.Unlock()
				if override != nil {
					return override(call)
				}
				return map[string]any{"tool": name, "id": call.Args.String("id")}, nil
			},
		}
	}
	return out
}

// Registry builds the default catalog over r's stubs.
func Registry(t testing.TB, r *Recorder) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry(tools.DefaultCatalog(), r.Bindings())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}
