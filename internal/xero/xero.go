// Package xero executes the accounting tools against the Xero API. Every
// call resolves the user's Xero token, goes through retry.Do behind the
// tenant's circuit breaker, and returns filtered results. Native Xero paging is
// hidden behind cursor tokens.
package xero

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/credential"
	"pkt.systems/ledgerd/internal/cursor"
	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/retry"
	"pkt.systems/ledgerd/internal/svcfields"
	"pkt.systems/ledgerd/internal/tools"
	"pkt.systems/ledgerd/internal/upstream"
	"pkt.systems/ledgerd/internal/uuidv7"
)

// DefaultBaseURL is the Xero accounting API root.
const DefaultBaseURL = "https://api.xero.com/api.xro/2.0"

const (
	defaultPageSize   = 25
	maxPageSize       = 100
	defaultPreviewRow = 10
	tenantHeader      = "xero-tenant-id"
	idempotencyHeader = "Idempotency-Key"
)

// Config wires an Executor.
type Config struct {
	BaseURL     string
	Client      *upstream.Client
	Credentials credential.Provider
	Resources   *resource.Store
	Cursors     *cursor.Codec
	Retry       retry.Policy
	Clock       clock.Clock
	Logger      pslog.Logger
}

// Executor runs Xero tools.
type Executor struct {
	base      string
	client    *upstream.Client
	creds     credential.Provider
	resources *resource.Store
	cursors   *cursor.Codec
	policy    retry.Policy
	clock     clock.Clock
	logger    pslog.Logger
}

// New validates cfg and returns an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Client == nil {
		return nil, errors.New("xero: upstream client required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("xero: credential provider required")
	}
	if cfg.Resources == nil {
		return nil, errors.New("xero: resource store required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	clk := clock.Or(cfg.Clock)
	cursors := cfg.Cursors
	if cursors == nil {
		cursors = cursor.NewCodec(clk)
	}
	return &Executor{
		base:      base,
		client:    cfg.Client,
		creds:     cfg.Credentials,
		resources: cfg.Resources,
		cursors:   cursors,
		policy:    cfg.Retry,
		clock:     clk,
		logger:    svcfields.WithSubsystem(cfg.Logger, "executor.xero"),
	}, nil
}

// Bindings returns the handler and input schema of every Xero tool.
func (e *Executor) Bindings() map[string]tools.Binding {
	return map[string]tools.Binding{
		"list_invoices":          {Input: listInvoicesInput, Handler: e.listInvoices},
		"get_invoice":            {Input: invoiceIDInput, Handler: e.getInvoice},
		"list_overdue_invoices":  {Input: listOverdueInput, Handler: e.listOverdueInvoices},
		"create_draft_invoice":   {Input: createDraftInput, Handler: e.createDraftInvoice},
		"approve_invoice":        {Input: invoiceIDInput, Handler: e.approveInvoice},
		"void_invoice":           {Input: invoiceIDInput, Handler: e.voidInvoice},
		"get_profit_and_loss":    {Input: profitAndLossInput, Handler: e.profitAndLoss},
		"get_balance_sheet":      {Input: balanceSheetInput, Handler: e.balanceSheet},
		"list_bank_accounts":     {Input: emptyInput, Handler: e.listBankAccounts},
		"list_bank_transactions": {Input: listBankTransactionsInput, Handler: e.listBankTransactions},
		"list_contacts":          {Input: listContactsInput, Handler: e.listContacts},
		"get_contact":            {Input: contactIDInput, Handler: e.getContact},
		"get_organisation":       {Input: emptyInput, Handler: e.getOrganisation},
		"list_expenses":          {Input: listExpensesInput, Handler: e.listExpenses},
	}
}

// session is a resolved token for one call.
type session struct {
	user   string
	token  credential.Token
	tenant string
}

func (e *Executor) session(ctx context.Context, user string) (session, error) {
	tok, err := e.creds.Token(ctx, user, credential.ProviderXero)
	if err != nil {
		return session{}, err
	}
	if tok.TenantID == "" {
		return session{}, &credential.NotConnectedError{UserID: user, Provider: credential.ProviderXero}
	}
	return session{user: user, token: tok, tenant: tok.TenantID}, nil
}

func (e *Executor) call(ctx context.Context, s session, op, method, path string, query url.Values, body any, out any) error {
	header := http.Header{}
	header.Set(tenantHeader, s.tenant)
	if method != http.MethodGet {
		// One key for every attempt so Xero drops replayed writes.
		header.Set(idempotencyHeader, uuidv7.NewString())
	}
	// Xero rate limits and outages are per tenant.
	req := upstream.Request{
		Method:    method,
		URL:       e.base + path,
		Query:     query,
		Header:    header,
		Token:     s.token.AccessToken,
		Body:      body,
		Partition: s.tenant,
	}
	return e.client.Guard(req, func() error {
		_, err := retry.Do(ctx, e.policy, e.clock, e.logger, op, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.client.Do(ctx, req, out)
		})
		return err
	})
}

func (e *Executor) get(ctx context.Context, s session, op, path string, query url.Values, out any) error {
	return e.call(ctx, s, op, http.MethodGet, path, query, nil, out)
}

// position resolves the cursor and the page size argument and maps the
// position onto Xero's 1-based page numbers.
func (e *Executor) position(args tools.Args) (cursor.Position, url.Values, error) {
	pos, err := e.cursors.ParseParams(args.String("cursor"), args.Int("pageSize", defaultPageSize))
	if err != nil {
		return cursor.Position{}, nil, err
	}
	if pos.PageSize > maxPageSize {
		return cursor.Position{}, nil, fmt.Errorf("%w: page size %d exceeds %d", cursor.ErrInvalidCursor, pos.PageSize, maxPageSize)
	}
	if pos.Offset%pos.PageSize != 0 {
		return cursor.Position{}, nil, fmt.Errorf("%w: offset not aligned to page size", cursor.ErrInvalidCursor)
	}
	q := url.Values{}
	q.Set("page", fmt.Sprint(pos.Offset/pos.PageSize+1))
	q.Set("pageSize", fmt.Sprint(pos.PageSize))
	return pos, q, nil
}

func notFound(what, id string) error {
	return &upstream.Error{Status: http.StatusNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

// where joins Xero filter clauses.
type where []string

func (w *where) add(format string, args ...any) {
	*w = append(*w, fmt.Sprintf(format, args...))
}

func (w *where) dateRange(field, from, to string) {
	if t, ok := parseDate(from); ok {
		w.add("%s >= %s", field, dateTime(t))
	}
	if t, ok := parseDate(to); ok {
		w.add("%s <= %s", field, dateTime(t))
	}
}

func (w where) apply(q url.Values) {
	if len(w) > 0 {
		q.Set("where", strings.Join(w, " AND "))
	}
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, s)
	return t, err == nil
}

func dateTime(t time.Time) string {
	return fmt.Sprintf("DateTime(%d, %02d, %02d)", t.Year(), int(t.Month()), t.Day())
}

func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
