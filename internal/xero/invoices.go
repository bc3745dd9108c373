package xero

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"pkt.systems/ledgerd/internal/cursor"
	"pkt.systems/ledgerd/internal/filter"
	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/schema"
	"pkt.systems/ledgerd/internal/svcfields"
	"pkt.systems/ledgerd/internal/tools"
	"pkt.systems/ledgerd/internal/upstream"
)

var invoiceStatuses = []string{"DRAFT", "SUBMITTED", "AUTHORISED", "PAID", "VOIDED", "DELETED"}

func pagingProps(p schema.Props) schema.Props {
	p["cursor"] = schema.String("nextCursor from a previous page")
	p["pageSize"] = schema.Integer("Items per page").Range(1, maxPageSize)
	return p
}

var (
	emptyInput = schema.Object(schema.Props{})

	invoiceIDInput = schema.Object(schema.Props{
		"invoiceId": schema.String("Xero InvoiceID").Length(1, 64),
	}, "invoiceId")

	listInvoicesInput = schema.Object(pagingProps(schema.Props{
		"status":    schema.Enum("Only invoices with this status", invoiceStatuses...),
		"type":      schema.Enum("ACCREC for sales invoices, ACCPAY for bills", "ACCREC", "ACCPAY"),
		"contactId": schema.String("Only invoices for this ContactID").Length(1, 64),
		"dateFrom":  schema.Date("Invoice date on or after"),
		"dateTo":    schema.Date("Invoice date on or before"),
	}))

	listOverdueInput = schema.Object(pagingProps(schema.Props{
		"type": schema.Enum("ACCREC for receivables, ACCPAY for payables", "ACCREC", "ACCPAY"),
	}))

	createDraftInput = schema.Object(schema.Props{
		"type":      schema.Enum("ACCREC for a sales invoice, ACCPAY for a bill", "ACCREC", "ACCPAY"),
		"contactId": schema.String("ContactID to invoice").Length(1, 64),
		"date":      schema.Date("Invoice date, defaults to today"),
		"dueDate":   schema.Date("Due date"),
		"reference": schema.String("Reference shown on the invoice").Length(0, 255),
		"lineAmountTypes": schema.Enum("Whether unit amounts include tax",
			"Exclusive", "Inclusive", "NoTax"),
		"lineItems": schema.Array(schema.Object(schema.Props{
			"description": schema.String("Line description").Length(1, 4000),
			"quantity":    schema.Number("Quantity").Min(0),
			"unitAmount":  schema.Number("Unit amount"),
			"accountCode": schema.String("Account code"),
			"taxType":     schema.String("Tax type"),
		}, "description", "quantity", "unitAmount"), "Invoice lines").Limit(100),
	}, "type", "contactId", "lineItems")
)

type invoicesEnvelope struct {
	Invoices []filter.XeroInvoice `json:"Invoices"`
}

func (e *Executor) listInvoices(ctx context.Context, call tools.Call) (any, error) {
	pos, q, err := e.position(call.Args)
	if err != nil {
		return nil, err
	}
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	if status := call.Args.String("status"); status != "" {
		q.Set("Statuses", status)
	}
	if contact := call.Args.String("contactId"); contact != "" {
		q.Set("ContactIDs", contact)
	}
	var w where
	if typ := call.Args.String("type"); typ != "" {
		w.add("Type == %s", quote(typ))
	}
	w.dateRange("Date", call.Args.String("dateFrom"), call.Args.String("dateTo"))
	w.apply(q)
	q.Set("order", "Date DESC")
	q.Set("summaryOnly", "true")

	var env invoicesEnvelope
	if err := e.get(ctx, s, "list_invoices", "/Invoices", q, &env); err != nil {
		return nil, err
	}
	return cursor.NewPage(e.cursors, pos, filter.Invoices(env.Invoices))
}

func (e *Executor) listOverdueInvoices(ctx context.Context, call tools.Call) (any, error) {
	pos, q, err := e.position(call.Args)
	if err != nil {
		return nil, err
	}
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	today := e.clock.Now().UTC().Truncate(24 * time.Hour)
	q.Set("Statuses", "AUTHORISED")
	var w where
	w.add("DueDate < %s", dateTime(today))
	w.add("AmountDue > 0")
	if typ := call.Args.String("type"); typ != "" {
		w.add("Type == %s", quote(typ))
	}
	w.apply(q)
	q.Set("order", "DueDate ASC")
	q.Set("summaryOnly", "true")

	var env invoicesEnvelope
	if err := e.get(ctx, s, "list_overdue_invoices", "/Invoices", q, &env); err != nil {
		return nil, err
	}
	return cursor.NewPage(e.cursors, pos, filter.Invoices(env.Invoices))
}

func (e *Executor) fetchInvoice(ctx context.Context, s session, op, id string) (filter.XeroInvoice, error) {
	var env invoicesEnvelope
	if err := e.get(ctx, s, op, "/Invoices/"+url.PathEscape(id), nil, &env); err != nil {
		return filter.XeroInvoice{}, err
	}
	if len(env.Invoices) == 0 {
		return filter.XeroInvoice{}, notFound("invoice", id)
	}
	return env.Invoices[0], nil
}

func (e *Executor) getInvoice(ctx context.Context, call tools.Call) (any, error) {
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	inv, err := e.fetchInvoice(ctx, s, "get_invoice", call.Args.String("invoiceId"))
	if err != nil {
		return nil, err
	}
	return filter.InvoiceDetailOf(inv), nil
}

type draftLine struct {
	Description string  `json:"Description"`
	Quantity    float64 `json:"Quantity"`
	UnitAmount  float64 `json:"UnitAmount"`
	AccountCode string  `json:"AccountCode,omitempty"`
	TaxType     string  `json:"TaxType,omitempty"`
}

type draftInvoice struct {
	Type            string                `json:"Type"`
	Contact         filter.XeroContactRef `json:"Contact"`
	Date            string                `json:"Date"`
	DueDate         string                `json:"DueDate,omitempty"`
	Reference       string                `json:"Reference,omitempty"`
	LineAmountTypes string                `json:"LineAmountTypes,omitempty"`
	Status          string                `json:"Status"`
	LineItems       []draftLine           `json:"LineItems"`
}

func (e *Executor) createDraftInvoice(ctx context.Context, call tools.Call) (any, error) {
	args := call.Args
	lines := args.Objects("lineItems")
	if len(lines) == 0 {
		return nil, &schema.ViolationError{Path: "lineItems", Reason: "at least one line item is required"}
	}
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	draft := draftInvoice{
		Type:            args.String("type"),
		Contact:         filter.XeroContactRef{ContactID: args.String("contactId")},
		Date:            args.String("date"),
		DueDate:         args.String("dueDate"),
		Reference:       args.String("reference"),
		LineAmountTypes: args.String("lineAmountTypes"),
		Status:          "DRAFT",
	}
	if draft.Date == "" {
		draft.Date = e.clock.Now().UTC().Format(time.DateOnly)
	}
	for _, l := range lines {
		draft.LineItems = append(draft.LineItems, draftLine{
			Description: l.String("description"),
			Quantity:    l.Float("quantity", 1),
			UnitAmount:  l.Float("unitAmount", 0),
			AccountCode: l.String("accountCode"),
			TaxType:     l.String("taxType"),
		})
	}
	var env invoicesEnvelope
	body := map[string][]draftInvoice{"Invoices": {draft}}
	if err := e.call(ctx, s, "create_draft_invoice", http.MethodPut, "/Invoices", nil, body, &env); err != nil {
		return nil, err
	}
	if len(env.Invoices) == 0 {
		return nil, &upstream.Error{Status: http.StatusBadGateway, Message: "Xero returned no invoice"}
	}
	created := filter.InvoiceDetailOf(env.Invoices[0])
	svcfields.FromContext(ctx, e.logger, "executor.xero").Info("xero.invoice.draft_created",
		"invoice_id", created.ID,
		"lines", len(created.LineItems),
	)
	return created, nil
}

// Snapshot points at the stored pre-mutation copy of a record.
type Snapshot struct {
	ResourceID string    `json:"resourceId"`
	URI        string    `json:"uri"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// StatusChange is the result of approve_invoice and void_invoice.
type StatusChange struct {
	Invoice        filter.InvoiceDetail `json:"invoice"`
	PreviousStatus string               `json:"previousStatus"`
	Snapshot       Snapshot             `json:"snapshot"`
}

func (e *Executor) approveInvoice(ctx context.Context, call tools.Call) (any, error) {
	return e.changeStatus(ctx, call, "approve_invoice", "AUTHORISED", func(inv filter.XeroInvoice) error {
		if !slices.Contains([]string{"DRAFT", "SUBMITTED"}, inv.Status) {
			return rejected(inv, "only DRAFT or SUBMITTED invoices can be approved")
		}
		return nil
	})
}

func (e *Executor) voidInvoice(ctx context.Context, call tools.Call) (any, error) {
	return e.changeStatus(ctx, call, "void_invoice", "VOIDED", func(inv filter.XeroInvoice) error {
		if inv.Status != "AUTHORISED" {
			return rejected(inv, "only AUTHORISED invoices can be voided")
		}
		if inv.AmountPaid > 0 || inv.AmountCredited > 0 {
			return rejected(inv, "invoices with payments or credit notes applied cannot be voided")
		}
		return nil
	})
}

func rejected(inv filter.XeroInvoice, reason string) error {
	label := inv.InvoiceNumber
	if label == "" {
		label = inv.InvoiceID
	}
	return &upstream.Error{
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("invoice %s is %s: %s", label, inv.Status, reason),
	}
}

// changeStatus snapshots the invoice into the resource store before it is
// modified. A failed snapshot aborts the change.
func (e *Executor) changeStatus(ctx context.Context, call tools.Call, op, status string, allowed func(filter.XeroInvoice) error) (any, error) {
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	id := call.Args.String("invoiceId")
	before, err := e.fetchInvoice(ctx, s, op, id)
	if err != nil {
		return nil, err
	}
	if err := allowed(before); err != nil {
		return nil, err
	}
	meta, err := e.resources.Store(ctx, before, resource.KindExport, s.user, s.tenant)
	if err != nil {
		return nil, err
	}
	logger := svcfields.FromContext(ctx, e.logger, "executor.xero")
	logger.Info("xero.invoice.snapshot", "invoice_id", before.InvoiceID, svcfields.ResourceKey, meta.ResourceID)

	body := map[string][]map[string]string{
		"Invoices": {{"InvoiceID": before.InvoiceID, "Status": status}},
	}
	var env invoicesEnvelope
	if err := e.call(ctx, s, op, http.MethodPost, "/Invoices/"+url.PathEscape(before.InvoiceID), nil, body, &env); err != nil {
		return nil, err
	}
	if len(env.Invoices) == 0 {
		return nil, &upstream.Error{Status: http.StatusBadGateway, Message: "Xero returned no invoice"}
	}
	logger.Info("xero.invoice.status_changed",
		"invoice_id", before.InvoiceID,
		"from", before.Status,
		"to", env.Invoices[0].Status,
	)
	return StatusChange{
		Invoice:        filter.InvoiceDetailOf(env.Invoices[0]),
		PreviousStatus: before.Status,
		Snapshot: Snapshot{
			ResourceID: meta.ResourceID,
			URI:        e.resources.URI(meta.ResourceID),
			ExpiresAt:  meta.ExpiresAt,
		},
	}, nil
}
