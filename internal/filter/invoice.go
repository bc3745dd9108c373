package filter

// InvoiceSummary is the list-tier view of an invoice.
type InvoiceSummary struct {
	ID         string  `json:"id"`
	Number     string  `json:"number,omitempty"`
	Type       string  `json:"type"`
	Contact    string  `json:"contact"`
	Total      float64 `json:"total"`
	AmountDue  float64 `json:"amountDue"`
	AmountPaid float64 `json:"amountPaid"`
	Currency   string  `json:"currency,omitempty"`
	Status     string  `json:"status"`
	Date       string  `json:"date,omitempty"`
	DueDate    string  `json:"dueDate,omitempty"`
}

// LineItem is the reduced invoice line.
type LineItem struct {
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitAmount  float64 `json:"unitAmount"`
	LineAmount  float64 `json:"lineAmount"`
	AccountCode string  `json:"accountCode,omitempty"`
}

// InvoiceDetail is the single-invoice view: the summary plus line items.
// Tax breakdowns, tracking, the nested contact record and attachments are
// not carried.
type InvoiceDetail struct {
	InvoiceSummary
	Reference string     `json:"reference,omitempty"`
	SubTotal  float64    `json:"subTotal"`
	TotalTax  float64    `json:"totalTax"`
	LineItems []LineItem `json:"lineItems"`
}

// Invoice reduces a Xero invoice to its summary.
func Invoice(in XeroInvoice) InvoiceSummary {
	return InvoiceSummary{
		ID:         in.InvoiceID,
		Number:     in.InvoiceNumber,
		Type:       in.Type,
		Contact:    in.Contact.Name,
		Total:      round2(in.Total),
		AmountDue:  round2(in.AmountDue),
		AmountPaid: round2(in.AmountPaid),
		Currency:   in.CurrencyCode,
		Status:     in.Status,
		Date:       NormalizeDate(in.Date),
		DueDate:    NormalizeDate(in.DueDate),
	}
}

// Invoices maps Invoice over in.
func Invoices(in []XeroInvoice) []InvoiceSummary {
	out := make([]InvoiceSummary, 0, len(in))
	for _, inv := range in {
		out = append(out, Invoice(inv))
	}
	return out
}

// InvoiceDetailOf reduces a Xero invoice to its detail view.
func InvoiceDetailOf(in XeroInvoice) InvoiceDetail {
	lines := make([]LineItem, 0, len(in.LineItems))
	for _, li := range in.LineItems {
		lines = append(lines, LineItem{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitAmount:  round2(li.UnitAmount),
			LineAmount:  round2(li.LineAmount),
			AccountCode: li.AccountCode,
		})
	}
	return InvoiceDetail{
		InvoiceSummary: Invoice(in),
		Reference:      in.Reference,
		SubTotal:       round2(in.SubTotal),
		TotalTax:       round2(in.TotalTax),
		LineItems:      lines,
	}
}
