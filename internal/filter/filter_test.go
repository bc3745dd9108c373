package filter

import (
	"encoding/base64"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeDate(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"/Date(1518685950940+0000)/": "2018-02-15",
		"/Date(1518685950940)/":      "2018-02-15",
		"/Date(0+1300)/":             "1970-01-01",
		"2018-02-15T00:00:00":        "2018-02-15",
		"2026-03-01T12:30:00Z":       "2026-03-01",
		"2026-03-01":                 "2026-03-01",
		"":                           "",
		"next tuesday":               "next tuesday",
	}
	for in, want := range cases {
		if got := NormalizeDate(in); got != want {
			t.Fatalf("NormalizeDate(%q) = %q, want %q", in, got, want)
		}
	}
}

const invoiceJSON = `{
	"InvoiceID": "inv-1",
	"InvoiceNumber": "INV-0001",
	"Type": "ACCREC",
	"Reference": "PO-7",
	"Contact": {"ContactID": "c-1", "Name": "Acme Ltd", "Addresses": [{"City": "Wellington"}]},
	"Status": "AUTHORISED",
	"Date": "/Date(1772323200000+0000)/",
	"DueDate": "/Date(1773532800000+0000)/",
	"SubTotal": 100,
	"TotalTax": 15,
	"Total": 115.00000001,
	"AmountDue": 115,
	"AmountPaid": 0,
	"CurrencyCode": "NZD",
	"HasAttachments": true,
	"LineItems": [
		{"Description": "Consulting", "Quantity": 2, "UnitAmount": 50, "LineAmount": 100, "AccountCode": "200",
		 "TaxType": "OUTPUT2", "TaxAmount": 15, "Tracking": [{"Name": "Region", "Option": "North"}]}
	]
}`

func TestInvoiceTiers(t *testing.T) {
	t.Parallel()

	var raw XeroInvoice
	if err := json.Unmarshal([]byte(invoiceJSON), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	summary := Invoice(raw)
	want := InvoiceSummary{
		ID: "inv-1", Number: "INV-0001", Type: "ACCREC", Contact: "Acme Ltd",
		Total: 115, AmountDue: 115, AmountPaid: 0, Currency: "NZD", Status: "AUTHORISED",
		Date: "2026-03-01", DueDate: "2026-03-15",
	}
	if summary != want {
		t.Fatalf("summary mismatch:\n got %+v\nwant %+v", summary, want)
	}

	detail := InvoiceDetailOf(raw)
	if len(detail.LineItems) != 1 || detail.LineItems[0].AccountCode != "200" || detail.LineItems[0].LineAmount != 100 {
		t.Fatalf("unexpected line items %+v", detail.LineItems)
	}
	encoded, err := json.Marshal(detail)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, dropped := range []string{"Tracking", "TaxType", "Addresses", "HasAttachments", "North"} {
		if strings.Contains(string(encoded), dropped) {
			t.Fatalf("detail leaks %s: %s", dropped, encoded)
		}
	}
}

func TestFilterIsDeterministic(t *testing.T) {
	t.Parallel()

	var raw XeroInvoice
	if err := json.Unmarshal([]byte(invoiceJSON), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	a, _ := json.Marshal(InvoiceDetailOf(raw))
	b, _ := json.Marshal(InvoiceDetailOf(raw))
	if string(a) != string(b) {
		t.Fatalf("non-deterministic output")
	}
}

func TestExpensesKeepsSpendOnly(t *testing.T) {
	t.Parallel()

	in := []XeroBankTransaction{
		{BankTransactionID: "t1", Type: "SPEND", Contact: XeroContactRef{Name: "Office Co"}, Total: 42.5,
			LineItems: []XeroLineItem{{Description: "Paper", AccountCode: "429"}, {Description: "Pens"}}},
		{BankTransactionID: "t2", Type: "RECEIVE", Total: 10},
	}
	got := Expenses(in)
	if len(got) != 1 {
		t.Fatalf("expected 1 expense, got %d", len(got))
	}
	if got[0].Payee != "Office Co" || got[0].Description != "Paper" || got[0].AccountCode != "429" {
		t.Fatalf("unexpected expense %+v", got[0])
	}
	if all := BankTransactions(in); len(all) != 2 {
		t.Fatalf("bank transactions must keep every type, got %d", len(all))
	}
}

func TestContactBalances(t *testing.T) {
	t.Parallel()

	var raw XeroContact
	payload := `{"ContactID":"c1","Name":"Acme","EmailAddress":"ap@acme.test","IsCustomer":true,
		"Balances":{"AccountsReceivable":{"Outstanding":250.5,"Overdue":100}}}`
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	c := ContactOf(raw)
	if c.ReceivableOutstanding != 250.5 || c.ReceivableOverdue != 100 || c.PayableOutstanding != 0 {
		t.Fatalf("unexpected balances %+v", c)
	}
}

func TestBankAccountsKeepsBankType(t *testing.T) {
	t.Parallel()

	got := BankAccounts([]XeroAccount{
		{AccountID: "a1", Name: "Business Cheque", Type: "BANK"},
		{AccountID: "a2", Name: "Sales", Type: "REVENUE"},
	})
	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("unexpected accounts %+v", got)
	}
}

const reportJSON = `{
	"ReportName": "Profit and Loss",
	"ReportTitles": ["Profit & Loss", "Demo Company", "1 March 2026 to 31 March 2026"],
	"ReportDate": "19 October 2026",
	"Rows": [
		{"RowType": "Header", "Cells": [{"Value": ""}, {"Value": "31 Mar 26"}]},
		{"RowType": "Section", "Title": "Income", "Rows": [
			{"RowType": "Row", "Cells": [{"Value": "Sales"}, {"Value": "1000.00"}]},
			{"RowType": "Row", "Cells": [{"Value": "Interest"}, {"Value": "5.00"}]},
			{"RowType": "SummaryRow", "Cells": [{"Value": "Total Income"}, {"Value": "1005.00"}]}
		]},
		{"RowType": "Section", "Title": "Less Operating Expenses", "Rows": [
			{"RowType": "Row", "Cells": [{"Value": "Rent"}, {"Value": "400.00"}]},
			{"RowType": "SummaryRow", "Cells": [{"Value": "Total Operating Expenses"}, {"Value": "400.00"}]}
		]},
		{"RowType": "Section", "Rows": [
			{"RowType": "Row", "Cells": [{"Value": "Net Profit"}, {"Value": "605.00"}]}
		]}
	]
}`

func TestReportSummaryAndRows(t *testing.T) {
	t.Parallel()

	var report XeroReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	summary := SummarizeReport(report)
	if !reflect.DeepEqual(summary.Columns, []string{"Account", "31 Mar 26"}) {
		t.Fatalf("unexpected columns %v", summary.Columns)
	}
	if len(summary.Sections) != 2 {
		t.Fatalf("expected 2 titled sections, got %+v", summary.Sections)
	}
	if total := summary.Sections[0].Totals[0]; total.Label != "Total Income" || total.Values[0] != "1005.00" {
		t.Fatalf("unexpected income total %+v", total)
	}

	rows := FlattenReport(report)
	if len(rows) != 6 {
		t.Fatalf("expected 6 flattened rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].Section != "Income" || rows[0].Label != "Sales" || rows[0].Values[0] != "1000.00" {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if !rows[2].Summary {
		t.Fatalf("total row not marked summary: %+v", rows[2])
	}
	if rows[5].Label != "Net Profit" || rows[5].Section != "" {
		t.Fatalf("unexpected last row %+v", rows[5])
	}
}

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestEmailContent(t *testing.T) {
	t.Parallel()

	msg := GmailMessage{
		ID: "m1", ThreadID: "t1", Snippet: "Invoice &amp; receipt", LabelIDs: []string{"INBOX"},
		Payload: GmailPart{
			MimeType: "multipart/mixed",
			Headers: []GmailHeader{
				{Name: "From", Value: "billing@acme.test"},
				{Name: "to", Value: "me@ledger.test"},
				{Name: "Subject", Value: "March invoice"},
			},
			Parts: []GmailPart{
				{MimeType: "multipart/alternative", Parts: []GmailPart{
					{MimeType: "text/html", Body: GmailBody{Data: b64("<p>Hello <b>there</b></p>")}},
				}},
				{MimeType: "application/pdf", Filename: "inv.pdf", Body: GmailBody{AttachmentID: "att-1", Size: 2048}},
			},
		},
	}
	content := EmailContentOf(msg, 0)
	if content.To != "me@ledger.test" || content.Subject != "March invoice" {
		t.Fatalf("headers not extracted: %+v", content.EmailSummary)
	}
	if content.Snippet != "Invoice & receipt" {
		t.Fatalf("snippet not unescaped: %q", content.Snippet)
	}
	if content.Body != "Hello there" {
		t.Fatalf("unexpected html fallback body %q", content.Body)
	}
	if !content.HasAttachments || len(content.Attachments) != 1 || content.Attachments[0].AttachmentID != "att-1" {
		t.Fatalf("unexpected attachments %+v", content.Attachments)
	}

	msg.Payload.Parts[0].Parts = append(msg.Payload.Parts[0].Parts,
		GmailPart{MimeType: "text/plain", Body: GmailBody{Data: b64("héllo world")}})
	truncated := EmailContentOf(msg, 2)
	if truncated.Body != "h" || !truncated.Truncated {
		t.Fatalf("expected rune-safe truncation, got %q %v", truncated.Body, truncated.Truncated)
	}
}
