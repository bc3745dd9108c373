// Package filter reduces upstream API payloads to the fields an assistant
// needs. Every function is pure: the same input always yields the same
// output and nothing is retained between calls.
package filter

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// XeroContactRef is the nested contact attached to invoices and bank
// transactions.
type XeroContactRef struct {
	ContactID string `json:"ContactID,omitempty"`
	Name      string `json:"Name,omitempty"`
}

// XeroLineItem is one line of an invoice or bank transaction.
type XeroLineItem struct {
	LineItemID  string         `json:"LineItemID,omitempty"`
	Description string         `json:"Description,omitempty"`
	Quantity    float64        `json:"Quantity,omitempty"`
	UnitAmount  float64        `json:"UnitAmount,omitempty"`
	LineAmount  float64        `json:"LineAmount,omitempty"`
	AccountCode string         `json:"AccountCode,omitempty"`
	TaxType     string         `json:"TaxType,omitempty"`
	TaxAmount   float64        `json:"TaxAmount,omitempty"`
	Tracking    []XeroTracking `json:"Tracking,omitempty"`
	Item        *XeroItemRef   `json:"Item,omitempty"`
}

// XeroTracking is a tracking category assignment. It is decoded only to be
// dropped.
type XeroTracking struct {
	Name   string `json:"Name,omitempty"`
	Option string `json:"Option,omitempty"`
}

// XeroItemRef references an inventory item.
type XeroItemRef struct {
	Code string `json:"Code,omitempty"`
	Name string `json:"Name,omitempty"`
}

// XeroInvoice mirrors the Xero Invoice resource.
type XeroInvoice struct {
	InvoiceID      string         `json:"InvoiceID"`
	InvoiceNumber  string         `json:"InvoiceNumber,omitempty"`
	Type           string         `json:"Type"`
	Reference      string         `json:"Reference,omitempty"`
	Contact        XeroContactRef `json:"Contact"`
	Status         string         `json:"Status"`
	Date           string         `json:"Date,omitempty"`
	DueDate        string         `json:"DueDate,omitempty"`
	LineAmountType string         `json:"LineAmountTypes,omitempty"`
	SubTotal       float64        `json:"SubTotal"`
	TotalTax       float64        `json:"TotalTax"`
	Total          float64        `json:"Total"`
	AmountDue      float64        `json:"AmountDue"`
	AmountPaid     float64        `json:"AmountPaid"`
	AmountCredited float64        `json:"AmountCredited,omitempty"`
	CurrencyCode   string         `json:"CurrencyCode,omitempty"`
	HasAttachments bool           `json:"HasAttachments,omitempty"`
	LineItems      []XeroLineItem `json:"LineItems,omitempty"`
	UpdatedDateUTC string         `json:"UpdatedDateUTC,omitempty"`
}

// XeroBalance is one side of a contact's balances.
type XeroBalance struct {
	Outstanding float64 `json:"Outstanding"`
	Overdue     float64 `json:"Overdue"`
}

// XeroContact mirrors the Xero Contact resource.
type XeroContact struct {
	ContactID     string `json:"ContactID"`
	Name          string `json:"Name"`
	FirstName     string `json:"FirstName,omitempty"`
	LastName      string `json:"LastName,omitempty"`
	EmailAddress  string `json:"EmailAddress,omitempty"`
	ContactStatus string `json:"ContactStatus,omitempty"`
	IsCustomer    bool   `json:"IsCustomer"`
	IsSupplier    bool   `json:"IsSupplier"`
	Balances      *struct {
		AccountsReceivable *XeroBalance `json:"AccountsReceivable,omitempty"`
		AccountsPayable    *XeroBalance `json:"AccountsPayable,omitempty"`
	} `json:"Balances,omitempty"`
}

// XeroBankAccountRef is the bank account attached to a transaction.
type XeroBankAccountRef struct {
	AccountID string `json:"AccountID,omitempty"`
	Code      string `json:"Code,omitempty"`
	Name      string `json:"Name,omitempty"`
}

// XeroBankTransaction mirrors the Xero BankTransaction resource.
type XeroBankTransaction struct {
	BankTransactionID string             `json:"BankTransactionID"`
	Type              string             `json:"Type"`
	Contact           XeroContactRef     `json:"Contact"`
	Date              string             `json:"Date,omitempty"`
	Status            string             `json:"Status"`
	Reference         string             `json:"Reference,omitempty"`
	Total             float64            `json:"Total"`
	CurrencyCode      string             `json:"CurrencyCode,omitempty"`
	IsReconciled      bool               `json:"IsReconciled"`
	BankAccount       XeroBankAccountRef `json:"BankAccount"`
	LineItems         []XeroLineItem     `json:"LineItems,omitempty"`
}

// XeroAccount mirrors the Xero Account resource.
type XeroAccount struct {
	AccountID         string `json:"AccountID"`
	Code              string `json:"Code,omitempty"`
	Name              string `json:"Name"`
	Type              string `json:"Type"`
	Status            string `json:"Status,omitempty"`
	BankAccountNumber string `json:"BankAccountNumber,omitempty"`
	CurrencyCode      string `json:"CurrencyCode,omitempty"`
}

// XeroOrganisation mirrors the Xero Organisation resource.
type XeroOrganisation struct {
	OrganisationID        string `json:"OrganisationID"`
	Name                  string `json:"Name"`
	LegalName             string `json:"LegalName,omitempty"`
	ShortCode             string `json:"ShortCode,omitempty"`
	CountryCode           string `json:"CountryCode,omitempty"`
	BaseCurrency          string `json:"BaseCurrency,omitempty"`
	OrganisationType      string `json:"OrganisationType,omitempty"`
	Timezone              string `json:"Timezone,omitempty"`
	FinancialYearEndDay   int    `json:"FinancialYearEndDay,omitempty"`
	FinancialYearEndMonth int    `json:"FinancialYearEndMonth,omitempty"`
	IsDemoCompany         bool   `json:"IsDemoCompany,omitempty"`
}

var msDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// NormalizeDate converts the Xero date forms to YYYY-MM-DD. Both
// "/Date(1518685950940+0000)/" and "2018-02-15T00:00:00" are accepted;
// anything unrecognised is returned unchanged.
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if m := msDate.FindStringSubmatch(raw); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return raw
		}
		return time.UnixMilli(ms).UTC().Format(time.DateOnly)
	}
	for _, layout := range []string{"2006-01-02T15:04:05", time.RFC3339, time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return raw
}

// round2 trims binary float noise from currency amounts.
func round2(v float64) float64 {
	if v < 0 {
		return -float64(int64(-v*100+0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
