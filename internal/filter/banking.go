package filter

// BankTransaction is the reduced bank transaction.
type BankTransaction struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Contact     string  `json:"contact,omitempty"`
	Date        string  `json:"date,omitempty"`
	Total       float64 `json:"total"`
	Status      string  `json:"status"`
	Reference   string  `json:"reference,omitempty"`
	BankAccount string  `json:"bankAccount,omitempty"`
	Reconciled  bool    `json:"reconciled"`
}

// Expense is a SPEND bank transaction seen as an expense.
type Expense struct {
	ID          string  `json:"id"`
	Date        string  `json:"date,omitempty"`
	Payee       string  `json:"payee,omitempty"`
	Total       float64 `json:"total"`
	Status      string  `json:"status"`
	Reference   string  `json:"reference,omitempty"`
	Description string  `json:"description,omitempty"`
	AccountCode string  `json:"accountCode,omitempty"`
}

// Contact is the reduced contact.
type Contact struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	Email                 string  `json:"email,omitempty"`
	Status                string  `json:"status,omitempty"`
	IsCustomer            bool    `json:"isCustomer"`
	IsSupplier            bool    `json:"isSupplier"`
	ReceivableOutstanding float64 `json:"receivableOutstanding"`
	ReceivableOverdue     float64 `json:"receivableOverdue"`
	PayableOutstanding    float64 `json:"payableOutstanding"`
	PayableOverdue        float64 `json:"payableOverdue"`
}

// BankAccount is the identity of a BANK-type account.
type BankAccount struct {
	ID       string `json:"id"`
	Code     string `json:"code,omitempty"`
	Name     string `json:"name"`
	Number   string `json:"number,omitempty"`
	Currency string `json:"currency,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Organisation is the identity of the connected Xero organisation.
type Organisation struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	LegalName             string `json:"legalName,omitempty"`
	ShortCode             string `json:"shortCode,omitempty"`
	Country               string `json:"country,omitempty"`
	BaseCurrency          string `json:"baseCurrency,omitempty"`
	Type                  string `json:"type,omitempty"`
	Timezone              string `json:"timezone,omitempty"`
	FinancialYearEndDay   int    `json:"financialYearEndDay,omitempty"`
	FinancialYearEndMonth int    `json:"financialYearEndMonth,omitempty"`
	Demo                  bool   `json:"demo,omitempty"`
}

// BankTransactions reduces Xero bank transactions.
func BankTransactions(in []XeroBankTransaction) []BankTransaction {
	out := make([]BankTransaction, 0, len(in))
	for _, tx := range in {
		out = append(out, BankTransaction{
			ID:          tx.BankTransactionID,
			Type:        tx.Type,
			Contact:     tx.Contact.Name,
			Date:        NormalizeDate(tx.Date),
			Total:       round2(tx.Total),
			Status:      tx.Status,
			Reference:   tx.Reference,
			BankAccount: tx.BankAccount.Name,
			Reconciled:  tx.IsReconciled,
		})
	}
	return out
}

// Expenses reduces SPEND bank transactions. Other types are skipped.
func Expenses(in []XeroBankTransaction) []Expense {
	out := make([]Expense, 0, len(in))
	for _, tx := range in {
		if tx.Type != "SPEND" {
			continue
		}
		exp := Expense{
			ID:        tx.BankTransactionID,
			Date:      NormalizeDate(tx.Date),
			Payee:     tx.Contact.Name,
			Total:     round2(tx.Total),
			Status:    tx.Status,
			Reference: tx.Reference,
		}
		if len(tx.LineItems) > 0 {
			exp.Description = tx.LineItems[0].Description
			exp.AccountCode = tx.LineItems[0].AccountCode
		}
		out = append(out, exp)
	}
	return out
}

// ContactOf reduces a Xero contact.
func ContactOf(in XeroContact) Contact {
	c := Contact{
		ID:         in.ContactID,
		Name:       in.Name,
		Email:      in.EmailAddress,
		Status:     in.ContactStatus,
		IsCustomer: in.IsCustomer,
		IsSupplier: in.IsSupplier,
	}
	if in.Balances != nil {
		if ar := in.Balances.AccountsReceivable; ar != nil {
			c.ReceivableOutstanding = round2(ar.Outstanding)
			c.ReceivableOverdue = round2(ar.Overdue)
		}
		if ap := in.Balances.AccountsPayable; ap != nil {
			c.PayableOutstanding = round2(ap.Outstanding)
			c.PayableOverdue = round2(ap.Overdue)
		}
	}
	return c
}

// Contacts maps ContactOf over in.
func Contacts(in []XeroContact) []Contact {
	out := make([]Contact, 0, len(in))
	for _, c := range in {
		out = append(out, ContactOf(c))
	}
	return out
}

// BankAccounts keeps accounts of type BANK.
func BankAccounts(in []XeroAccount) []BankAccount {
	out := make([]BankAccount, 0, len(in))
	for _, a := range in {
		if a.Type != "BANK" {
			continue
		}
		out = append(out, BankAccount{
			ID:       a.AccountID,
			Code:     a.Code,
			Name:     a.Name,
			Number:   a.BankAccountNumber,
			Currency: a.CurrencyCode,
			Status:   a.Status,
		})
	}
	return out
}

// OrganisationOf reduces a Xero organisation.
func OrganisationOf(in XeroOrganisation) Organisation {
	return Organisation{
		ID:                    in.OrganisationID,
		Name:                  in.Name,
		LegalName:             in.LegalName,
		ShortCode:             in.ShortCode,
		Country:               in.CountryCode,
		BaseCurrency:          in.BaseCurrency,
		Type:                  in.OrganisationType,
		Timezone:              in.Timezone,
		FinancialYearEndDay:   in.FinancialYearEndDay,
		FinancialYearEndMonth: in.FinancialYearEndMonth,
		Demo:                  in.IsDemoCompany,
	}
}
