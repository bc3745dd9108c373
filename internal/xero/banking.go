package xero

import (
	"context"
	"fmt"
	"net/url"

	"pkt.systems/ledgerd/internal/cursor"
	"pkt.systems/ledgerd/internal/filter"
	"pkt.systems/ledgerd/internal/schema"
	"pkt.systems/ledgerd/internal/tools"
)

var (
	contactIDInput = schema.Object(schema.Props{
		"contactId": schema.String("Xero ContactID").Length(1, 64),
	}, "contactId")

	listContactsInput = schema.Object(pagingProps(schema.Props{
		"search": schema.String("Match against contact name, number and email").Length(1, 200),
	}))

	listBankTransactionsInput = schema.Object(pagingProps(schema.Props{
		"bankAccountId": schema.String("Only transactions of this bank AccountID").Length(1, 64),
		"type":          schema.Enum("Transaction type", "SPEND", "RECEIVE"),
		"dateFrom":      schema.Date("Transaction date on or after"),
		"dateTo":        schema.Date("Transaction date on or before"),
	}))

	listExpensesInput = schema.Object(pagingProps(schema.Props{
		"dateFrom": schema.Date("Spend date on or after"),
		"dateTo":   schema.Date("Spend date on or before"),
		"payee":    schema.String("Only spend to contacts whose name contains this text").Length(1, 200),
	}))
)

type bankTransactionsEnvelope struct {
	BankTransactions []filter.XeroBankTransaction `json:"BankTransactions"`
}

type contactsEnvelope struct {
	Contacts []filter.XeroContact `json:"Contacts"`
}

type accountsEnvelope struct {
	Accounts []filter.XeroAccount `json:"Accounts"`
}

type organisationsEnvelope struct {
	Organisations []filter.XeroOrganisation `json:"Organisations"`
}

// BankAccounts is the list_bank_accounts result. Accounts are few enough to
// be returned in one response.
type BankAccounts struct {
	Items []filter.BankAccount `json:"items"`
	Count int                  `json:"count"`
}

func (e *Executor) listBankAccounts(ctx context.Context, call tools.Call) (any, error) {
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("where", `Type == "BANK"`)
	var env accountsEnvelope
	if err := e.get(ctx, s, "list_bank_accounts", "/Accounts", q, &env); err != nil {
		return nil, err
	}
	accounts := filter.BankAccounts(env.Accounts)
	return BankAccounts{Items: accounts, Count: len(accounts)}, nil
}

func (e *Executor) listBankTransactions(ctx context.Context, call tools.Call) (any, error) {
	pos, q, err := e.position(call.Args)
	if err != nil {
		return nil, err
	}
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	var w where
	if acct := call.Args.String("bankAccountId"); acct != "" {
		w.add("BankAccount.AccountID == guid(%s)", quote(acct))
	}
	if typ := call.Args.String("type"); typ != "" {
		w.add("Type == %s", quote(typ))
	}
	w.dateRange("Date", call.Args.String("dateFrom"), call.Args.String("dateTo"))
	w.apply(q)
	q.Set("order", "Date DESC")

	var env bankTransactionsEnvelope
	if err := e.get(ctx, s, "list_bank_transactions", "/BankTransactions", q, &env); err != nil {
		return nil, err
	}
	return cursor.NewPage(e.cursors, pos, filter.BankTransactions(env.BankTransactions))
}

func (e *Executor) listExpenses(ctx context.Context, call tools.Call) (any, error) {
	pos, q, err := e.position(call.Args)
	if err != nil {
		return nil, err
	}
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	var w where
	w.add(`Type == "SPEND"`)
	w.dateRange("Date", call.Args.String("dateFrom"), call.Args.String("dateTo"))
	if payee := call.Args.String("payee"); payee != "" {
		w.add("Contact.Name.Contains(%s)", quote(payee))
	}
	w.apply(q)
	q.Set("order", "Date DESC")

	var env bankTransactionsEnvelope
	if err := e.get(ctx, s, "list_expenses", "/BankTransactions", q, &env); err != nil {
		return nil, err
	}
	return cursor.NewPage(e.cursors, pos, filter.Expenses(env.BankTransactions))
}

func (e *Executor) listContacts(ctx context.Context, call tools.Call) (any, error) {
	pos, q, err := e.position(call.Args)
	if err != nil {
		return nil, err
	}
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	if term := call.Args.String("search"); term != "" {
		q.Set("searchTerm", term)
	}
	q.Set("order", "Name ASC")

	var env contactsEnvelope
	if err := e.get(ctx, s, "list_contacts", "/Contacts", q, &env); err != nil {
		return nil, err
	}
	return cursor.NewPage(e.cursors, pos, filter.Contacts(env.Contacts))
}

func (e *Executor) getContact(ctx context.Context, call tools.Call) (any, error) {
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	id := call.Args.String("contactId")
	var env contactsEnvelope
	if err := e.get(ctx, s, "get_contact", "/Contacts/"+url.PathEscape(id), nil, &env); err != nil {
		return nil, err
	}
	if len(env.Contacts) == 0 {
		return nil, notFound("contact", id)
	}
	return filter.ContactOf(env.Contacts[0]), nil
}

func (e *Executor) getOrganisation(ctx context.Context, call tools.Call) (any, error) {
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	var env organisationsEnvelope
	if err := e.get(ctx, s, "get_organisation", "/Organisation", nil, &env); err != nil {
		return nil, err
	}
	if len(env.Organisations) == 0 {
		return nil, notFound("organisation", fmt.Sprintf("for tenant %s", s.tenant))
	}
	return filter.OrganisationOf(env.Organisations[0]), nil
}
