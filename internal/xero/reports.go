package xero

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"pkt.systems/ledgerd/internal/filter"
	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/schema"
	"pkt.systems/ledgerd/internal/tools"
	"pkt.systems/ledgerd/internal/upstream"
)

func reportProps(p schema.Props) schema.Props {
	p["periods"] = schema.Integer("Number of comparison periods").Range(1, 11)
	p["timeframe"] = schema.Enum("Length of each comparison period", "MONTH", "QUARTER", "YEAR")
	p["previewRows"] = schema.Integer("Rows returned inline").Range(0, 50)
	return p
}

var (
	profitAndLossInput = schema.Object(reportProps(schema.Props{
		"fromDate": schema.Date("Start of the reporting period"),
		"toDate":   schema.Date("End of the reporting period"),
	}))

	balanceSheetInput = schema.Object(reportProps(schema.Props{
		"date": schema.Date("Balance date, defaults to today"),
	}))
)

// ReportResult carries the report summary inline and its rows as a dual
// response.
type ReportResult struct {
	Summary filter.ReportSummary                   `json:"summary"`
	Rows    resource.DualResponse[filter.ReportRow] `json:"rows"`
}

type reportsEnvelope struct {
	Reports []filter.XeroReport `json:"Reports"`
}

func (e *Executor) profitAndLoss(ctx context.Context, call tools.Call) (any, error) {
	q := url.Values{}
	from, to := call.Args.String("fromDate"), call.Args.String("toDate")
	if from != "" && to != "" && from > to {
		return nil, &schema.ViolationError{Path: "fromDate", Reason: "must not be after toDate"}
	}
	if from != "" {
		q.Set("fromDate", from)
	}
	if to != "" {
		q.Set("toDate", to)
	}
	return e.report(ctx, call, "get_profit_and_loss", "ProfitAndLoss", q)
}

func (e *Executor) balanceSheet(ctx context.Context, call tools.Call) (any, error) {
	q := url.Values{}
	if date := call.Args.String("date"); date != "" {
		q.Set("date", date)
	}
	return e.report(ctx, call, "get_balance_sheet", "BalanceSheet", q)
}

func (e *Executor) report(ctx context.Context, call tools.Call, op, name string, q url.Values) (any, error) {
	if periods := call.Args.Int("periods", 0); periods > 0 {
		q.Set("periods", fmt.Sprint(periods))
		if tf := call.Args.String("timeframe"); tf != "" {
			q.Set("timeframe", tf)
		}
	}
	s, err := e.session(ctx, call.UserID)
	if err != nil {
		return nil, err
	}
	var env reportsEnvelope
	if err := e.get(ctx, s, op, "/Reports/"+name, q, &env); err != nil {
		return nil, err
	}
	if len(env.Reports) == 0 {
		return nil, &upstream.Error{Status: http.StatusBadGateway, Message: "Xero returned no report"}
	}
	rep := env.Reports[0]
	rows, err := resource.CreateDualResponse(ctx, e.resources, filter.FlattenReport(rep),
		call.Args.Int("previewRows", defaultPreviewRow),
		resource.KindReport, s.user, s.tenant,
		resource.Extra{Columns: filter.ReportColumns(rep)},
	)
	if err != nil {
		return nil, err
	}
	return ReportResult{Summary: filter.SummarizeReport(rep), Rows: rows}, nil
}
