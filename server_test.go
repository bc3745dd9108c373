package ledgerd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"pkt.systems/ledgerd/internal/correlation"
	"pkt.systems/ledgerd/internal/credential"
	"pkt.systems/ledgerd/internal/gateway"
	"pkt.systems/ledgerd/internal/permission"
	"pkt.systems/ledgerd/internal/resource"
)

const profitAndLossBody = `{"Reports":[{"ReportName":"Profit and Loss","ReportTitles":["Profit & Loss","Demo Co"],"ReportDate":"10 March 2026","Rows":[
{"RowType":"Header","Cells":[{"Value":""},{"Value":"Mar 2026"}]},
{"RowType":"Section","Title":"Income","Rows":[
 {"RowType":"Row","Cells":[{"Value":"Sales"},{"Value":"1000.00"}]},
 {"RowType":"Row","Cells":[{"Value":"Interest"},{"Value":"5.00"}]},
 {"RowType":"SummaryRow","Cells":[{"Value":"Total Income"},{"Value":"1005.00"}]}]}
]}]}`

type reportPayload struct {
	Rows resource.DualResponse[json.RawMessage] `json:"rows"`
}

func startWithFakeXero(t *testing.T) *TestServer {
	t.Helper()
	xeroAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xero-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/Reports/ProfitAndLoss" {
			_, _ = io.WriteString(w, profitAndLossBody)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"Message":"not found"}`)
	}))
	t.Cleanup(xeroAPI.Close)

	creds := credential.NewStatic(nil)
	creds.Set("owner", credential.ProviderXero, credential.Token{AccessToken: "xero-token", TenantID: "tenant-1"})
	return StartTestServer(t,
		WithTestLoggerFromTB(t),
		WithTestCredentials(creds),
		WithTestConfigFunc(func(cfg *Config) {
			cfg.XeroBaseURL = xeroAPI.URL
		}),
	)
}

func connectAs(t *testing.T, ts *TestServer, user string) *mcpsdk.ClientSession {
	t.Helper()
	cs, err := ts.Connect(context.Background(), user)
	if err != nil {
		t.Fatalf("connect as %s: %v", user, err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callText(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("call %s: empty content", name)
	}
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("call %s: unexpected content %T", name, res.Content[0])
	}
	return text.Text, res.IsError
}

func getResource(t *testing.T, ts *TestServer, uri, token string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := ts.HTTPClient(token).Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", uri, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := StartTestServer(t)
	resp, err := http.Get(ts.BaseURL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get(correlation.HeaderName) == "" {
		t.Fatal("expected a generated correlation id header")
	}
}

func TestMCPRequiresBearer(t *testing.T) {
	t.Parallel()

	ts := StartTestServer(t)
	resp, err := http.Post(ts.MCPEndpoint(), "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestEndToEndReportAndResource(t *testing.T) {
	t.Parallel()

	ts := startWithFakeXero(t)
	cs := connectAs(t, ts, "owner")

	tools, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools.Tools) != 2 {
		t.Fatalf("expected two meta-tools, got %d", len(tools.Tools))
	}

	listing, isErr := callText(t, cs, gateway.CategoryToolName, map[string]any{"category": "reports"})
	if isErr || !strings.Contains(listing, "get_profit_and_loss") {
		t.Fatalf("reports listing missing profit and loss: %s", listing)
	}

	out, isErr := callText(t, cs, gateway.ExecuteToolName, map[string]any{
		"name":      "get_profit_and_loss",
		"arguments": map[string]any{"fromDate": "2026-03-01", "toDate": "2026-03-31", "previewRows": 1},
	})
	if isErr {
		t.Fatalf("report failed: %s", out)
	}
	var report reportPayload
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	link := report.Rows.Resource
	if len(report.Rows.Preview) != 1 || !strings.HasPrefix(link.URI, ts.BaseURL+"/resources/") {
		t.Fatalf("unexpected dual response %+v", report.Rows)
	}

	status, data := getResource(t, ts, link.URI, "owner")
	if status != http.StatusOK {
		t.Fatalf("owner read: %d %s", status, data)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) != report.Rows.Metadata.TotalCount {
		t.Fatalf("stored rows mismatch: %d rows, %v", len(rows), err)
	}

	status, body := getResource(t, ts, link.URI+"?view=metadata", "owner")
	var meta resource.Metadata
	if err := json.Unmarshal(body, &meta); err != nil || status != http.StatusOK {
		t.Fatalf("metadata view: %d %v", status, err)
	}
	if meta.OwnerUserID != "owner" || meta.Kind != resource.KindReport || meta.TenantID != "tenant-1" {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	status, body = getResource(t, ts, link.URI, "intruder")
	if status != http.StatusNotFound || !strings.Contains(string(body), `"resource not found"`) {
		t.Fatalf("foreign read: %d %s", status, body)
	}
	if status, _ := getResource(t, ts, link.URI, ""); status != http.StatusUnauthorized {
		t.Fatalf("anonymous read: expected 401, got %d", status)
	}
	if status, _ := getResource(t, ts, ts.BaseURL+"/resources/does-not-exist", "owner"); status != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", status)
	}

	read, err := cs.ReadResource(context.Background(), &mcpsdk.ReadResourceParams{URI: link.URI})
	if err != nil {
		t.Fatalf("resources/read: %v", err)
	}
	if len(read.Contents) != 1 || read.Contents[0].Text != string(data) {
		t.Fatalf("unexpected resources/read contents %+v", read.Contents)
	}
}

func TestEndToEndPermissionGate(t *testing.T) {
	t.Parallel()

	ts := startWithFakeXero(t)
	cs := connectAs(t, ts, "owner")
	args := map[string]any{
		"name":      "void_invoice",
		"arguments": map[string]any{"invoiceId": "inv-1"},
	}

	out, isErr := callText(t, cs, gateway.ExecuteToolName, args)
	if !isErr {
		t.Fatalf("expected denial, got %s", out)
	}
	var env gateway.Envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Code != gateway.CodePermissionDenied || env.Retryable {
		t.Fatalf("unexpected envelope %+v", env)
	}

	if err := ts.Server.Permissions().SetLevel(context.Background(), "owner", permission.FullAccess); err != nil {
		t.Fatalf("set level: %v", err)
	}
	out, isErr = callText(t, cs, gateway.ExecuteToolName, args)
	if !isErr {
		t.Fatalf("expected upstream failure from fake, got %s", out)
	}
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Code == gateway.CodePermissionDenied {
		t.Fatalf("permission still denied after upgrade: %+v", env)
	}
}
