package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

func invoiceSchema() *Schema {
	return Object(Props{
		"contactId": String("Contact to bill").Length(1, 64),
		"type":      Enum("Invoice type", "ACCREC", "ACCPAY"),
		"date":      Date("Invoice date"),
		"pageSize":  Integer("Items per page").Range(1, 100),
		"total":     Number("Total").Min(0),
		"sendEmail": Boolean("Email the contact"),
		"lineItems": Array(Object(Props{
			"description": String("Line description"),
			"quantity":    Number("Quantity").Min(0),
		}, "description"), "Lines").Limit(2),
	}, "contactId", "type")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	s := invoiceSchema()
	cases := []struct {
		name string
		args map[string]any
		path string
	}{
		{name: "valid", args: map[string]any{"contactId": "c1", "type": "ACCREC", "pageSize": float64(10), "lineItems": []any{map[string]any{"description": "x", "quantity": 2.5}}}},
		{name: "optional-null", args: map[string]any{"contactId": "c1", "type": "ACCPAY", "date": nil}},
		{name: "missing-required", args: map[string]any{"type": "ACCREC"}, path: "contactId"},
		{name: "nil-args", args: nil, path: "contactId"},
		{name: "empty-string", args: map[string]any{"contactId": "", "type": "ACCREC"}, path: "contactId"},
		{name: "bad-enum", args: map[string]any{"contactId": "c", "type": "SPEND"}, path: "type"},
		{name: "bad-date", args: map[string]any{"contactId": "c", "type": "ACCREC", "date": "01/02/2026"}, path: "date"},
		{name: "fractional-int", args: map[string]any{"contactId": "c", "type": "ACCREC", "pageSize": 2.5}, path: "pageSize"},
		{name: "int-range", args: map[string]any{"contactId": "c", "type": "ACCREC", "pageSize": float64(101)}, path: "pageSize"},
		{name: "negative", args: map[string]any{"contactId": "c", "type": "ACCREC", "total": float64(-1)}, path: "total"},
		{name: "wrong-bool", args: map[string]any{"contactId": "c", "type": "ACCREC", "sendEmail": "yes"}, path: "sendEmail"},
		{name: "unknown-property", args: map[string]any{"contactId": "c", "type": "ACCREC", "extra": 1}, path: "extra"},
		{name: "nested-item", args: map[string]any{"contactId": "c", "type": "ACCREC", "lineItems": []any{map[string]any{"quantity": float64(1)}}}, path: "lineItems[0].description"},
		{name: "too-many-items", args: map[string]any{"contactId": "c", "type": "ACCREC", "lineItems": []any{map[string]any{"description": "a"}, map[string]any{"description": "b"}, map[string]any{"description": "c"}}}, path: "lineItems"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := s.Validate(tc.args)
			if tc.path == "" {
				if err != nil {
					t.Fatalf("unexpected violation: %v", err)
				}
				return
			}
			var v *ViolationError
			if !errors.As(err, &v) {
				t.Fatalf("expected ViolationError, got %v", err)
			}
			if v.Path != tc.path {
				t.Fatalf("expected path %q, got %q (%s)", tc.path, v.Path, v.Reason)
			}
		})
	}
}

func TestValidateReasons(t *testing.T) {
	t.Parallel()

	s := invoiceSchema()
	cases := []struct {
		name   string
		args   map[string]any
		path   string
		reason string
	}{
		{name: "required", args: map[string]any{"contactId": "c"}, path: "type", reason: "required"},
		{name: "required-null", args: map[string]any{"contactId": "c", "type": nil}, path: "type", reason: "required"},
		{name: "additional", args: map[string]any{"contactId": "c", "type": "ACCREC", "zz": true}, path: "zz", reason: "additional properties"},
		{name: "min-length", args: map[string]any{"contactId": "", "type": "ACCREC"}, path: "contactId", reason: "minLength"},
		{name: "max-length", args: map[string]any{"contactId": strings.Repeat("x", 65), "type": "ACCREC"}, path: "contactId", reason: "maxLength"},
		{name: "enum", args: map[string]any{"contactId": "c", "type": "SPEND"}, path: "type", reason: "enum"},
		{name: "maximum", args: map[string]any{"contactId": "c", "type": "ACCREC", "pageSize": float64(101)}, path: "pageSize", reason: "maximum"},
		{name: "integer", args: map[string]any{"contactId": "c", "type": "ACCREC", "pageSize": 2.5}, path: "pageSize", reason: "integer"},
		{name: "max-items", args: map[string]any{"contactId": "c", "type": "ACCREC", "lineItems": []any{map[string]any{"description": "a"}, map[string]any{"description": "b"}, map[string]any{"description": "c"}}}, path: "lineItems", reason: "maxItems"},
		{name: "nested-type", args: map[string]any{"contactId": "c", "type": "ACCREC", "lineItems": []any{map[string]any{"description": "a"}, map[string]any{"description": "b", "quantity": "two"}}}, path: "lineItems[1].quantity", reason: "type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var v *ViolationError
			if err := s.Validate(tc.args); !errors.As(err, &v) {
				t.Fatalf("expected ViolationError, got %v", err)
			}
			if v.Path != tc.path {
				t.Fatalf("expected path %q, got %q", tc.path, v.Path)
			}
			if !strings.Contains(v.Reason, tc.reason) {
				t.Fatalf("expected reason mentioning %q, got %q", tc.reason, v.Reason)
			}
			if strings.HasPrefix(v.Reason, "validating ") {
				t.Fatalf("schema location leaked into reason %q", v.Reason)
			}
		})
	}
}

func TestCompileResolvesOnce(t *testing.T) {
	t.Parallel()

	s := invoiceSchema()
	args := map[string]any{"contactId": "c", "type": "ACCREC", "pageSize": float64(5)}
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Validate(args); err != nil {
				t.Errorf("validate: %v", err)
			}
		}()
	}
	wg.Wait()
	first := s.compiled
	if err := s.Compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if first == nil || s.compiled != first {
		t.Fatal("expected a single compiled tree")
	}
	if first.props["lineItems"].items.props["description"] == nil {
		t.Fatal("expected nested properties to be compiled")
	}
}

func TestValidateRequiresObjectRoot(t *testing.T) {
	t.Parallel()

	if err := String("x").Validate(map[string]any{}); err == nil {
		t.Fatal("expected non-object root to be rejected")
	}
	var nilSchema *Schema
	if err := nilSchema.Validate(map[string]any{"a": 1}); err != nil {
		t.Fatalf("nil schema accepts anything: %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(invoiceSchema().JSONSchema())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["type"] != "object" {
		t.Fatalf("expected object root, got %v", doc["type"])
	}
	if doc["additionalProperties"] != false {
		t.Fatalf("expected closed object, got %v", doc["additionalProperties"])
	}
	props := doc["properties"].(map[string]any)
	typ := props["type"].(map[string]any)
	if typ["type"] != "string" || len(typ["enum"].([]any)) != 2 {
		t.Fatalf("unexpected enum rendering %v", typ)
	}
	page := props["pageSize"].(map[string]any)
	if page["type"] != "integer" || page["minimum"] != float64(1) || page["maximum"] != float64(100) {
		t.Fatalf("unexpected integer rendering %v", page)
	}
	if props["date"].(map[string]any)["format"] != "date" {
		t.Fatalf("missing date format")
	}
	items := props["lineItems"].(map[string]any)["items"].(map[string]any)
	if !strings.Contains(string(raw), `"required":["contactId","type"]`) || items["type"] != "object" {
		t.Fatalf("unexpected rendering %s", raw)
	}
}
