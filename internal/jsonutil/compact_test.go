package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestCompactMatchesStdlib(t *testing.T) {
	t.Parallel()

	cases := []string{
		` { "Invoices" : [ 1 , 2 , 3 ] } `,
		"\n\t{\"nested\": {\"a\": 1, \"b\":true}}",
		`{"empty": [   ] , "obj" : {   }}`,
		`{"string":"\"quoted\"","escape":"\\tab\n"}`,
		`{"already":"compact"}`,
		"{\"big\":\"" + strings.Repeat("x", 4096) + "\" }",
	}
	for _, tc := range cases {
		got, err := Compact(strings.NewReader(tc), 0)
		if err != nil {
			t.Fatalf("compact %q: %v", tc[:min(len(tc), 40)], err)
		}
		var want bytes.Buffer
		if err := json.Compact(&want, []byte(tc)); err != nil {
			t.Fatalf("reference: %v", err)
		}
		if string(got) != want.String() {
			t.Fatalf("unexpected output\n got: %q\nwant: %q", got, want.String())
		}
	}
}

func TestCompactRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, tc := range []string{`{`, `{"a":}`, `{"a"  "b"}`, `0 1`, `<html>`, ``} {
		if _, err := Compact(strings.NewReader(tc), 0); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected invalid for %q, got %v", tc, err)
		}
	}
}

func TestCompactEnforcesCap(t *testing.T) {
	t.Parallel()

	body := `{"a":"` + strings.Repeat("y", 100) + `"}`
	if _, err := Compact(strings.NewReader(body), 50); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
	if _, err := Compact(strings.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("body at cap rejected: %v", err)
	}
}
