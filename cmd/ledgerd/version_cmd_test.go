package main

import (
	"testing"

	"pkt.systems/ledgerd/internal/version"
)

func TestVersionCommand(t *testing.T) {
	t.Setenv("LEDGERD_CONFIG_DIR", t.TempDir())

	cases := []struct {
		args []string
		want string
	}{
		{args: []string{"version"}, want: version.Module() + " " + version.Current() + "\n"},
		{args: []string{"version", "--short"}, want: version.Current() + "\n"},
	}
	for _, tc := range cases {
		stdout, stderr, err := executeRootCommand(t, tc.args...)
		if err != nil {
			t.Fatalf("%v: %v", tc.args, err)
		}
		if stderr != "" {
			t.Fatalf("%v: expected empty stderr, got %q", tc.args, stderr)
		}
		if stdout != tc.want {
			t.Fatalf("%v: got %q want %q", tc.args, stdout, tc.want)
		}
	}
}
