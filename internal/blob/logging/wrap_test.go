package logging_test

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/blob"
	"pkt.systems/ledgerd/internal/blob/blobtest"
	"pkt.systems/ledgerd/internal/blob/logging"
	"pkt.systems/ledgerd/internal/blob/memory"
)

type failing struct {
	blob.Backend
	err error
}

func (f failing) Get(context.Context, string) (blob.Object, error) {
	return blob.Object{}, f.err
}

func TestWrapPreservesBackendBehaviour(t *testing.T) {
	t.Parallel()

	blobtest.RunBackendSuite(t, logging.Wrap(memory.New(), pslog.NoopLogger(), "mem"), "wrapped")
}

func TestWrapPassesErrorsThrough(t *testing.T) {
	t.Parallel()

	boom := blob.NewTransientError(errors.New("connection reset"))
	wrapped := logging.Wrap(failing{Backend: memory.New(), err: boom}, nil, "mem")
	_, err := wrapped.Get(context.Background(), "k")
	if !errors.Is(err, boom) || !blob.IsTransient(err) {
		t.Fatalf("expected transient error to pass through, got %v", err)
	}
}
