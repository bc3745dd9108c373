package credential

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/svcfields"
	"pkt.systems/ledgerd/internal/watchfile"
)

// fileDocument is the on-disk layout:
//
//	users:
//	  user-123:
//	    xero:
//	      access_token: ...
//	      tenant_id: ...
//	      expires_at: 2026-03-01T10:00:00Z
//	    gmail:
//	      access_token: ...
type fileDocument struct {
	Users map[string]map[string]Token `yaml:"users"`
}

type snapshot map[string]map[string]Token

// File serves tokens from a YAML file and reloads it when it changes. A
// reload that fails to parse keeps the previous snapshot.
type File struct {
	path    string
	clock   clock.Clock
	logger  pslog.Logger
	current atomic.Pointer[snapshot]
	watcher *watchfile.Watcher
	done    chan struct{}
	once    sync.Once
}

// OpenFile loads path and, when watch is set, reloads it on change.
func OpenFile(path string, watch bool, clk clock.Clock, logger pslog.Logger) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("credential: file path required")
	}
	f := &File{
		path:   path,
		clock:  clock.Or(clk),
		logger: svcfields.WithSubsystem(logger, "credential.file"),
		done:   make(chan struct{}),
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	if watch {
		w, err := watchfile.New(path, f.logger)
		if err != nil {
			return nil, fmt.Errorf("credential: %w", err)
		}
		f.watcher = w
		go f.loop()
	} else {
		close(f.done)
	}
	return f, nil
}

// Reload re-reads the file. On failure the previous snapshot stays active.
func (f *File) Reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("credential: read %s: %w", f.path, err)
	}
	snap, err := parseFile(raw)
	if err != nil {
		return fmt.Errorf("credential: parse %s: %w", f.path, err)
	}
	f.current.Store(&snap)
	f.logger.Info("credential.file.loaded", "path", f.path, "users", len(snap))
	return nil
}

func parseFile(raw []byte) (snapshot, error) {
	var doc fileDocument
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if len(bytes.TrimSpace(raw)) == 0 {
			return snapshot{}, nil
		}
		return nil, err
	}
	snap := make(snapshot, len(doc.Users))
	for user, providers := range doc.Users {
		byProvider := make(map[string]Token, len(providers))
		for name, tok := range providers {
			byProvider[normalizeProvider(name)] = tok
		}
		snap[user] = byProvider
	}
	return snap, nil
}

func (f *File) loop() {
	defer close(f.done)
	for range f.watcher.Events() {
		if err := f.Reload(); err != nil {
			f.logger.Warn("credential.file.reload_failed", "path", f.path, "error", err)
		}
	}
}

// Token implements Provider.
func (f *File) Token(ctx context.Context, userID, provider string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	snap := *f.current.Load()
	tok, ok := snap[userID][normalizeProvider(provider)]
	return resolve(tok, ok, userID, provider, f.clock.Now())
}

// Close stops watching the file.
func (f *File) Close() error {
	var err error
	f.once.Do(func() {
		if f.watcher != nil {
			err = f.watcher.Close()
		}
		<-f.done
	})
	return err
}
