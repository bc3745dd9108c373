// Package permission decides which tools a user may see and call. Every user
// holds one ordinal Level; a tool is callable iff the user's level is at or
// above the tool's required level. Users without a record are ReadOnly.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Level is an ordinal capability tier.
type Level int

const (
	ReadOnly Level = iota
	CreateDraft
	ApproveUpdate
	FullAccess
)

var (
	// ErrUnknownTool is returned for tool names with no required level.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidLevel is returned for levels outside ReadOnly..FullAccess.
	ErrInvalidLevel = errors.New("invalid permission level")
)

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	return l >= ReadOnly && l <= FullAccess
}

// String returns the configuration name of l.
func (l Level) String() string {
	switch l {
	case ReadOnly:
		return "read_only"
	case CreateDraft:
		return "create_draft"
	case ApproveUpdate:
		return "approve_update"
	case FullAccess:
		return "full_access"
	default:
		return "level(" + strconv.Itoa(int(l)) + ")"
	}
}

// DisplayName returns the user-facing name of l.
func (l Level) DisplayName() string {
	switch l {
	case ReadOnly:
		return "Read Only"
	case CreateDraft:
		return "Create Drafts"
	case ApproveUpdate:
		return "Approve & Update"
	case FullAccess:
		return "Full Access"
	default:
		return l.String()
	}
}

// MarshalText encodes l by its configuration name.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText accepts anything ParseLevel does.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel accepts configuration names, display names and ordinals.
func ParseLevel(raw string) (Level, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_", "&", "").Replace(norm)
	norm = strings.ReplaceAll(norm, "__", "_")
	switch norm {
	case "read_only", "readonly", "read":
		return ReadOnly, nil
	case "create_draft", "create_drafts", "createdraft", "draft":
		return CreateDraft, nil
	case "approve_update", "approveupdate", "approve":
		return ApproveUpdate, nil
	case "full_access", "fullaccess", "full":
		return FullAccess, nil
	}
	if n, err := strconv.Atoi(norm); err == nil && Level(n).Valid() {
		return Level(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, raw)
}

// Levels lists every level in ascending order.
func Levels() []Level {
	return []Level{ReadOnly, CreateDraft, ApproveUpdate, FullAccess}
}

// Store persists per-user levels.
type Store interface {
	// Get returns the user's level and whether a record exists.
	Get(ctx context.Context, user string) (Level, bool, error)
	// Set records level for user, creating the record if needed.
	Set(ctx context.Context, user string, level Level) error
	// EnsureDefault creates a ReadOnly record when none exists and returns
	// the user's current level.
	EnsureDefault(ctx context.Context, user string) (Level, error)
	Close() error
}
