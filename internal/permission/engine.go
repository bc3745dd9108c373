package permission

import (
	"context"
	"fmt"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/svcfields"
)

// Requirements resolves the level a tool needs.
type Requirements interface {
	RequiredLevel(tool string) (Level, bool)
}

// Gated is anything carrying a required level, typically a tool definition.
type Gated interface {
	RequiredLevel() Level
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed  bool
	Reason   string
	Required Level
	Current  Level
}

// Engine combines a level Store with static tool requirements.
type Engine struct {
	store  Store
	reqs   Requirements
	logger pslog.Logger
}

// NewEngine returns an engine over store and reqs.
func NewEngine(store Store, reqs Requirements, logger pslog.Logger) *Engine {
	return &Engine{
		store:  store,
		reqs:   reqs,
		logger: svcfields.WithSubsystem(logger, "permission.engine"),
	}
}

// CheckPermission decides whether user may call tool. Unknown tools return
// ErrUnknownTool. A store failure denies the call and returns the error.
func (e *Engine) CheckPermission(ctx context.Context, user, tool string) (Decision, error) {
	required, ok := e.reqs.RequiredLevel(tool)
	if !ok {
		return Decision{Reason: fmt.Sprintf("unknown tool %q", tool)}, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	current, err := e.Level(ctx, user)
	if err != nil {
		e.logger.Warn("permission.check.store_error", svcfields.UserKey, user, svcfields.ToolKey, tool, "error", err)
		return Decision{
			Reason:   "permission check unavailable",
			Required: required,
			Current:  ReadOnly,
		}, err
	}
	decision := Decision{Required: required, Current: current, Allowed: current >= required}
	if !decision.Allowed {
		decision.Reason = DenialReason(tool, required)
		e.logger.Info("permission.check.denied",
			svcfields.UserKey, user,
			svcfields.ToolKey, tool,
			"required", required.String(),
			"current", current.String(),
		)
	}
	return decision, nil
}

// DenialReason is the user-facing explanation for a denied call.
func DenialReason(tool string, required Level) string {
	return fmt.Sprintf("%s requires %s permission or higher", tool, required.DisplayName())
}

// Level returns user's level, creating the default ReadOnly record on first
// contact.
func (e *Engine) Level(ctx context.Context, user string) (Level, error) {
	if user == "" {
		return ReadOnly, fmt.Errorf("permission: user required")
	}
	level, ok, err := e.store.Get(ctx, user)
	if err != nil {
		return ReadOnly, err
	}
	if ok {
		return level, nil
	}
	return e.store.EnsureDefault(ctx, user)
}

// SetLevel changes user's level. The change applies to the next check.
func (e *Engine) SetLevel(ctx context.Context, user string, level Level) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, int(level))
	}
	if err := e.store.Set(ctx, user, level); err != nil {
		return err
	}
	e.logger.Info("permission.level.set", svcfields.UserKey, user, "level", level.String())
	return nil
}

// VisibleTools returns the subset of defs user may call, preserving order. A
// store failure treats the user as ReadOnly.
func VisibleTools[T Gated](ctx context.Context, e *Engine, user string, defs []T) []T {
	level, err := e.Level(ctx, user)
	if err != nil {
		e.logger.Warn("permission.visible.store_error", svcfields.UserKey, user, "error", err)
		level = ReadOnly
	}
	out := make([]T, 0, len(defs))
	for _, def := range defs {
		if def.RequiredLevel() <= level {
			out = append(out, def)
		}
	}
	return out
}
