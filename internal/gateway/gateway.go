// Package gateway resolves, authorizes, validates and dispatches tool calls.
// It is the only path from the MCP surface to an executor.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rs/xid"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/audit"
	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/correlation"
	"pkt.systems/ledgerd/internal/permission"
	"pkt.systems/ledgerd/internal/schema"
	"pkt.systems/ledgerd/internal/svcfields"
	"pkt.systems/ledgerd/internal/tools"
)

// Names of the two tools the MCP surface exposes.
const (
	CategoryToolName = "get_tools_in_category"
	ExecuteToolName  = "execute_tool"
)

var categoryInput = schema.Object(schema.Props{
	"category": schema.String("Tool category name").Length(1, 64),
}, "category")

// Config wires a Gateway.
type Config struct {
	Registry *tools.Registry
	Engine   *permission.Engine
	Audit    audit.Sink
	Clock    clock.Clock
	Logger   pslog.Logger
}

// Gateway is stateless between calls and safe for concurrent use.
type Gateway struct {
	registry *tools.Registry
	engine   *permission.Engine
	audit    audit.Sink
	clock    clock.Clock
	base     pslog.Logger
	logger   pslog.Logger
	metrics  *gatewayMetrics
}

// New returns a Gateway. Registry and Engine are required.
func New(cfg Config) (*Gateway, error) {
	if cfg.Registry == nil || cfg.Engine == nil {
		return nil, errors.New("gateway: registry and permission engine are required")
	}
	sink := cfg.Audit
	if sink == nil {
		sink = audit.Discard{}
	}
	base := svcfields.Ensure(cfg.Logger)
	logger := svcfields.WithSubsystem(base, "gateway")
	return &Gateway{
		registry: cfg.Registry,
		engine:   cfg.Engine,
		audit:    sink,
		clock:    clock.Or(cfg.Clock),
		base:     base,
		logger:   logger,
		metrics:  newGatewayMetrics(logger),
	}, nil
}

// Manifest is the description of one tool as shown to the model.
type Manifest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// CategoryListing is the result of get_tools_in_category.
type CategoryListing struct {
	Category string     `json:"category"`
	Tools    []Manifest `json:"tools"`
}

// Categories lists every category with its tool count.
func (g *Gateway) Categories() []tools.CategoryInfo {
	return g.registry.Categories()
}

// CategoryTools returns the tools of category that user may call.
func (g *Gateway) CategoryTools(ctx context.Context, user, category string) (CategoryListing, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	defs, ok := g.registry.Category(category)
	if !ok {
		return CategoryListing{}, &schema.ViolationError{
			Path:   "category",
			Reason: fmt.Sprintf("unknown category %q, valid categories: %s", category, strings.Join(g.registry.CategoryNames(), ", ")),
		}
	}
	visible := permission.VisibleTools(ctx, g.engine, user, defs)
	listing := CategoryListing{Category: category, Tools: make([]Manifest, 0, len(visible))}
	for _, def := range visible {
		listing.Tools = append(listing.Tools, Manifest{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Input.JSONSchema(),
		})
	}
	g.metrics.recordCategory(ctx, category, len(listing.Tools))
	return listing, nil
}

// Execute runs the tool name for user. On failure the error is always a
// *ToolError; on success the executor's result is returned unchanged.
func (g *Gateway) Execute(ctx context.Context, user, name string, args map[string]any) (any, error) {
	name = strings.TrimSpace(name)
	callID := xid.New().String()
	start := g.clock.Now()
	callLogger := svcfields.WithCall(g.base, callID, user, name)
	corrID := correlation.ID(ctx)
	if corrID != "" {
		callLogger = callLogger.With(svcfields.CorrelationKey, corrID)
	}
	ctx = pslog.ContextWithLogger(ctx, callLogger)
	logger := callLogger.With(svcfields.SubsystemKey, "gateway")

	out, err := g.execute(ctx, user, name, args)
	duration := g.clock.Now().Sub(start)

	var te *ToolError
	outcome := audit.OutcomeOK
	if err != nil {
		te = Classify(err)
		switch te.Code {
		case CodePermissionDenied:
			outcome = audit.OutcomeDenied
			logger.Info("gateway.execute.denied", "reason", te.Message)
		case CodeInternal:
			outcome = audit.OutcomeError
			logger.Error("gateway.execute.internal", "error", err)
		default:
			outcome = audit.OutcomeError
			logger.Info("gateway.execute.failed", "code", string(te.Code), "retryable", te.Retryable, "error", err)
		}
	} else {
		logger.Debug("gateway.execute.ok", "duration", duration)
	}

	ev := audit.Event{CallID: callID, CorrelationID: corrID, UserID: user, Tool: name, Outcome: outcome, Duration: duration, At: start}
	var code Code
	if te != nil {
		code = te.Code
		ev.Code = string(code)
	}
	g.audit.Record(ctx, ev)
	g.metrics.recordExecute(ctx, name, code, duration)

	if te != nil {
		return nil, te
	}
	return out, nil
}

func (g *Gateway) execute(ctx context.Context, user, name string, args map[string]any) (any, error) {
	if user == "" {
		return nil, newToolError(CodePermissionDenied, "an authenticated user is required", nil)
	}
	if args == nil {
		args = map[string]any{}
	}
	if name == CategoryToolName {
		if err := categoryInput.Validate(args); err != nil {
			return nil, err
		}
		category, _ := args["category"].(string)
		return g.CategoryTools(ctx, user, category)
	}

	def, ok := g.registry.Lookup(name)
	if !ok {
		return nil, newToolError(CodeUnknownTool,
			fmt.Sprintf("unknown tool %q, call %s to discover available tools", name, CategoryToolName), nil)
	}
	decision, err := g.engine.CheckPermission(ctx, user, def.Name)
	if err != nil {
		if errors.Is(err, permission.ErrUnknownTool) {
			return nil, newToolError(CodeUnknownTool, fmt.Sprintf("unknown tool %q", name), err)
		}
		te := newToolError(CodeInternal, "permission check unavailable, try again shortly", err)
		te.Retryable = true
		return nil, te
	}
	if !decision.Allowed {
		return nil, newToolError(CodePermissionDenied, decision.Reason, nil)
	}
	if err := def.Input.Validate(args); err != nil {
		return nil, err
	}
	return dispatch(ctx, def, tools.Call{UserID: user, Args: args})
}

// dispatch calls the handler and converts a panic into an internal error.
func dispatch(ctx context.Context, def tools.Definition, call tools.Call) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newToolError(CodeInternal, internalMessage, fmt.Errorf("panic in %s: %v\n%s", def.Name, r, debug.Stack()))
			out = nil
		}
	}()
	return def.Handler(ctx, call)
}

