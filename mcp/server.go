package mcp

import (
	"context"
	"errors"
	"net/http"
	"strings"

	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/correlation"
	"pkt.systems/ledgerd/internal/gateway"
	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/svcfields"
	"pkt.systems/ledgerd/internal/version"
)

// Config wires a Server.
type Config struct {
	Gateway   *gateway.Gateway
	Resources *resource.Store
	// Verifier authenticates HTTP sessions. Handler refuses to build without
	// one.
	Verifier Verifier
	// LocalUser is the identity of sessions that carry no bearer token.
	LocalUser string
	// ResourceMetadataURL is advertised in WWW-Authenticate on 401s.
	ResourceMetadataURL string
	Logger              pslog.Logger
}

// Server owns the go-sdk server and its two tools.
type Server struct {
	cfg          Config
	sdk          *mcpsdk.Server
	logger       pslog.Logger
	transportLog pslog.Logger
}

// New builds the MCP server. Gateway is required; Resources is optional and
// enables resources/read.
func New(cfg Config) (*Server, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("mcp: gateway required")
	}
	logger := svcfields.Ensure(cfg.Logger)
	s := &Server{
		cfg:          cfg,
		logger:       svcfields.WithSubsystem(logger, "mcp"),
		transportLog: svcfields.WithSubsystem(logger, "mcp.transport.http"),
	}
	s.sdk = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "ledgerd",
		Version: version.Current(),
	}, &mcpsdk.ServerOptions{
		Instructions: instructions(cfg.Gateway.Categories()),
	})
	s.registerTools()
	if cfg.Resources != nil {
		s.registerResources()
	}
	return s, nil
}

// SDK returns the underlying go-sdk server, for in-process transports.
func (s *Server) SDK() *mcpsdk.Server {
	return s.sdk
}

// Handler returns the streamable HTTP transport behind bearer verification.
func (s *Server) Handler() (http.Handler, error) {
	if s.cfg.Verifier == nil {
		return nil, errors.New("mcp: a token verifier is required for the HTTP transport")
	}
	streamable := mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		s.transportLog.Debug("mcp.transport.request", "method", r.Method, "remote", r.RemoteAddr)
		return s.sdk
	}, nil)
	return mcpauth.RequireBearerToken(
		s.cfg.Verifier.VerifyToken,
		&mcpauth.RequireBearerTokenOptions{ResourceMetadataURL: s.cfg.ResourceMetadataURL},
	)(streamable), nil
}

type categoryToolInput struct {
	Category string `json:"category" jsonschema:"Category name such as invoices, reports, banking, contacts, organisation, expenses or email"`
}

type executeToolInput struct {
	Name      string         `json:"name" jsonschema:"Tool name returned by get_tools_in_category"`
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"Arguments matching the tool's inputSchema"`
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        gateway.CategoryToolName,
		Description: categoryToolDescription,
	}, s.handleCategoryTool)
	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        gateway.ExecuteToolName,
		Description: executeToolDescription,
	}, s.handleExecuteTool)
}

func (s *Server) handleCategoryTool(ctx context.Context, req *mcpsdk.CallToolRequest, input categoryToolInput) (*mcpsdk.CallToolResult, any, error) {
	ctx = withCorrelation(ctx, req.Extra)
	out, err := s.cfg.Gateway.Execute(ctx, s.userOf(req.Extra), gateway.CategoryToolName, map[string]any{"category": input.Category})
	return s.toolResult(out, err), nil, nil
}

func (s *Server) handleExecuteTool(ctx context.Context, req *mcpsdk.CallToolRequest, input executeToolInput) (*mcpsdk.CallToolResult, any, error) {
	ctx = withCorrelation(ctx, req.Extra)
	out, err := s.cfg.Gateway.Execute(ctx, s.userOf(req.Extra), input.Name, input.Arguments)
	return s.toolResult(out, err), nil, nil
}

// withCorrelation takes the id from the carrying HTTP request, or generates
// one for transports without headers.
func withCorrelation(ctx context.Context, extra *mcpsdk.RequestExtra) context.Context {
	if extra != nil {
		if id, ok := correlation.FromHeader(extra.Header); ok {
			return correlation.With(ctx, id)
		}
	}
	return correlation.With(ctx, correlation.Generate())
}

// userOf resolves the caller. An empty result is rejected by the gateway.
func (s *Server) userOf(extra *mcpsdk.RequestExtra) string {
	if extra != nil && extra.TokenInfo != nil {
		if user := strings.TrimSpace(extra.TokenInfo.UserID); user != "" {
			return user
		}
	}
	return s.cfg.LocalUser
}
