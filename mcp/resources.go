package mcp

import (
	"context"
	"errors"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/svcfields"
)

func (s *Server) registerResources() {
	s.sdk.AddResourceTemplate(&mcpsdk.ResourceTemplate{
		Name:        "ledgerd-resource",
		Title:       "Stored tool result",
		Description: "Full result of a tool call whose inline response was a preview. Resources expire one hour after creation.",
		MIMEType:    resource.MimeType,
		URITemplate: s.cfg.Resources.URI("{id}"),
	}, s.readResource)
}

func (s *Server) readResource(ctx context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	uri := req.Params.URI
	id, ok := strings.CutPrefix(uri, s.cfg.Resources.URI(""))
	if !ok || id == "" || strings.Contains(id, "/") {
		return nil, mcpsdk.ResourceNotFoundError(uri)
	}
	user := s.userOf(req.Extra)
	res, err := s.cfg.Resources.RetrieveOwned(ctx, id, user)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return nil, mcpsdk.ResourceNotFoundError(uri)
		}
		s.logger.Warn("mcp.resource.read_failed", svcfields.ResourceKey, id, svcfields.UserKey, user, "error", err)
		return nil, resource.ErrStorageUnavailable
	}
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{
			URI:      uri,
			MIMEType: resource.MimeType,
			Text:     string(res.Data),
		}},
	}, nil
}
