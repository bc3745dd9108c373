package mcp

import (
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"pkt.systems/ledgerd/internal/gateway"
)

// toolResult renders a gateway outcome. Failures stay inside the result with
// IsError set so the model can read the envelope.
func (s *Server) toolResult(out any, err error) *mcpsdk.CallToolResult {
	if err != nil {
		return errorResult(gateway.Classify(err))
	}
	raw, err := json.Marshal(out)
	if err != nil {
		s.logger.Error("mcp.tool.encode_failed", "error", err)
		return errorResult(gateway.Classify(err))
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
	}
}

func errorResult(te *gateway.ToolError) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(te.JSON())}},
	}
}
