// Package mcp serves the ledgerd gateway over the Model Context Protocol.
//
// # Manifest
//
// A connecting client sees exactly two tools, whatever the size of the
// internal registry:
//
//   - get_tools_in_category{category} returns the manifests (name,
//     description, input schema) of the tools in one category that the
//     caller's permission level allows.
//   - execute_tool{name, arguments} runs one registry tool, or
//     get_tools_in_category itself.
//
// New registry tools never change these two signatures.
//
// # Errors
//
// Tool failures are returned as a successful MCP response whose result has
// isError set and whose only text content is the JSON envelope
//
//	{"error": "...", "isError": true, "code": "permission_denied", "retryable": false}
//
// so the model can read and react to them.
//
// # Authentication
//
// Handler wraps the streamable HTTP transport in bearer-token verification.
// The verified TokenInfo.UserID is the user every call runs as. Sessions
// without token info (in-process or stdio transports) run as LocalUser when
// one is configured and are rejected otherwise.
//
// # Resources
//
// Stored resources are readable through resources/read at
// {baseURL}/resources/{id}, restricted to their owner.
package mcp
