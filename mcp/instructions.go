package mcp

import (
	"fmt"
	"strings"

	"pkt.systems/ledgerd/internal/tools"
)

const categoryToolDescription = `List the tools available in one category, with their input schemas.
Call this before execute_tool; only tools your permission level allows are returned.`

const executeToolDescription = `Run a tool returned by get_tools_in_category.
"arguments" must match the tool's inputSchema. Paginated tools return nextCursor while more pages
exist; pass it back unchanged as arguments.cursor. Failures return {"error", "isError": true, "code", "retryable"}.`

func instructions(categories []tools.CategoryInfo) string {
	var b strings.Builder
	b.WriteString("ledgerd gives access to the user's Xero organisation and Gmail mailbox.\n\n")
	b.WriteString("Only two tools are listed. To act:\n")
	b.WriteString("1. Call get_tools_in_category with one of the categories below.\n")
	b.WriteString("2. Call execute_tool with a returned tool name and arguments matching its inputSchema.\n\n")
	b.WriteString("Categories:\n")
	for _, c := range categories {
		fmt.Fprintf(&b, "- %s (%d tools): %s\n", c.Name, c.Tools, strings.TrimSpace(c.Description))
	}
	b.WriteString(`
Large results come back as a preview plus a resource link ({baseURL}/resources/{id}).
Read the full data with resources/read within one hour; after that the link returns not found.
Cursors also expire after one hour. On invalid_cursor restart the listing without a cursor.
Write tools need a higher permission level; on permission_denied tell the user which level is required.`)
	return b.String()
}
