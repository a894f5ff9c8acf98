// Package mcp exposes tool search, activation, and diagnostics as MCP tools
// over the stdio transport (github.com/modelcontextprotocol/go-sdk/mcp).
//
// Tools:
//
//	tool_search       semantic search with IAM filtering
//	tool_activate     resolve and authorize one tool by URN or search result
//	tool_diagnostics  embedding, vector store, and registry state
//
// Coded errors are returned as tool errors so clients see the code and
// message in the result rather than a protocol failure.
package mcp
