// Toolgate serves semantic tool discovery with governed activation.
//
// Usage:
//
//	# HTTP API
//	toolgate serve --load
//
//	# MCP server on stdio
//	toolgate mcp
//
//	# Index manifests, then query them
//	toolgate load ./manifests
//	toolgate search "read files" --capability fs.read
//	toolgate activate urn:tool:files --actor agent-7
//
// Configuration comes from ~/.config/toolgate/config.yaml and TOOLGATE_*
// environment variables.
package main

import (
	"fmt"
	"os"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
