package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/activation"
	"github.com/fyrsmithlabs/toolgate/internal/iam"
	"github.com/fyrsmithlabs/toolgate/internal/search"
)

const (
	toolSearch      = "tool_search"
	toolActivate    = "tool_activate"
	toolDiagnostics = "tool_diagnostics"
)

type actorInput struct {
	ID           string   `json:"id,omitempty" jsonschema:"Actor identity used for authorizer checks"`
	Role         string   `json:"role,omitempty" jsonschema:"Actor role"`
	Capabilities []string `json:"capabilities,omitempty" jsonschema:"Capabilities the actor already holds"`
}

func (a *actorInput) actor() *iam.Actor {
	if a == nil {
		return nil
	}
	return &iam.Actor{ID: a.ID, Role: a.Role, Capabilities: a.Capabilities}
}

type toolSearchInput struct {
	Query          string         `json:"query" jsonschema:"Natural language description of the tool you need"`
	Limit          int            `json:"limit,omitempty" jsonschema:"Maximum results to return (default 5)"`
	Actor          *actorInput    `json:"actor,omitempty" jsonschema:"Caller identity and capabilities for IAM filtering"`
	IncludeVectors bool           `json:"include_vectors,omitempty" jsonschema:"Include stored vectors in results"`
	Filter         map[string]any `json:"filter,omitempty" jsonschema:"Payload filter: field to value or list of values"`
}

type toolActivateInput struct {
	URN               string      `json:"urn,omitempty" jsonschema:"Tool URN"`
	ToolID            string      `json:"tool_id,omitempty" jsonschema:"Tool id, used when urn is not set"`
	Tool              any         `json:"tool,omitempty" jsonschema:"Tool URN string or object with urn, tool_id, or id"`
	Selection         any         `json:"selection,omitempty" jsonschema:"A tool_search result or an object wrapping one"`
	Result            any         `json:"result,omitempty" jsonschema:"A tool_search result"`
	Actor             *actorInput `json:"actor,omitempty" jsonschema:"Caller identity and capabilities"`
	IncludeManifest   *bool       `json:"include_manifest,omitempty" jsonschema:"Include the manifest body (default true)"`
	IncludeProvenance *bool       `json:"include_provenance,omitempty" jsonschema:"Include provenance (default true)"`
}

// params converts the typed input back to the loose map activation accepts,
// so every identifier shape resolves the same way as over HTTP.
func (in toolActivateInput) params() (activation.Params, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return activation.Params{}, err
	}
	input := map[string]any{}
	if err := json.Unmarshal(data, &input); err != nil {
		return activation.Params{}, err
	}
	delete(input, "actor")
	return activation.Params{
		Input:             input,
		Actor:             in.Actor.actor(),
		IncludeManifest:   in.IncludeManifest,
		IncludeProvenance: in.IncludeProvenance,
	}, nil
}

type toolDiagnosticsInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolSearch,
		Description: "Find tools by describing what you need. Results are ranked by semantic similarity and filtered to tools the actor is allowed to use.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolActivate,
		Description: "Activate a tool returned by tool_search. Returns its manifest, metadata, and IAM decision, or an IAM_DENIED error.",
	}, s.handleActivate)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolDiagnostics,
		Description: "Report embedding mode, vector store driver, and registry state.",
	}, s.handleDiagnostics)
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, args toolSearchInput) (_ *mcp.CallToolResult, _ any, err error) {
	done := s.metrics.track(ctx, toolSearch)
	defer func() { done(err) }()

	limit := args.Limit
	if limit <= 0 {
		limit = 5
	}
	resp, err := s.deps.Search.Search(ctx, search.Request{
		Query:          args.Query,
		Limit:          limit,
		Actor:          args.Actor.actor(),
		IncludeVectors: args.IncludeVectors,
		Filter:         args.Filter,
	})
	if err != nil {
		return nil, nil, s.toolError(toolSearch, err)
	}

	var text string
	if len(resp.Results) == 0 {
		text = fmt.Sprintf("No tools found for %q (%d candidates before IAM)", resp.Query, resp.TotalCandidates)
	} else {
		names := make([]string, len(resp.Results))
		for i, r := range resp.Results {
			names[i] = r.URN
		}
		text = fmt.Sprintf("Found %d tool(s) for %q: %s", len(names), resp.Query, strings.Join(names, ", "))
	}
	return textResult(text), resp, nil
}

func (s *Server) handleActivate(ctx context.Context, _ *mcp.CallToolRequest, args toolActivateInput) (_ *mcp.CallToolResult, _ any, err error) {
	done := s.metrics.track(ctx, toolActivate)
	defer func() { done(err) }()

	p, err := args.params()
	if err != nil {
		return nil, nil, s.toolError(toolActivate, err)
	}
	resp, err := s.deps.Activation.Activate(ctx, p)
	if err != nil {
		return nil, nil, s.toolError(toolActivate, err)
	}
	return textResult(fmt.Sprintf("Activated %s (%s)", resp.URN, resp.Metadata.Name)), resp, nil
}

func (s *Server) handleDiagnostics(ctx context.Context, _ *mcp.CallToolRequest, _ toolDiagnosticsInput) (_ *mcp.CallToolResult, _ any, err error) {
	done := s.metrics.track(ctx, toolDiagnostics)
	defer func() { done(err) }()

	var out any = map[string]any{"ok": true}
	if s.deps.Diagnostics != nil {
		out = s.deps.Diagnostics(ctx)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, nil, s.toolError(toolDiagnostics, err)
	}
	return textResult(string(data)), out, nil
}

func (s *Server) toolError(tool string, err error) error {
	s.logger.Debug("tool call failed", zap.String("tool", tool), zap.Error(err))
	return err
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
