package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/toolgate/internal/activation"
	"github.com/fyrsmithlabs/toolgate/internal/apperr"
	"github.com/fyrsmithlabs/toolgate/internal/search"
)

type fakeSearcher struct {
	last search.Request
	resp *search.Response
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (*search.Response, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &search.Response{OK: true, Query: req.Query, Limit: req.Limit, Results: []search.Result{}}, nil
}

type fakeActivator struct {
	last activation.Params
	err  error
}

func (f *fakeActivator) Activate(_ context.Context, p activation.Params) (*activation.Response, error) {
	f.last = p
	if f.err != nil {
		return nil, f.err
	}
	return &activation.Response{
		OK:       true,
		URN:      p.Identifier(),
		Metadata: activation.Metadata{Name: "Alpha"},
	}, nil
}

// connect starts s on an in-memory transport and returns a client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ss, err := s.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func structured(t *testing.T, res *mcp.CallToolResult, out any) {
	t.Helper()
	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, Deps{})
	assert.ErrorContains(t, err, "search service is required")

	_, err = NewServer(nil, Deps{Search: &fakeSearcher{}})
	assert.ErrorContains(t, err, "activation service is required")

	s, err := NewServer(&Config{}, Deps{Search: &fakeSearcher{}, Activation: &fakeActivator{}})
	require.NoError(t, err)
	assert.NotNil(t, s.logger)
}

func TestListTools(t *testing.T) {
	s, err := NewServer(nil, Deps{Search: &fakeSearcher{}, Activation: &fakeActivator{}})
	require.NoError(t, err)
	cs := connect(t, s)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"tool_search", "tool_activate", "tool_diagnostics"}, names)
}

func TestToolSearch(t *testing.T) {
	score := 0.9
	fs := &fakeSearcher{resp: &search.Response{
		OK:              true,
		Query:           "read files",
		Limit:           5,
		Returned:        1,
		TotalCandidates: 2,
		Results:         []search.Result{{Rank: 1, URN: "urn:tool:files", Score: &score}},
	}}
	s, err := NewServer(nil, Deps{Search: fs, Activation: &fakeActivator{}})
	require.NoError(t, err)
	cs := connect(t, s)

	res := call(t, cs, "tool_search", map[string]any{
		"query": "read files",
		"actor": map[string]any{"id": "agent-7", "capabilities": []any{"fs.read"}},
	})
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "urn:tool:files")

	assert.Equal(t, "read files", fs.last.Query)
	assert.Equal(t, 5, fs.last.Limit, "default limit")
	require.NotNil(t, fs.last.Actor)
	assert.Equal(t, "agent-7", fs.last.Actor.ID)
	assert.Equal(t, []string{"fs.read"}, fs.last.Actor.Capabilities)

	var out search.Response
	structured(t, res, &out)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "urn:tool:files", out.Results[0].URN)
	assert.Equal(t, 2, out.TotalCandidates)
}

func TestToolSearch_NoResults(t *testing.T) {
	s, err := NewServer(nil, Deps{Search: &fakeSearcher{}, Activation: &fakeActivator{}})
	require.NoError(t, err)
	cs := connect(t, s)

	res := call(t, cs, "tool_search", map[string]any{"query": "nothing", "limit": 2})
	require.False(t, res.IsError)
	assert.Contains(t, text(t, res), "No tools found")
}

func TestToolSearch_Error(t *testing.T) {
	fs := &fakeSearcher{err: apperr.InvalidInput("query must not be empty")}
	s, err := NewServer(nil, Deps{Search: fs, Activation: &fakeActivator{}})
	require.NoError(t, err)
	cs := connect(t, s)

	res := call(t, cs, "tool_search", map[string]any{"query": " "})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "INVALID_INPUT")
}

func TestToolActivate(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		wantURN string
	}{
		{"urn", map[string]any{"urn": "urn:alpha"}, "urn:alpha"},
		{"tool_id", map[string]any{"tool_id": "urn:beta"}, "urn:beta"},
		{"tool object", map[string]any{"tool": map[string]any{"id": "urn:gamma"}}, "urn:gamma"},
		{"search result", map[string]any{"result": map[string]any{"rank": 1, "urn": "urn:delta"}}, "urn:delta"},
		{"selection", map[string]any{"selection": map[string]any{"result": map[string]any{"tool_id": "urn:eps"}}}, "urn:eps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeActivator{}
			s, err := NewServer(nil, Deps{Search: &fakeSearcher{}, Activation: fa})
			require.NoError(t, err)
			cs := connect(t, s)

			res := call(t, cs, "tool_activate", tt.args)
			require.False(t, res.IsError, text(t, res))
			assert.Equal(t, tt.wantURN, fa.last.Identifier())
			assert.Contains(t, text(t, res), tt.wantURN)

			var out activation.Response
			structured(t, res, &out)
			assert.Equal(t, tt.wantURN, out.URN)
		})
	}
}

func TestToolActivate_ActorAndToggles(t *testing.T) {
	fa := &fakeActivator{}
	s, err := NewServer(nil, Deps{Search: &fakeSearcher{}, Activation: fa})
	require.NoError(t, err)
	cs := connect(t, s)

	res := call(t, cs, "tool_activate", map[string]any{
		"urn":              "urn:alpha",
		"actor":            map[string]any{"id": "agent-7", "role": "builder"},
		"include_manifest": false,
	})
	require.False(t, res.IsError)
	require.NotNil(t, fa.last.Actor)
	assert.Equal(t, "agent-7", fa.last.Actor.ID)
	assert.Equal(t, "builder", fa.last.Actor.Role)
	require.NotNil(t, fa.last.IncludeManifest)
	assert.False(t, *fa.last.IncludeManifest)
	assert.Nil(t, fa.last.IncludeProvenance)
	assert.NotContains(t, fa.last.Input, "actor")
}

func TestToolActivate_Denied(t *testing.T) {
	denied := apperr.New(apperr.CodeIAMDenied, "activation denied: capability tool.execute denied").With("urn", "urn:alpha")
	s, err := NewServer(nil, Deps{Search: &fakeSearcher{}, Activation: &fakeActivator{err: denied}})
	require.NoError(t, err)
	cs := connect(t, s)

	res := call(t, cs, "tool_activate", map[string]any{"urn": "urn:alpha"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "IAM_DENIED")
}

func TestToolDiagnostics(t *testing.T) {
	s, err := NewServer(nil, Deps{
		Search:     &fakeSearcher{},
		Activation: &fakeActivator{},
		Diagnostics: func(context.Context) any {
			return map[string]any{"vector_mode": "fallback"}
		},
	})
	require.NoError(t, err)
	cs := connect(t, s)

	res := call(t, cs, "tool_diagnostics", map[string]any{})
	require.False(t, res.IsError)
	assert.JSONEq(t, `{"vector_mode":"fallback"}`, text(t, res))

	var out map[string]any
	structured(t, res, &out)
	assert.Equal(t, "fallback", out["vector_mode"])
}

func TestToolActivateInput_Params(t *testing.T) {
	yes := true
	p, err := toolActivateInput{
		ToolID:            "urn:x",
		IncludeProvenance: &yes,
		Actor:             &actorInput{Capabilities: []string{"a"}},
	}.params()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tool_id": "urn:x", "include_provenance": true}, p.Input)
	assert.Equal(t, []string{"a"}, p.Actor.Capabilities)
	assert.Same(t, &yes, p.IncludeProvenance)

	p, err = toolActivateInput{URN: "urn:y"}.params()
	require.NoError(t, err)
	assert.Nil(t, p.Actor)
}
