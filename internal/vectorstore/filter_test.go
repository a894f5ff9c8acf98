package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func match(key string, m map[string]any) map[string]any {
	return map[string]any{"key": key, "match": m}
}

func TestCompileFilter(t *testing.T) {
	files := Payload{ToolID: "fs", Tags: []string{"files", "local"}, Capabilities: []string{"fs.read"}}
	net := Payload{ToolID: "http", Tags: []string{"network"}, Capabilities: []string{"net.fetch"}}

	tests := []struct {
		name   string
		filter map[string]any
		want   []bool // files, net
	}{
		{"nil", nil, []bool{true, true}},
		{"must value", map[string]any{
			"must": []any{match("tags", map[string]any{"value": "files"})},
		}, []bool{true, false}},
		{"must any", map[string]any{
			"must": []any{match("capabilities", map[string]any{"any": []any{"net.fetch", "x"}})},
		}, []bool{false, true}},
		{"must_not", map[string]any{
			"must_not": []any{match("tool_id", map[string]any{"value": "fs"})},
		}, []bool{false, true}},
		{"should", map[string]any{
			"should": []map[string]any{
				match("tags", map[string]any{"value": "local"}),
				match("tags", map[string]any{"value": "nothing"}),
			},
		}, []bool{true, false}},
		{"any of strings", map[string]any{
			"must": []any{match("tags", map[string]any{"any": []string{"network"}})},
		}, []bool{false, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := compileFilter(tt.filter)
			require.NoError(t, err)
			if m == nil {
				assert.Equal(t, []bool{true, true}, tt.want)
				return
			}
			assert.Equal(t, tt.want[0], m(files))
			assert.Equal(t, tt.want[1], m(net))
		})
	}
}

func TestCompileFilter_Unsupported(t *testing.T) {
	tests := map[string]map[string]any{
		"unknown clause": {"min_should": []any{}},
		"not a list":     {"must": "tags"},
		"unknown key":    {"must": []any{match("owner", map[string]any{"value": "x"})}},
		"range":          {"must": []any{match("tags", map[string]any{"gt": 1})}},
		"non-string":     {"must": []any{match("tags", map[string]any{"value": 3})}},
		"no match":       {"must": []any{map[string]any{"key": "tags"}}},
	}
	for name, f := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := compileFilter(f)
			assert.ErrorIs(t, err, ErrUnsupportedFilter)
		})
	}
}

func TestQdrantFilter(t *testing.T) {
	pf, err := parseFilter(map[string]any{
		"must": []any{
			match("tags", map[string]any{"value": "files"}),
			match("urn", map[string]any{"any": []any{"urn:a", "urn:b"}}),
		},
	})
	require.NoError(t, err)

	f := pf.qdrantFilter()
	require.Len(t, f.Must, 2)
	assert.Empty(t, f.Should)

	first := f.Must[0].GetField()
	assert.Equal(t, "tags", first.GetKey())
	assert.Equal(t, "files", first.GetMatch().GetKeyword())

	second := f.Must[1].GetField()
	assert.Equal(t, "urn", second.GetKey())
	assert.Equal(t, []string{"urn:a", "urn:b"}, second.GetMatch().GetKeywords().GetStrings())

	var nilFilter *parsedFilter
	assert.Nil(t, nilFilter.qdrantFilter())
	assert.IsType(t, &qdrant.Filter{}, f)
}
