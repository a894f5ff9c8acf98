package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &doc))
	return doc
}

func TestResolveURN(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"direct", `{"urn":"urn:a","id":"other"}`, "urn:a"},
		{"metadata urn", `{"metadata":{"urn":"urn:b","id":"x"}}`, "urn:b"},
		{"metadata id", `{"metadata":{"id":"urn:c"}}`, "urn:c"},
		{"id", `{"id":"urn:d"}`, "urn:d"},
		{"blank urn skipped", `{"urn":"  ","id":"urn:e"}`, "urn:e"},
		{"non-string", `{"urn":42}`, ""},
		{"missing", `{"name":"x"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveURN(decode(t, tt.doc)))
		})
	}
}

func TestUnwrap(t *testing.T) {
	inner := Unwrap(decode(t, `{"manifest":{"urn":"urn:a"}}`))
	assert.Equal(t, "urn:a", inner["urn"])

	flat := decode(t, `{"urn":"urn:b","manifest":"not an object"}`)
	assert.Equal(t, flat, Unwrap(flat))
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{"flat strings", `{"capabilities":["fs.read","fs.write","fs.read"]}`, []string{"fs.read", "fs.write"}},
		{"objects", `{"capabilities":[{"capability":"net.fetch"},{"urn":"urn:cap:x"},{"other":1}]}`, []string{"net.fetch", "urn:cap:x"}},
		{"tools and resources", `{"capabilities":{"tools":["a",{"capability":"b"}],"resources":[{"urn":"r"},"a"]}}`, []string{"a", "b", "r"}},
		{"metadata", `{"metadata":{"capabilities":["m"]}}`, []string{"m"}},
		{"none", `{}`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Capabilities(decode(t, tt.doc)))
		})
	}
}

func TestExtract(t *testing.T) {
	f := Extract(decode(t, `{
		"urn": "urn:tool:files",
		"description": "Read files",
		"metadata": {"name": "Files", "version": "1.2.0", "tags": ["io"]},
		"keywords": ["files", "io"],
		"tags": ["local"],
		"schema_uri": "https://schemas.example/files.json",
		"provenance": {"issuer": "acme", "signature": "sig"},
		"activation_hints": {"transport": "stdio"},
		"capabilities": ["fs.read"]
	}`))

	assert.Equal(t, "urn:tool:files", f.URN)
	assert.Equal(t, "", f.ToolID)
	assert.Equal(t, "Files", f.Name)
	assert.Equal(t, "Read files", f.Summary)
	assert.Equal(t, "1.2.0", f.Version)
	assert.Equal(t, []string{"local", "files", "io"}, f.Tags)
	assert.Equal(t, []string{"fs.read"}, f.Capabilities)
	assert.Equal(t, "https://schemas.example/files.json", f.SchemaURI)
	assert.Equal(t, "acme", f.Issuer)
	assert.Equal(t, "sig", f.Signature)
	assert.Equal(t, map[string]any{"transport": "stdio"}, f.ActivationHints)
	assert.Nil(t, f.Resources)
}

func TestSearchDocument(t *testing.T) {
	tests := []struct {
		name string
		f    Fields
		want string
	}{
		{"all parts", Fields{URN: "u", Name: "Files", Summary: "Read files", Tags: []string{"io", "local"}, Capabilities: []string{"fs.read"}}, "Files Read files io local fs.read"},
		{"skips empty", Fields{URN: "u", Summary: "only summary"}, "only summary"},
		{"urn fallback", Fields{URN: "urn:bare"}, "urn:bare"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SearchDocument(tt.f))
		})
	}
}

func TestDigest_KeyOrderIndependent(t *testing.T) {
	a, err := Digest(decode(t, `{"b":1,"a":{"y":2,"x":1}}`))
	require.NoError(t, err)
	b, err := Digest(decode(t, `{"a":{"x":1,"y":2},"b":1}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, a)

	c, err := Digest(decode(t, `{"b":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestNewManifest(t *testing.T) {
	_, err := NewManifest(" ", nil, testNow)
	assert.ErrorIs(t, err, ErrInvalidURN)

	m, err := NewManifest("urn:a", map[string]any{"tool_id": "files"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "files", m.ToolID)
	assert.Equal(t, testNow.UTC(), m.UpdatedAt)

	m, err = NewManifest("urn:b", nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, "urn:b", m.ToolID, "tool id defaults to the urn")
	assert.NotNil(t, m.Body)
}
