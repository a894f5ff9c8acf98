package registry

import (
	"strings"
)

// Fields are the values read out of a heterogeneous manifest body.
type Fields struct {
	URN             string
	ToolID          string
	Name            string
	Summary         string
	Version         string
	Tags            []string
	Capabilities    []string
	SchemaURI       string
	Issuer          string
	Signature       string
	Provenance      map[string]any
	ActivationHints any
	Resources       any
}

// Unwrap returns the object inside a {"manifest": {...}} envelope, or doc
// itself when there is no envelope.
func Unwrap(doc map[string]any) map[string]any {
	if inner, ok := doc["manifest"].(map[string]any); ok {
		return inner
	}
	return doc
}

// ResolveURN finds the manifest URN: urn, metadata.urn, metadata.id, then id.
func ResolveURN(doc map[string]any) string {
	return firstString(doc,
		[]string{"urn"},
		[]string{"metadata", "urn"},
		[]string{"metadata", "id"},
		[]string{"id"},
	)
}

// Extract reads the indexed fields from a manifest body.
func Extract(doc map[string]any) Fields {
	f := Fields{
		URN:    ResolveURN(doc),
		ToolID: firstString(doc, []string{"tool_id"}, []string{"metadata", "tool_id"}),
		Name:   firstString(doc, []string{"name"}, []string{"metadata", "name"}, []string{"title"}),
		Summary: firstString(doc,
			[]string{"summary"},
			[]string{"description"},
			[]string{"metadata", "summary"},
			[]string{"metadata", "description"},
		),
		Version:   firstString(doc, []string{"version"}, []string{"metadata", "version"}),
		SchemaURI: firstString(doc, []string{"schema_uri"}, []string{"metadata", "schema_uri"}, []string{"$schema"}, []string{"schema"}),
		Issuer:    firstString(doc, []string{"issuer"}, []string{"provenance", "issuer"}, []string{"metadata", "issuer"}),
		Signature: firstString(doc, []string{"signature"}, []string{"provenance", "signature"}),
	}

	f.Tags = stringSet(lookup(doc, "tags"), lookup(doc, "keywords"), lookup(doc, "metadata", "tags"))
	f.Capabilities = Capabilities(doc)

	if p, ok := doc["provenance"].(map[string]any); ok {
		f.Provenance = p
	}
	f.ActivationHints = doc["activation_hints"]
	f.Resources = doc["resources"]
	return f
}

// Capabilities reads the declared capabilities. Both a flat list and a
// {"tools": [...], "resources": [...]} object are accepted; entries are
// strings or objects carrying "capability" or "urn".
func Capabilities(doc map[string]any) []string {
	v := lookup(doc, "capabilities")
	if v == nil {
		v = lookup(doc, "metadata", "capabilities")
	}
	set := newOrderedSet()
	switch c := v.(type) {
	case map[string]any:
		set.addEntries(c["tools"])
		set.addEntries(c["resources"])
	default:
		set.addEntries(c)
	}
	return set.items
}

// SearchDocument joins the non-empty name, summary, tags, and capabilities
// into the text that is embedded for a manifest. It falls back to the URN.
func SearchDocument(f Fields) string {
	parts := make([]string, 0, 4)
	if f.Name != "" {
		parts = append(parts, f.Name)
	}
	if f.Summary != "" {
		parts = append(parts, f.Summary)
	}
	if len(f.Tags) > 0 {
		parts = append(parts, strings.Join(f.Tags, " "))
	}
	if len(f.Capabilities) > 0 {
		parts = append(parts, strings.Join(f.Capabilities, " "))
	}
	if len(parts) == 0 {
		return f.URN
	}
	return strings.Join(parts, " ")
}

func lookup(doc map[string]any, path ...string) any {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func firstString(doc map[string]any, paths ...[]string) string {
	for _, p := range paths {
		if s, ok := lookup(doc, p...).(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]struct{}{}, items: []string{}}
}

func (s *orderedSet) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet) addEntries(v any) {
	switch list := v.(type) {
	case []string:
		for _, e := range list {
			s.add(e)
		}
	case []any:
		for _, e := range list {
			switch entry := e.(type) {
			case string:
				s.add(entry)
			case map[string]any:
				if c, ok := entry["capability"].(string); ok && strings.TrimSpace(c) != "" {
					s.add(c)
				} else if u, ok := entry["urn"].(string); ok {
					s.add(u)
				}
			}
		}
	case string:
		s.add(list)
	}
}

func stringSet(values ...any) []string {
	set := newOrderedSet()
	for _, v := range values {
		set.addEntries(v)
	}
	return set.items
}
