package activation

import (
	"strings"

	"github.com/fyrsmithlabs/toolgate/internal/registry"
)

// Metadata is the display metadata derived from a manifest.
type Metadata struct {
	Name         string   `json:"name,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Version      string   `json:"version,omitempty"`
	Schema       string   `json:"schema,omitempty"`
	Owner        string   `json:"owner,omitempty"`
	Kind         string   `json:"kind,omitempty"`
	Tags         []string `json:"tags"`
	Entrypoint   string   `json:"entrypoint,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

type accessor func(m *registry.Manifest) string

// body reads a string at path in the manifest body, falling back to the
// same path inside a {"manifest": ...} envelope.
func body(path ...string) accessor {
	return func(m *registry.Manifest) string {
		if s := str(dig(m.Body, path...)); s != "" {
			return s
		}
		return str(dig(registry.Unwrap(m.Body), path...))
	}
}

func hints(key string) accessor {
	return func(m *registry.Manifest) string {
		h, _ := m.ActivationHints.(map[string]any)
		return str(h[key])
	}
}

func provenance(key string) accessor {
	return func(m *registry.Manifest) string {
		return str(m.Provenance[key])
	}
}

// metadataFields lists, per field, the accessors tried in priority order.
// The first non-empty string wins.
var metadataFields = []struct {
	set       func(*Metadata, string)
	accessors []accessor
}{
	{
		set: func(md *Metadata, v string) { md.Name = v },
		accessors: []accessor{
			func(m *registry.Manifest) string { return m.Name },
			body("activation", "name"),
			body("title"),
		},
	},
	{
		set: func(md *Metadata, v string) { md.Summary = v },
		accessors: []accessor{
			func(m *registry.Manifest) string { return m.Summary },
			body("activation", "summary"),
			body("activation", "description"),
		},
	},
	{
		set: func(md *Metadata, v string) { md.Version = v },
		accessors: []accessor{
			func(m *registry.Manifest) string { return m.Version },
			body("activation", "version"),
		},
	},
	{
		set: func(md *Metadata, v string) { md.Schema = v },
		accessors: []accessor{
			func(m *registry.Manifest) string { return m.SchemaURI },
			body("activation", "schema"),
			body("activation", "schema_uri"),
			body("input_schema", "$id"),
		},
	},
	{
		set: func(md *Metadata, v string) { md.Owner = v },
		accessors: []accessor{
			body("owner"),
			body("metadata", "owner"),
			provenance("owner"),
			func(m *registry.Manifest) string { return m.Issuer },
		},
	},
	{
		set: func(md *Metadata, v string) { md.Kind = v },
		accessors: []accessor{
			body("kind"),
			body("type"),
			body("metadata", "kind"),
			body("activation", "kind"),
		},
	},
	{
		set: func(md *Metadata, v string) { md.Entrypoint = v },
		accessors: []accessor{
			body("activation", "entrypoint"),
			hints("entrypoint"),
			body("entrypoint"),
			body("metadata", "entrypoint"),
			body("endpoint"),
		},
	},
	{
		set: func(md *Metadata, v string) { md.Instructions = v },
		accessors: []accessor{
			body("activation", "instructions"),
			hints("instructions"),
			body("instructions"),
			body("metadata", "instructions"),
		},
	},
}

func deriveMetadata(m *registry.Manifest) Metadata {
	md := Metadata{Tags: append([]string{}, m.Tags...)}
	for _, f := range metadataFields {
		for _, get := range f.accessors {
			if v := get(m); v != "" {
				f.set(&md, v)
				break
			}
		}
	}
	if len(md.Tags) == 0 {
		md.Tags = stringList(dig(m.Body, "activation", "tags"))
	}
	return md
}

func dig(doc map[string]any, path ...string) any {
	var cur any = doc
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func stringList(v any) []string {
	out := []string{}
	items, _ := v.([]any)
	for _, it := range items {
		if s := str(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}
