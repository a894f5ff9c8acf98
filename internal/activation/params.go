package activation

import (
	"strings"

	"github.com/fyrsmithlabs/toolgate/internal/iam"
)

// identifierKeys are checked in order at the top level of the input.
var identifierKeys = []string{"urn", "tool_id", "tool", "selector", "selection", "result"}

// nestedKeys are checked in order inside nested identifier objects.
var nestedKeys = []string{"urn", "tool_id", "id"}

const maxIdentifierDepth = 4

// Params is an activation request. Input is the decoded JSON request; the
// typed fields override what Input carries.
type Params struct {
	Input             map[string]any
	Actor             *iam.Actor
	IncludeManifest   *bool
	IncludeProvenance *bool
}

// Identifier returns the first identifier found in p.Input, or "".
func (p Params) Identifier() string {
	for _, key := range identifierKeys {
		if id := identifier(p.Input[key], 0); id != "" {
			return id
		}
	}
	return ""
}

func identifier(v any, depth int) string {
	if depth > maxIdentifierDepth {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		for _, key := range nestedKeys {
			if id := identifier(t[key], depth+1); id != "" {
				return id
			}
		}
		// Selections sometimes wrap the chosen result one level deeper.
		for _, key := range identifierKeys[2:] {
			if id := identifier(t[key], depth+1); id != "" {
				return id
			}
		}
	}
	return ""
}

// actor returns p.Actor, or the actor described by Input["actor"]. A string
// value is taken as the actor ID.
func (p Params) actor() *iam.Actor {
	if p.Actor != nil {
		return p.Actor
	}
	switch t := p.Input["actor"].(type) {
	case string:
		if id := strings.TrimSpace(t); id != "" {
			return &iam.Actor{ID: id}
		}
	case map[string]any:
		a := &iam.Actor{}
		a.ID, _ = t["id"].(string)
		a.Role, _ = t["role"].(string)
		if caps, ok := t["capabilities"].([]any); ok {
			for _, c := range caps {
				if s, ok := c.(string); ok && s != "" {
					a.Capabilities = append(a.Capabilities, s)
				}
			}
		}
		return a
	}
	return nil
}

func (p Params) includeManifest() bool {
	return flag(p.IncludeManifest, p.Input, "include_manifest", "includeManifest")
}

func (p Params) includeProvenance() bool {
	return flag(p.IncludeProvenance, p.Input, "include_provenance", "includeProvenance")
}

// flag resolves a toggle that defaults to true.
func flag(explicit *bool, input map[string]any, keys ...string) bool {
	if explicit != nil {
		return *explicit
	}
	for _, k := range keys {
		if b, ok := input[k].(bool); ok {
			return b
		}
	}
	return true
}
