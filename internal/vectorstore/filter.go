package vectorstore

import (
	"fmt"
	"slices"

	"github.com/qdrant/go-client/qdrant"
)

// matcher reports whether a payload passes a filter.
type matcher func(Payload) bool

// condition is one {"key": ..., "match": {"value"|"any": ...}} clause.
type condition struct {
	key    string
	values []string
}

type parsedFilter struct {
	must    []condition
	should  []condition
	mustNot []condition
}

// parseFilter accepts the subset of the Qdrant filter language that maps
// onto payload string fields: must, should, and must_not lists of match
// conditions with "value" or "any".
func parseFilter(f map[string]any) (*parsedFilter, error) {
	if len(f) == 0 {
		return nil, nil
	}
	pf := &parsedFilter{}
	for clause, raw := range f {
		var dst *[]condition
		switch clause {
		case "must":
			dst = &pf.must
		case "should":
			dst = &pf.should
		case "must_not":
			dst = &pf.mustNot
		default:
			return nil, fmt.Errorf("%w: clause %q", ErrUnsupportedFilter, clause)
		}
		conds, err := parseConditions(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFilter, clause, err)
		}
		*dst = conds
	}
	return pf, nil
}

func parseConditions(raw any) ([]condition, error) {
	var list []any
	switch l := raw.(type) {
	case []any:
		list = l
	case []map[string]any:
		for _, m := range l {
			list = append(list, m)
		}
	default:
		return nil, fmt.Errorf("expected a list of conditions")
	}
	out := make([]condition, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("condition must be an object")
		}
		key, _ := m["key"].(string)
		if !isPayloadField(key) {
			return nil, fmt.Errorf("unknown key %q", key)
		}
		match, ok := m["match"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("condition on %q has no match", key)
		}
		c := condition{key: key}
		if v, ok := match["value"]; ok {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("match value on %q must be a string", key)
			}
			c.values = []string{s}
		} else if strs, ok := match["any"].([]string); ok {
			c.values = append(c.values, strs...)
		} else if anyOf, ok := match["any"].([]any); ok {
			for _, v := range anyOf {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("match any on %q must hold strings", key)
				}
				c.values = append(c.values, s)
			}
		} else {
			return nil, fmt.Errorf("condition on %q needs match.value or match.any", key)
		}
		out = append(out, c)
	}
	return out, nil
}

func isPayloadField(key string) bool {
	switch key {
	case "tool_id", "urn", "name", "summary", "tags", "capabilities":
		return true
	}
	return false
}

func fieldValues(p Payload, key string) []string {
	switch key {
	case "tool_id":
		return []string{p.ToolID}
	case "urn":
		return []string{p.URN}
	case "name":
		return []string{p.Name}
	case "summary":
		return []string{p.Summary}
	case "tags":
		return p.Tags
	case "capabilities":
		return p.Capabilities
	}
	return nil
}

func (c condition) matches(p Payload) bool {
	for _, v := range fieldValues(p, c.key) {
		if slices.Contains(c.values, v) {
			return true
		}
	}
	return false
}

func (pf *parsedFilter) matcher() matcher {
	if pf == nil {
		return nil
	}
	return func(p Payload) bool {
		for _, c := range pf.must {
			if !c.matches(p) {
				return false
			}
		}
		for _, c := range pf.mustNot {
			if c.matches(p) {
				return false
			}
		}
		if len(pf.should) == 0 {
			return true
		}
		for _, c := range pf.should {
			if c.matches(p) {
				return true
			}
		}
		return false
	}
}

// compileFilter parses f into a matcher. A nil matcher accepts everything.
func compileFilter(f map[string]any) (matcher, error) {
	pf, err := parseFilter(f)
	if err != nil {
		return nil, err
	}
	return pf.matcher(), nil
}

// qdrantFilter converts a parsed filter for the gRPC client.
func (pf *parsedFilter) qdrantFilter() *qdrant.Filter {
	if pf == nil {
		return nil
	}
	return &qdrant.Filter{
		Must:    qdrantConditions(pf.must),
		Should:  qdrantConditions(pf.should),
		MustNot: qdrantConditions(pf.mustNot),
	}
}

func qdrantConditions(conds []condition) []*qdrant.Condition {
	if len(conds) == 0 {
		return nil
	}
	out := make([]*qdrant.Condition, len(conds))
	for i, c := range conds {
		match := &qdrant.Match{}
		if len(c.values) == 1 {
			match.MatchValue = &qdrant.Match_Keyword{Keyword: c.values[0]}
		} else {
			match.MatchValue = &qdrant.Match_Keywords{
				Keywords: &qdrant.RepeatedStrings{Strings: c.values},
			}
		}
		out[i] = &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{Key: c.key, Match: match},
			},
		}
	}
	return out
}
