package iam

import (
	"context"
	"strings"
)

// Wildcard matches any actor (as a grant key) or any capability (as a grant).
const Wildcard = "*"

// StaticPolicy is an Authorizer backed by a fixed grant table mapping actor
// ids to capabilities. A grant ending in ".*" matches every capability with
// that prefix.
type StaticPolicy struct {
	grants map[string][]string
}

var _ Authorizer = (*StaticPolicy)(nil)

// NewStaticPolicy copies grants into a StaticPolicy.
func NewStaticPolicy(grants map[string][]string) *StaticPolicy {
	cp := make(map[string][]string, len(grants))
	for actor, caps := range grants {
		cp[actor] = append([]string(nil), caps...)
	}
	return &StaticPolicy{grants: cp}
}

// Authorize implements Authorizer.
func (p *StaticPolicy) Authorize(_ context.Context, actorID, capability, _ string) (Verdict, error) {
	for _, key := range []string{actorID, Wildcard} {
		for _, g := range p.grants[key] {
			if grantMatches(g, capability) {
				return Verdict{Allowed: true, Reason: "granted to " + key}, nil
			}
		}
	}
	return Verdict{Allowed: false, Reason: "no grant for " + capability}, nil
}

func grantMatches(grant, capability string) bool {
	switch {
	case grant == Wildcard || grant == capability:
		return true
	case strings.HasSuffix(grant, ".*"):
		return strings.HasPrefix(capability, strings.TrimSuffix(grant, "*"))
	default:
		return false
	}
}
