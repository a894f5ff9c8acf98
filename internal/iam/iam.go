// Package iam implements the capability gate applied to search results and
// activations.
//
// A candidate declaring no capabilities always passes. Otherwise every
// declared capability must be allowed, evaluated in declaration order:
//
//  1. the actor's own capability set (actor_capabilities)
//  2. without an actor identity, or without an Authorizer, the implicit grant
//     switch decides (implicit_allow, else missing_actor / no_authorizer)
//  3. the Authorizer (iam_policy, or iam_policy_error when it fails)
//
// The first denial drops the candidate. Every evaluated decision, including
// the denying one, is kept on the Decision for auditing.
package iam

import (
	"context"
)

// Source records which rule produced a capability decision.
type Source string

const (
	SourceActorCapabilities Source = "actor_capabilities"
	SourceImplicitAllow     Source = "implicit_allow"
	SourcePolicy            Source = "iam_policy"
	SourcePolicyError       Source = "iam_policy_error"
	SourceMissingActor      Source = "missing_actor"
	SourceNoAuthorizer      Source = "no_authorizer"
)

// Decision reasons.
const (
	ReasonNoCapabilities = "no_capabilities"
	ReasonAuthorized     = "authorized"
)

// Actor is the identity a request runs as. An empty ID means no identity.
type Actor struct {
	ID           string   `json:"id,omitempty"`
	Role         string   `json:"role,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// HasIdentity reports whether a is non-nil with a non-empty ID.
func (a *Actor) HasIdentity() bool {
	return a != nil && a.ID != ""
}

func (a *Actor) id() string {
	if a == nil {
		return ""
	}
	return a.ID
}

func (a *Actor) has(capability string) bool {
	if a == nil {
		return false
	}
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// CapabilityDecision is the outcome for one capability.
type CapabilityDecision struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Source     Source `json:"source"`
	Reason     string `json:"reason,omitempty"`
}

// Decision is the outcome for one candidate.
type Decision struct {
	Allowed   bool                 `json:"allowed"`
	Reason    string               `json:"reason"`
	Actor     string               `json:"actor,omitempty"`
	Decisions []CapabilityDecision `json:"decisions"`
}

// Verdict is an Authorizer answer.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Authorizer is the external policy oracle.
type Authorizer interface {
	Authorize(ctx context.Context, actorID, capability, resourceID string) (Verdict, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, actorID, capability, resourceID string) (Verdict, error)

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, actorID, capability, resourceID string) (Verdict, error) {
	return f(ctx, actorID, capability, resourceID)
}

// Candidate is an item to authorize.
type Candidate struct {
	URN          string
	ToolID       string
	Capabilities []string
}

func (c Candidate) resourceID() string {
	if c.URN != "" {
		return c.URN
	}
	return c.ToolID
}

// Filtered is a candidate that passed, with its index in the input slice.
type Filtered struct {
	Index     int
	Candidate Candidate
	Decision  Decision
}
