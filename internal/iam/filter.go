package iam

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/config"
)

// Options configure a Filter.
type Options struct {
	// RequireActor drops every capability-bearing candidate when the actor
	// has no identity.
	RequireActor bool

	// AllowImplicitGrant allows capabilities that cannot be checked because
	// there is no actor identity or no Authorizer.
	AllowImplicitGrant bool

	// DenyOnError drops the candidate when the Authorizer fails. When false
	// the failing capability is recorded as allowed.
	DenyOnError bool

	Authorizer Authorizer
}

// DefaultOptions returns the default policy: deny on authorizer error,
// no implicit grants, actor optional.
func DefaultOptions() Options {
	return Options{DenyOnError: true}
}

// OptionsFromConfig builds Options from cfg. A StaticPolicy is installed
// when cfg declares grants.
func OptionsFromConfig(cfg config.IAMConfig) Options {
	opts := Options{
		RequireActor:       cfg.RequireActor,
		AllowImplicitGrant: cfg.AllowImplicitGrant,
		DenyOnError:        cfg.DenyOnErrorEnabled(),
	}
	if len(cfg.Grants) > 0 {
		opts.Authorizer = NewStaticPolicy(cfg.Grants)
	}
	return opts
}

// Filter applies Options to candidate lists.
type Filter struct {
	opts   Options
	logger *zap.Logger
}

// NewFilter creates a Filter.
func NewFilter(opts Options, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{opts: opts, logger: logger}
}

// Apply returns the allowed candidates in input order. It never reorders.
func (f *Filter) Apply(ctx context.Context, candidates []Candidate, actor *Actor) []Filtered {
	out := make([]Filtered, 0, len(candidates))
	for i, c := range candidates {
		d, ok := f.evaluate(ctx, c, actor)
		if !ok {
			f.logger.Debug("candidate denied",
				zap.String("urn", c.URN),
				zap.String("actor", actor.id()),
				zap.Int("decisions", len(d.Decisions)))
			continue
		}
		out = append(out, Filtered{Index: i, Candidate: c, Decision: d})
	}
	return out
}

// Check evaluates a single candidate and returns its decision whether or not
// it is allowed.
func (f *Filter) Check(ctx context.Context, c Candidate, actor *Actor) Decision {
	d, _ := f.evaluate(ctx, c, actor)
	return d
}

func (f *Filter) evaluate(ctx context.Context, c Candidate, actor *Actor) (Decision, bool) {
	d := Decision{Actor: actor.id(), Decisions: []CapabilityDecision{}}

	if len(c.Capabilities) == 0 {
		d.Allowed = true
		d.Reason = ReasonNoCapabilities
		return d, true
	}
	if f.opts.RequireActor && !actor.HasIdentity() {
		d.Reason = string(SourceMissingActor)
		return d, false
	}

	for _, capability := range c.Capabilities {
		cd := f.decide(ctx, capability, c, actor)
		d.Decisions = append(d.Decisions, cd)
		if !cd.Allowed {
			d.Reason = cd.Reason
			if d.Reason == "" {
				d.Reason = string(cd.Source)
			}
			return d, false
		}
	}
	d.Allowed = true
	d.Reason = ReasonAuthorized
	return d, true
}

func (f *Filter) decide(ctx context.Context, capability string, c Candidate, actor *Actor) CapabilityDecision {
	cd := CapabilityDecision{Capability: capability}

	switch {
	case actor.has(capability):
		cd.Allowed = true
		cd.Source = SourceActorCapabilities
	case !actor.HasIdentity():
		cd = f.implicit(cd, SourceMissingActor)
	case f.opts.Authorizer == nil:
		cd = f.implicit(cd, SourceNoAuthorizer)
	default:
		v, err := f.opts.Authorizer.Authorize(ctx, actor.ID, capability, c.resourceID())
		if err != nil {
			f.logger.Warn("authorizer failed",
				zap.String("capability", capability),
				zap.String("urn", c.URN),
				zap.Bool("deny_on_error", f.opts.DenyOnError),
				zap.Error(err))
			cd.Allowed = !f.opts.DenyOnError
			cd.Source = SourcePolicyError
			cd.Reason = err.Error()
			break
		}
		cd.Allowed = v.Allowed
		cd.Source = SourcePolicy
		cd.Reason = v.Reason
	}
	return cd
}

func (f *Filter) implicit(cd CapabilityDecision, denied Source) CapabilityDecision {
	if f.opts.AllowImplicitGrant {
		cd.Allowed = true
		cd.Source = SourceImplicitAllow
		return cd
	}
	cd.Source = denied
	return cd
}
