// Package activation resolves a single tool manifest for use and gates it
// through IAM.
//
// Activate never returns a partially authorized manifest: the caller gets a
// full response or a coded error (INVALID_INPUT, NOT_FOUND, IAM_DENIED).
// After a successful activation an event is published and a context entry
// recorded; both are best effort and only logged when they fail.
package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/toolgate/internal/apperr"
	"github.com/fyrsmithlabs/toolgate/internal/events"
	"github.com/fyrsmithlabs/toolgate/internal/iam"
	"github.com/fyrsmithlabs/toolgate/internal/logging"
	"github.com/fyrsmithlabs/toolgate/internal/registry"
)

var tracer = otel.Tracer("toolgate.activation")

// DefaultSideEffectTimeout bounds event publishing and context recording.
const DefaultSideEffectTimeout = 2 * time.Second

// Entry is what a ContextRecorder receives for each activation.
type Entry struct {
	URN          string    `json:"urn"`
	ToolID       string    `json:"tool_id"`
	ActorID      string    `json:"actor_id,omitempty"`
	Capabilities []string  `json:"capabilities"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// ContextRecorder records activations in the project context.
type ContextRecorder interface {
	RecordActivation(ctx context.Context, entry Entry) error
}

// Response is a successful activation.
type Response struct {
	OK              bool           `json:"ok"`
	URN             string         `json:"urn"`
	ToolID          string         `json:"tool_id"`
	Digest          string         `json:"digest"`
	Issuer          string         `json:"issuer,omitempty"`
	Signature       string         `json:"signature,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ResolvedAt      time.Time      `json:"resolved_at"`
	Capabilities    []string       `json:"capabilities"`
	Metadata        Metadata       `json:"metadata"`
	IAM             iam.Decision   `json:"iam"`
	Manifest        map[string]any `json:"manifest,omitempty"`
	Provenance      map[string]any `json:"provenance,omitempty"`
	ActivationHints any            `json:"activation_hints,omitempty"`
	Resources       any            `json:"resources,omitempty"`
}

// Options configure a Service. Publisher and Recorder are optional.
type Options struct {
	Publisher         events.Publisher
	Recorder          ContextRecorder
	SideEffectTimeout time.Duration
}

// Service activates tools.
type Service struct {
	registry registry.Registry
	filter   *iam.Filter
	opts     Options
	logger   *logging.Logger
	now      func() time.Time
}

// NewService creates a Service. A nil filter uses iam.DefaultOptions.
func NewService(reg registry.Registry, filter *iam.Filter, opts Options, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	if filter == nil {
		filter = iam.NewFilter(iam.DefaultOptions(), logger.Zap())
	}
	if opts.SideEffectTimeout <= 0 {
		opts.SideEffectTimeout = DefaultSideEffectTimeout
	}
	return &Service{
		registry: reg,
		filter:   filter,
		opts:     opts,
		logger:   logger.Named("activation"),
		now:      time.Now,
	}
}

// Activate resolves the tool named by p and authorizes it for p's actor.
func (s *Service) Activate(ctx context.Context, p Params) (*Response, error) {
	urn := p.Identifier()
	if urn == "" {
		return nil, apperr.InvalidInput("one of urn, tool_id, tool, selector, selection, or result is required")
	}

	ctx, span := tracer.Start(ctx, "activation.Activate")
	defer span.End()
	span.SetAttributes(attribute.String("urn", urn))

	resp, err := s.activate(ctx, urn, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.sideEffects(ctx, resp)
	return resp, nil
}

func (s *Service) activate(ctx context.Context, urn string, p Params) (*Response, error) {
	m, err := s.registry.GetManifest(ctx, urn)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, apperr.NotFound("manifest not found").With("urn", urn)
	}
	if err != nil {
		return nil, fmt.Errorf("loading manifest %s: %w", urn, err)
	}

	caps, err := s.registry.Capabilities(ctx, m.URN)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, apperr.NotFound("manifest not found").With("urn", urn)
	}
	if err != nil {
		return nil, fmt.Errorf("loading capabilities for %s: %w", urn, err)
	}

	actor := p.actor()
	decision := s.filter.Check(ctx, iam.Candidate{URN: m.URN, ToolID: m.ToolID, Capabilities: caps}, actor)
	if !decision.Allowed {
		s.logger.Info(ctx, "activation denied",
			zap.String("urn", m.URN),
			zap.String("actor", decision.Actor),
			zap.String("reason", decision.Reason))
		return nil, apperr.New(apperr.CodeIAMDenied, "activation denied: "+decision.Reason).
			With("urn", m.URN).
			With("actor", decision.Actor)
	}

	resp := &Response{
		OK:              true,
		URN:             m.URN,
		ToolID:          m.ToolID,
		Digest:          m.Digest,
		Issuer:          m.Issuer,
		Signature:       m.Signature,
		UpdatedAt:       m.UpdatedAt,
		ResolvedAt:      s.now().UTC(),
		Capabilities:    append([]string{}, caps...),
		Metadata:        deriveMetadata(m),
		IAM:             decision,
		ActivationHints: m.ActivationHints,
		Resources:       m.Resources,
	}
	if p.includeManifest() {
		resp.Manifest = m.Body
	}
	if p.includeProvenance() {
		resp.Provenance = m.Provenance
	}

	s.logger.Info(ctx, "tool activated",
		zap.String("urn", resp.URN),
		zap.String("actor", decision.Actor),
		zap.Int("capabilities", len(caps)))
	return resp, nil
}

// sideEffects publishes the activation event and records the context entry
// concurrently, waiting for both up to SideEffectTimeout. Failures are
// logged and dropped.
func (s *Service) sideEffects(ctx context.Context, resp *Response) {
	if s.opts.Publisher == nil && s.opts.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SideEffectTimeout)
	defer cancel()

	var g errgroup.Group
	if pub := s.opts.Publisher; pub != nil {
		g.Go(func() error {
			err := pub.Publish(ctx, events.Event{
				Type:    events.TypeToolActivated,
				Subject: resp.URN,
				Time:    resp.ResolvedAt,
				Data: map[string]any{
					"urn":          resp.URN,
					"tool_id":      resp.ToolID,
					"digest":       resp.Digest,
					"actor":        resp.IAM.Actor,
					"capabilities": resp.Capabilities,
				},
			})
			if err != nil {
				s.logger.Warn(ctx, "activation event publish failed", zap.String("urn", resp.URN), zap.Error(err))
			}
			return nil
		})
	}
	if rec := s.opts.Recorder; rec != nil {
		g.Go(func() error {
			err := rec.RecordActivation(ctx, Entry{
				URN:          resp.URN,
				ToolID:       resp.ToolID,
				ActorID:      resp.IAM.Actor,
				Capabilities: resp.Capabilities,
				ResolvedAt:   resp.ResolvedAt,
			})
			if err != nil {
				s.logger.Warn(ctx, "activation context record failed", zap.String("urn", resp.URN), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
