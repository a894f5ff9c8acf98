// Package search answers ranked, authorized tool queries.
//
// A search embeds the query, asks the vector store for the nearest
// manifests, enriches the candidates from the registry in one batch call,
// filters them through IAM, and numbers the survivors. Filtering removes
// candidates but never reorders them.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/apperr"
	"github.com/fyrsmithlabs/toolgate/internal/iam"
	"github.com/fyrsmithlabs/toolgate/internal/logging"
	"github.com/fyrsmithlabs/toolgate/internal/registry"
	"github.com/fyrsmithlabs/toolgate/internal/vectorstore"
)

var tracer = otel.Tracer("toolgate.search")

// QueryEmbedder embeds search queries.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// MetadataSource resolves registry metadata for many URNs at once.
type MetadataSource interface {
	LookupMetadata(ctx context.Context, urns []string) (map[string]registry.Metadata, error)
}

// Request is a search request.
type Request struct {
	Query          string         `json:"query"`
	Limit          int            `json:"limit,omitempty"`
	Actor          *iam.Actor     `json:"actor,omitempty"`
	IncludeVectors bool           `json:"include_vectors,omitempty"`
	Filter         map[string]any `json:"filter,omitempty"`
}

// Result is one ranked, authorized tool.
type Result struct {
	Rank         int          `json:"rank"`
	ToolID       string       `json:"tool_id"`
	URN          string       `json:"urn"`
	Name         string       `json:"name"`
	Summary      string       `json:"summary"`
	Tags         []string     `json:"tags"`
	Capabilities []string     `json:"capabilities"`
	SchemaURI    string       `json:"schema_uri"`
	Score        *float64     `json:"score"`
	IAM          iam.Decision `json:"iam"`
	Vector       []float64    `json:"vector,omitempty"`
}

// Timings are stage durations in milliseconds.
type Timings struct {
	EmbedMS  float64 `json:"embed_ms"`
	VectorMS float64 `json:"vector_ms"`
	EnrichMS float64 `json:"enrich_ms"`
	IAMMS    float64 `json:"iam_ms"`
	TotalMS  float64 `json:"total_ms"`
}

// Response is a search response. Returned counts results after IAM;
// TotalCandidates counts them before.
type Response struct {
	OK              bool     `json:"ok"`
	Query           string   `json:"query"`
	Limit           int      `json:"limit"`
	Returned        int      `json:"returned"`
	TotalCandidates int      `json:"totalCandidates"`
	Results         []Result `json:"results"`
	Timings         Timings  `json:"timings"`
}

// Options configure a Service.
type Options struct {
	// MaxLimit caps Request.Limit. Defaults to vectorstore.DefaultMaxLimit.
	MaxLimit int
}

// Service runs searches.
type Service struct {
	embedder QueryEmbedder
	store    vectorstore.Store
	metadata MetadataSource
	filter   *iam.Filter
	maxLimit int
	logger   *logging.Logger
}

// NewService creates a Service.
func NewService(embedder QueryEmbedder, store vectorstore.Store, metadata MetadataSource, filter *iam.Filter, opts Options, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	if filter == nil {
		filter = iam.NewFilter(iam.DefaultOptions(), logger.Zap())
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = vectorstore.DefaultMaxLimit
	}
	return &Service{
		embedder: embedder,
		store:    store,
		metadata: metadata,
		filter:   filter,
		maxLimit: opts.MaxLimit,
		logger:   logger.Named("search"),
	}
}

// Search runs req. A blank query is an INVALID_INPUT error.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apperr.InvalidInput("query must not be empty")
	}

	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()

	start := time.Now()
	var timings Timings
	limit := vectorstore.ClampLimit(req.Limit, s.maxLimit)

	stage := time.Now()
	vector, err := s.embedder.EmbedQuery(ctx, query)
	timings.EmbedMS = sinceMS(stage)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("embedding query: %w", err))
	}

	stage = time.Now()
	hits, err := s.store.Search(ctx, vector, vectorstore.SearchOptions{
		Limit:          limit,
		MaxLimit:       s.maxLimit,
		IncludeVectors: req.IncludeVectors,
		Filter:         req.Filter,
	})
	timings.VectorMS = sinceMS(stage)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("vector search: %w", err))
	}

	stage = time.Now()
	results := s.enrich(ctx, hits)
	timings.EnrichMS = sinceMS(stage)

	stage = time.Now()
	candidates := make([]iam.Candidate, len(results))
	for i, r := range results {
		candidates[i] = iam.Candidate{URN: r.URN, ToolID: r.ToolID, Capabilities: r.Capabilities}
	}
	allowed := s.filter.Apply(ctx, candidates, req.Actor)
	out := make([]Result, len(allowed))
	for i, a := range allowed {
		r := results[a.Index]
		r.Rank = i + 1
		r.IAM = a.Decision
		out[i] = r
	}
	timings.IAMMS = sinceMS(stage)
	timings.TotalMS = sinceMS(start)

	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.Int("candidates", len(results)),
		attribute.Int("returned", len(out)),
	)
	s.logger.Debug(ctx, "search completed",
		zap.Int("limit", limit),
		zap.Int("candidates", len(results)),
		zap.Int("returned", len(out)),
		zap.Float64("total_ms", timings.TotalMS),
	)

	return &Response{
		OK:              true,
		Query:           query,
		Limit:           limit,
		Returned:        len(out),
		TotalCandidates: len(results),
		Results:         out,
		Timings:         timings,
	}, nil
}

// enrich converts hits to results, adding registry schema URIs and
// capabilities. When the registry has no entry, or the lookup fails, the
// schema URI stays empty and the indexed capabilities are kept so that IAM
// still sees what the manifest declared.
func (s *Service) enrich(ctx context.Context, hits []vectorstore.Hit) []Result {
	results := make([]Result, len(hits))
	urns := make([]string, 0, len(hits))
	for i, h := range hits {
		results[i] = Result{
			ToolID:       h.Payload.ToolID,
			URN:          h.Payload.URN,
			Name:         h.Payload.Name,
			Summary:      h.Payload.Summary,
			Tags:         nonNil(h.Payload.Tags),
			Capabilities: nonNil(h.Payload.Capabilities),
			Score:        h.Score,
			Vector:       h.Vector,
		}
		if results[i].ToolID == "" {
			results[i].ToolID = results[i].URN
		}
		if h.Payload.URN != "" {
			urns = append(urns, h.Payload.URN)
		}
	}
	if len(urns) == 0 || s.metadata == nil {
		return results
	}

	meta, err := s.metadata.LookupMetadata(ctx, urns)
	if err != nil {
		s.logger.Warn(ctx, "registry metadata lookup failed, results not enriched",
			zap.Int("urns", len(urns)), zap.Error(err))
		return results
	}
	for i := range results {
		md, ok := meta[results[i].URN]
		if !ok {
			continue
		}
		results[i].SchemaURI = md.SchemaURI
		results[i].Capabilities = nonNil(md.Capabilities)
	}
	return results
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func sinceMS(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
