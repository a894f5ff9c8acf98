package embeddings

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mode reports which backend serves embeddings.
type Mode string

const (
	ModeUninitialized Mode = "uninitialized"
	ModeTransformers  Mode = "transformers"
	ModeFallback      Mode = "fallback"
)

// Asymmetric retrieval prefixes.
const (
	DocumentPrefix = "search_document:"
	QueryPrefix    = "search_query:"
)

// ProviderFactory loads a model provider. It is called at most once per
// Service.
type ProviderFactory func(ctx context.Context) (Provider, error)

// Config configures a Service.
type Config struct {
	ModelID    string
	Dimensions int
	BatchSize  int
}

// Diagnostics is a snapshot of the service state.
type Diagnostics struct {
	ModelID    string `json:"modelId"`
	Mode       Mode   `json:"mode"`
	Dimensions int    `json:"dimensions"`
	BatchSize  int    `json:"batchSize"`
}

// Service generates document and query embeddings.
//
// The provider is loaded on first use; concurrent first callers wait for the
// same load. Once the service is in fallback mode it stays there for the
// life of the process.
type Service struct {
	factory ProviderFactory
	logger  *zap.Logger
	metrics *Metrics

	once sync.Once

	mu       sync.RWMutex
	cfg      Config
	provider Provider
	mode     Mode
}

// NewService creates a Service. A nil factory means no model is available.
func NewService(cfg Config, factory ProviderFactory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Service{
		factory: factory,
		logger:  logger,
		metrics: NewMetrics(logger),
		cfg:     cfg,
		mode:    ModeUninitialized,
	}
}

// EmbedDocuments embeds texts with the document prefix. It never fails
// because of the model: a failed batch switches the whole request, and the
// service, to the hash fallback.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = withPrefix(DocumentPrefix, t)
	}
	return s.embed(ctx, "embed_documents", prefixed)
}

// EmbedQuery embeds text with the query prefix.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	vecs, err := s.embed(ctx, "embed_query", []string{withPrefix(QueryPrefix, text)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Diagnostics returns the current model, mode, and sizing.
func (s *Service) Diagnostics() Diagnostics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Diagnostics{
		ModelID:    s.cfg.ModelID,
		Mode:       s.mode,
		Dimensions: s.cfg.Dimensions,
		BatchSize:  s.cfg.BatchSize,
	}
}

// Mode returns the current mode.
func (s *Service) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Close releases the provider.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider == nil {
		return nil
	}
	err := s.provider.Close()
	s.provider = nil
	return err
}

func (s *Service) embed(ctx context.Context, op string, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.init(ctx)
	start := time.Now()

	s.mu.RLock()
	provider, mode, dims, batch := s.provider, s.mode, s.cfg.Dimensions, s.cfg.BatchSize
	s.mu.RUnlock()

	if mode == ModeTransformers {
		vecs, err := embedBatches(ctx, provider, texts, batch)
		if err == nil {
			s.metrics.record(ctx, mode, op, time.Since(start), len(texts))
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.degrade(ctx, err)
	}

	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = HashEmbedding(t, dims)
	}
	s.metrics.record(ctx, ModeFallback, op, time.Since(start), len(texts))
	return out, nil
}

// init loads the provider exactly once.
func (s *Service) init(ctx context.Context) {
	s.once.Do(func() {
		if s.factory == nil {
			s.setFallback("no embedding provider configured")
			return
		}
		provider, err := s.factory(ctx)
		if err != nil || provider == nil {
			s.metrics.recordError(ctx, "load")
			s.logger.Warn("embedding model unavailable, using hash fallback",
				zap.String("model", s.cfg.ModelID),
				zap.Error(err),
			)
			s.setFallback("model load failed")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if dim := provider.Dimension(); dim > 0 && dim != s.cfg.Dimensions {
			s.logger.Warn("model dimension overrides configured dimension",
				zap.Int("configured", s.cfg.Dimensions),
				zap.Int("model", dim),
			)
			s.cfg.Dimensions = dim
		}
		s.provider = provider
		s.mode = ModeTransformers
		s.logger.Info("embedding model loaded",
			zap.String("model", s.cfg.ModelID),
			zap.Int("dimensions", s.cfg.Dimensions),
		)
	})
}

func (s *Service) setFallback(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeFallback
	s.logger.Info("embedding service in fallback mode", zap.String("reason", reason))
}

// degrade permanently switches to the hash fallback after a runtime failure.
func (s *Service) degrade(ctx context.Context, cause error) {
	s.metrics.recordError(ctx, "inference")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeFallback {
		return
	}
	s.mode = ModeFallback
	s.logger.Warn("embedding model failed, switching to hash fallback",
		zap.String("model", s.cfg.ModelID),
		zap.Error(cause),
	)
}

func embedBatches(ctx context.Context, p Provider, texts []string, batchSize int) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vecs, err := p.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), end-start)
		}
		for _, v := range vecs {
			f := make([]float64, len(v))
			for i, x := range v {
				f[i] = float64(x)
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func withPrefix(prefix, text string) string {
	if strings.HasPrefix(text, prefix) {
		return text
	}
	return prefix + " " + text
}
