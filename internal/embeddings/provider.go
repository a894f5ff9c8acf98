// Package embeddings turns text into fixed-dimension vectors.
//
// Service is the entry point. It loads a model Provider once, prefixes
// document and query texts, batches provider calls, and degrades to a
// deterministic hash embedding for the rest of the process when no model is
// available or a model call fails.
//
// Providers: FastEmbed (local ONNX, requires cgo) and TEI (HuggingFace Text
// Embeddings Inference over HTTP).
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates a provider call failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrProviderDisabled is returned by NewProvider for provider "none".
	ErrProviderDisabled = errors.New("embedding provider disabled")

	// ErrFastEmbedNotAvailable is returned when the binary was built without cgo.
	ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without CGO support, use the tei provider instead)")
)

// Provider is an embedding model backend. Embed receives already-prefixed
// texts and returns one vector per text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	// Provider is "fastembed", "tei", or "none".
	Provider string
	Model    string
	// BaseURL is the TEI endpoint.
	BaseURL string
	// CacheDir is the FastEmbed model cache.
	CacheDir string
	// Dimensions is used for TEI, whose dimension cannot be read from the model name.
	Dimensions int
}

// NewProvider creates the configured Provider.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		p, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "tei":
		dim := cfg.Dimensions
		if dim == 0 {
			dim = dimensionFromModelName(cfg.Model)
		}
		p, err := NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: dim,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "none":
		return nil, ErrProviderDisabled
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// dimensionFromModelName guesses the output size of common model families.
func dimensionFromModelName(model string) int {
	if dim, ok := knownModelDimensions[model]; ok {
		return dim
	}
	switch m := strings.ToLower(model); {
	case strings.Contains(m, "large"):
		return 1024
	case strings.Contains(m, "base"), strings.Contains(m, "nomic"):
		return 768
	default:
		return 384
	}
}

var knownModelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"nomic-ai/nomic-embed-text-v1.5":         768,
}
