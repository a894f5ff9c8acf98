// Package loader indexes a directory of manifest files into the registry and
// a vector store.
//
// Load walks the directory for .json files, registers each manifest, embeds
// every manifest's search document in one batch, and upserts the vectors in
// one call. Unreadable or URN-less files are skipped with a warning. Paths
// matched by a .toolgateignore file at the directory root are left out. Watch
// repeats Load whenever manifest files change.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/apperr"
	"github.com/fyrsmithlabs/toolgate/internal/config"
	"github.com/fyrsmithlabs/toolgate/internal/embeddings"
	"github.com/fyrsmithlabs/toolgate/internal/ignore"
	"github.com/fyrsmithlabs/toolgate/internal/logging"
	"github.com/fyrsmithlabs/toolgate/internal/registry"
	"github.com/fyrsmithlabs/toolgate/internal/vectorstore"
)

var tracer = otel.Tracer("toolgate.loader")

// Embedder generates document embeddings.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
	Mode() embeddings.Mode
}

// Options configure a Loader.
type Options struct {
	// Dir is used when Load is called with an empty directory.
	Dir string

	// DryRun embeds but writes nothing.
	DryRun bool

	// Debounce is the quiet period Watch waits for before reloading.
	Debounce time.Duration

	// OnReload, if set, receives the outcome of every Watch reload.
	OnReload func(*Summary, error)
}

// SkippedFile is a manifest file that was not loaded.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Summary describes one Load.
type Summary struct {
	ManifestsProcessed  int           `json:"manifestsProcessed"`
	EmbeddingsGenerated int           `json:"embeddingsGenerated"`
	DryRun              bool          `json:"dryRun"`
	VectorMode          string        `json:"vectorMode"`
	EmbeddingMode       string        `json:"embeddingMode"`
	Skipped             []SkippedFile `json:"skipped,omitempty"`

	keys []string
}

// Loader indexes manifests.
type Loader struct {
	registry registry.Registry
	embedder Embedder
	store    vectorstore.Store
	opts     Options
	logger   *logging.Logger
}

// New creates a Loader.
func New(reg registry.Registry, embedder Embedder, store vectorstore.Store, opts Options, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	return &Loader{
		registry: reg,
		embedder: embedder,
		store:    store,
		opts:     opts,
		logger:   logger.Named("loader"),
	}
}

type entry struct {
	path   string
	urn    string
	body   map[string]any
	fields registry.Fields
}

// Load indexes every manifest under dir, or under Options.Dir when dir is
// empty.
func (l *Loader) Load(ctx context.Context, dir string) (*Summary, error) {
	ctx, span := tracer.Start(ctx, "loader.Load")
	defer span.End()

	summary, err := l.load(ctx, dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("manifests", summary.ManifestsProcessed),
		attribute.Int("skipped", len(summary.Skipped)),
		attribute.Bool("dry_run", summary.DryRun),
	)
	return summary, nil
}

func (l *Loader) load(ctx context.Context, dir string) (*Summary, error) {
	if dir == "" {
		dir = l.opts.Dir
	}
	if dir == "" {
		return nil, apperr.InvalidInput("manifest directory is required")
	}
	dir, err := config.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	dir = filepath.Clean(dir)

	summary := &Summary{DryRun: l.opts.DryRun}
	entries, err := l.collect(ctx, dir, summary)
	if err != nil {
		return nil, err
	}

	if !l.opts.DryRun {
		for _, e := range entries {
			if _, err := l.registry.UpsertManifest(ctx, e.urn, e.body); err != nil {
				return nil, fmt.Errorf("registering %s: %w", e.urn, err)
			}
		}
	}

	if len(entries) > 0 {
		docs := make([]string, len(entries))
		for i, e := range entries {
			docs[i] = registry.SearchDocument(e.fields)
		}
		vectors, err := l.embedder.EmbedDocuments(ctx, docs)
		if err != nil {
			return nil, fmt.Errorf("embedding manifests: %w", err)
		}
		if len(vectors) != len(entries) {
			return nil, fmt.Errorf("embedding manifests: got %d vectors for %d documents", len(vectors), len(entries))
		}
		summary.EmbeddingsGenerated = len(vectors)

		records := make([]vectorstore.Record, len(entries))
		for i, e := range entries {
			records[i] = vectorstore.Record{Vector: vectors[i], Payload: payload(e)}
			summary.keys = append(summary.keys, records[i].Payload.Key())
		}
		if !l.opts.DryRun {
			if err := l.store.Upsert(ctx, records); err != nil {
				return nil, fmt.Errorf("upserting vectors: %w", err)
			}
		}
	}

	summary.ManifestsProcessed = len(entries)
	summary.VectorMode = string(l.store.Mode())
	summary.EmbeddingMode = string(l.embedder.Mode())

	l.logger.Info(ctx, "manifests loaded",
		zap.String("dir", dir),
		zap.Int("processed", summary.ManifestsProcessed),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Bool("dry_run", summary.DryRun),
		zap.String("vector_mode", summary.VectorMode),
		zap.String("embedding_mode", summary.EmbeddingMode),
	)
	return summary, nil
}

// collect walks dir in lexical order and parses every .json file not
// excluded by the directory's ignore file.
func (l *Loader) collect(ctx context.Context, dir string, summary *Summary) ([]entry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "manifest directory unreadable", err).With("dir", dir)
	}
	if !info.IsDir() {
		return nil, apperr.InvalidInput("manifest path is not a directory").With("dir", dir)
	}

	ignored, err := ignore.Load(dir, ignore.FileName)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "invalid ignore file", err).With("dir", dir)
	}

	var entries []entry
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			l.skip(ctx, summary, path, walkErr.Error())
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if rel, err := filepath.Rel(dir, path); err == nil && rel != "." && ignored.Match(filepath.ToSlash(rel), d.IsDir()) {
			l.logger.Debug(ctx, "ignoring path", zap.String("path", path))
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isManifestFile(path) {
			return nil
		}

		e, reason := parseFile(path)
		if reason != "" {
			l.skip(ctx, summary, path, reason)
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (l *Loader) skip(ctx context.Context, summary *Summary, path, reason string) {
	summary.Skipped = append(summary.Skipped, SkippedFile{Path: path, Reason: reason})
	l.logger.Warn(ctx, "skipping manifest file", zap.String("path", path), zap.String("reason", reason))
}

func parseFile(path string) (entry, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return entry{}, "read failed: " + err.Error()
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return entry{}, "invalid JSON: " + err.Error()
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return entry{}, "not a JSON object"
	}
	body := registry.Unwrap(doc)
	urn := registry.ResolveURN(body)
	if urn == "" {
		return entry{}, "missing urn"
	}
	fields := registry.Extract(body)
	fields.URN = urn
	return entry{path: path, urn: urn, body: body, fields: fields}, ""
}

func payload(e entry) vectorstore.Payload {
	toolID := e.fields.ToolID
	if toolID == "" {
		toolID = e.urn
	}
	return vectorstore.Payload{
		ToolID:       toolID,
		URN:          e.urn,
		Name:         e.fields.Name,
		Summary:      e.fields.Summary,
		Tags:         e.fields.Tags,
		Capabilities: e.fields.Capabilities,
	}
}

func isManifestFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
