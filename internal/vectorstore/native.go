package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/config"
)

// errNoEmbedder is returned if chromem is ever asked to embed text itself.
// Every document is written with its vector, so it never should be.
var errNoEmbedder = errors.New("vectorstore: documents must carry embeddings")

// NativeConfig configures the embedded chromem-go database.
type NativeConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.local/share/toolgate/chromem"
	Path string

	// Compress enables gzip compression for stored documents.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *NativeConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/toolgate/chromem"
	}
}

// NativeStore is the embedded document-database adapter. Documents are
// keyed by Payload.Key; adding a document with an existing key replaces it.
type NativeStore struct {
	*adapter
}

// NewNativeStore creates a NativeStore. Nothing is opened until Initialize.
func NewNativeStore(cfg NativeConfig, opts Options, logger *zap.Logger) *NativeStore {
	cfg.ApplyDefaults()
	b := &chromemBackend{cfg: cfg}
	return &NativeStore{adapter: newAdapter(DriverLanceDB, b, opts, logger)}
}

type chromemBackend struct {
	cfg  NativeConfig
	db   *chromem.DB
	coll *chromem.Collection
}

func (b *chromemBackend) open(_ context.Context, collection string) error {
	path, err := config.ExpandHome(b.cfg.Path)
	if err != nil {
		return fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	db, err := chromem.NewPersistentDB(path, b.cfg.Compress)
	if err != nil {
		return fmt.Errorf("opening chromem DB: %w", err)
	}
	coll, err := db.GetOrCreateCollection(collection, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("opening collection %s: %w", collection, err)
	}
	b.db, b.coll = db, coll
	return nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

func (b *chromemBackend) upsert(ctx context.Context, _ string, records []Record) error {
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		meta, err := encodeMetadata(r.Payload)
		if err != nil {
			return err
		}
		docs[i] = chromem.Document{
			ID:        r.Payload.Key(),
			Metadata:  meta,
			Embedding: toFloat32(r.Vector),
			Content:   r.Payload.Summary,
		}
	}
	if err := b.coll.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

func (b *chromemBackend) remove(ctx context.Context, _ string, keys []string) error {
	if err := b.coll.Delete(ctx, nil, nil, keys...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

func (b *chromemBackend) query(ctx context.Context, _ string, vector []float64, limit int, opts SearchOptions) ([]Hit, error) {
	pf, err := parseFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	count := b.coll.Count()
	if count == 0 {
		return []Hit{}, nil
	}
	n := min(limit, count)
	if pf != nil {
		// chromem's where clause only matches whole metadata strings, so
		// filtered queries rank everything and filter afterwards.
		n = count
	}

	results, err := b.coll.QueryEmbedding(ctx, toFloat32(vector), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	match := pf.matcher()
	hits := make([]Hit, 0, min(limit, len(results)))
	for _, res := range results {
		p, err := decodeMetadata(res.ID, res.Metadata)
		if err != nil {
			return nil, err
		}
		if match != nil && !match(p) {
			continue
		}
		score := float64(res.Similarity)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			score = 0
		}
		h := Hit{Payload: p, Score: &score}
		if opts.IncludeVectors {
			h.Vector = toFloat64(res.Embedding)
		}
		hits = append(hits, h)
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

func (b *chromemBackend) close() error {
	b.db, b.coll = nil, nil
	return nil
}

// chromem metadata is string-valued, so list fields are stored as JSON.
func encodeMetadata(p Payload) (map[string]string, error) {
	p = p.normalized()
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	caps, err := json.Marshal(p.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("encoding capabilities: %w", err)
	}
	return map[string]string{
		"tool_id":      p.ToolID,
		"urn":          p.URN,
		"name":         p.Name,
		"summary":      p.Summary,
		"tags":         string(tags),
		"capabilities": string(caps),
	}, nil
}

func decodeMetadata(id string, m map[string]string) (Payload, error) {
	p := Payload{
		ToolID:  m["tool_id"],
		URN:     m["urn"],
		Name:    m["name"],
		Summary: m["summary"],
	}
	if p.Key() == "" {
		p.ToolID = id
	}
	if s := m["tags"]; s != "" {
		if err := json.Unmarshal([]byte(s), &p.Tags); err != nil {
			return Payload{}, fmt.Errorf("decoding tags of %s: %w", id, err)
		}
	}
	if s := m["capabilities"]; s != "" {
		if err := json.Unmarshal([]byte(s), &p.Capabilities); err != nil {
			return Payload{}, fmt.Errorf("decoding capabilities of %s: %w", id, err)
		}
	}
	return p.normalized(), nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
