package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates an unsafe or empty collection name.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrMissingKey indicates a record with neither tool_id nor urn.
	ErrMissingKey = errors.New("record has no tool_id or urn")

	// ErrUnsupportedFilter indicates a filter shape the adapter cannot evaluate.
	ErrUnsupportedFilter = errors.New("unsupported filter")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Driver names a Store implementation.
type Driver string

const (
	DriverLanceDB    Driver = "lancedb"
	DriverQdrant     Driver = "qdrant"
	DriverQdrantGRPC Driver = "qdrant-grpc"
	DriverLocal      Driver = "local"

	// driverChromem is accepted as an alias of DriverLanceDB.
	driverChromem Driver = "chromem"
)

// Mode reports whether a Store is served by its backend or by the local
// fallback.
type Mode string

const (
	ModeUninitialized Mode = "uninitialized"
	ModeNative        Mode = "native"
	ModeFallback      Mode = "fallback"
)

const (
	// DefaultMaxLimit caps search results when no MaxLimit is configured.
	DefaultMaxLimit = 50

	// DefaultLimit is used when a search asks for zero results.
	DefaultLimit = 10

	// DefaultCollection is the collection used when Initialize gets "".
	DefaultCollection = "tool_manifests"
)

// Payload is the searchable projection of a manifest stored with its vector.
type Payload struct {
	ToolID       string   `json:"tool_id"`
	URN          string   `json:"urn"`
	Name         string   `json:"name"`
	Summary      string   `json:"summary"`
	Tags         []string `json:"tags"`
	Capabilities []string `json:"capabilities"`
}

// Key is the upsert key: ToolID, else URN.
func (p Payload) Key() string {
	if p.ToolID != "" {
		return p.ToolID
	}
	return p.URN
}

func (p Payload) normalized() Payload {
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Capabilities == nil {
		p.Capabilities = []string{}
	}
	return p
}

// Record is a vector with its payload.
type Record struct {
	Vector  []float64 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// Hit is one search result. Score is nil when the backend returned none.
type Hit struct {
	Payload Payload
	Score   *float64
	Vector  []float64
}

// SearchOptions controls a search.
type SearchOptions struct {
	// Limit is clamped to [1, MaxLimit]. Zero means DefaultLimit.
	Limit int
	// MaxLimit overrides the store's configured cap when positive.
	MaxLimit int
	// IncludeVectors echoes stored vectors in hits.
	IncludeVectors bool
	// Filter is a Qdrant-style filter. REST forwards it verbatim; other
	// adapters evaluate must/should/must_not match conditions on payload
	// fields.
	Filter map[string]any
}

// Store is a collection of manifest vectors.
type Store interface {
	// Initialize opens or creates the collection. "" selects the
	// configured collection.
	Initialize(ctx context.Context, collection string) error

	// Upsert inserts or fully replaces records by key.
	Upsert(ctx context.Context, records []Record) error

	// Delete removes records by key. Unknown keys are ignored.
	Delete(ctx context.Context, ids []string) error

	// Search ranks stored records against vector. An empty or all
	// non-finite vector yields no hits.
	Search(ctx context.Context, vector []float64, opts SearchOptions) ([]Hit, error)

	// Flush forces pending writes to durable storage.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error

	// Mode reports native or fallback operation.
	Mode() Mode

	// Driver names the implementation.
	Driver() Driver
}

// Options are shared by every adapter.
type Options struct {
	Collection      string
	MaxLimit        int
	DisableFallback bool
	// FallbackDir holds <collection>.json files. Empty keeps the fallback
	// in memory only.
	FallbackDir string
}

func (o *Options) applyDefaults() {
	if o.Collection == "" {
		o.Collection = DefaultCollection
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = DefaultMaxLimit
	}
}

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateCollectionName rejects names that are unsafe as file names or
// URL path segments.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match %s, got %q", ErrInvalidCollectionName, collectionNamePattern, name)
	}
	return nil
}

// ClampLimit bounds limit to [1, maxLimit]. Zero means DefaultLimit and a
// non-positive maxLimit means DefaultMaxLimit.
func ClampLimit(limit, maxLimit int) int {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return max(1, min(limit, maxLimit))
}

func recordKeys(records []Record) ([]string, error) {
	keys := make([]string, len(records))
	for i, r := range records {
		k := r.Payload.Key()
		if k == "" {
			return nil, fmt.Errorf("record %d: %w", i, ErrMissingKey)
		}
		keys[i] = k
	}
	return keys, nil
}

var (
	_ Store = (*LocalStore)(nil)
	_ Store = (*NativeStore)(nil)
	_ Store = (*HTTPStore)(nil)
	_ Store = (*GRPCStore)(nil)
)
