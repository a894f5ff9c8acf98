package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultHTTPTimeout bounds every REST call.
const DefaultHTTPTimeout = 5000 * time.Millisecond

// pointNamespace derives Qdrant point ids from keys that are not UUIDs.
var pointNamespace = uuid.MustParse("6f1d8c1e-5b7a-4d0e-9a63-2c4f1e7b9d30")

// PointID maps an upsert key to a Qdrant point id. UUID keys are used as
// is; other keys map to a name-based UUID so the same key always lands on
// the same point.
func PointID(key string) string {
	if id, err := uuid.Parse(key); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures the Qdrant REST adapter.
type HTTPConfig struct {
	// URL is the Qdrant base URL, e.g. http://localhost:6333.
	URL string
	// APIKey is sent in the api-key header when set.
	APIKey string
	// Timeout bounds each request. Default: 5000ms.
	Timeout time.Duration
	// VectorSize and Distance are used when creating the collection.
	VectorSize int
	Distance   string
	// Client sends requests. Required.
	Client Doer
}

// HTTPStore is the Qdrant REST adapter. It makes no retries; each call is
// bounded by the configured timeout.
type HTTPStore struct {
	*adapter
}

// NewHTTPStore validates cfg. It returns *ConfigurationError when there is
// no client or no usable URL.
func NewHTTPStore(cfg HTTPConfig, opts Options, logger *zap.Logger) (*HTTPStore, error) {
	if cfg.Client == nil {
		return nil, &ConfigurationError{Driver: DriverQdrant, Reason: "an HTTP client is required"}
	}
	if c, ok := cfg.Client.(*http.Client); ok && c == nil {
		return nil, &ConfigurationError{Driver: DriverQdrant, Reason: "an HTTP client is required"}
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &ConfigurationError{Driver: DriverQdrant, Reason: fmt.Sprintf("invalid URL %q", cfg.URL)}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	if cfg.VectorSize <= 0 {
		cfg.VectorSize = 384
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &restBackend{cfg: cfg, base: base.String(), logger: logger}
	return &HTTPStore{adapter: newAdapter(DriverQdrant, b, opts, logger)}, nil
}

type restBackend struct {
	cfg    HTTPConfig
	base   string
	logger *zap.Logger
}

type restPoint struct {
	ID      string    `json:"id"`
	Vector  []float64 `json:"vector"`
	Payload Payload   `json:"payload"`
}

type restSearchRequest struct {
	Vector      []float64      `json:"vector"`
	Limit       int            `json:"limit"`
	WithPayload bool           `json:"with_payload"`
	WithVectors bool           `json:"with_vectors"`
	Filter      map[string]any `json:"filter,omitempty"`
}

type restScoredPoint struct {
	ID      any       `json:"id"`
	Score   *float64  `json:"score"`
	Payload Payload   `json:"payload"`
	Vector  []float64 `json:"vector"`
}

func (b *restBackend) collectionPath(collection string) string {
	return "/collections/" + url.PathEscape(collection)
}

func (b *restBackend) open(ctx context.Context, collection string) error {
	path := b.collectionPath(collection)
	probeErr := b.do(ctx, "probe", http.MethodGet, path, nil, nil)
	if probeErr == nil {
		return nil
	}
	var status *HTTPStatusError
	if !errors.As(probeErr, &status) || status.StatusCode != http.StatusNotFound {
		b.logger.Debug("collection probe failed", zap.String("collection", collection), zap.Error(probeErr))
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     b.cfg.VectorSize,
			"distance": b.cfg.Distance,
		},
	}
	createErr := b.do(ctx, "create_collection", http.MethodPut, path, body, nil)
	if createErr == nil {
		return nil
	}
	if errors.As(createErr, &status) && status.StatusCode == http.StatusConflict {
		return nil
	}
	if errors.As(probeErr, &status) && status.StatusCode == http.StatusNotFound {
		return createErr
	}
	return errors.Join(probeErr, createErr)
}

func (b *restBackend) upsert(ctx context.Context, collection string, records []Record) error {
	points := make([]restPoint, len(records))
	for i, r := range records {
		points[i] = restPoint{
			ID:      PointID(r.Payload.Key()),
			Vector:  r.Vector,
			Payload: r.Payload.normalized(),
		}
	}
	path := b.collectionPath(collection) + "/points?wait=true"
	return b.do(ctx, "upsert", http.MethodPut, path, map[string]any{"points": points}, nil)
}

func (b *restBackend) remove(ctx context.Context, collection string, keys []string) error {
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = PointID(k)
	}
	path := b.collectionPath(collection) + "/points/delete?wait=true"
	return b.do(ctx, "delete", http.MethodPost, path, map[string]any{"points": ids}, nil)
}

func (b *restBackend) query(ctx context.Context, collection string, vector []float64, limit int, opts SearchOptions) ([]Hit, error) {
	req := restSearchRequest{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
		WithVectors: opts.IncludeVectors,
		Filter:      opts.Filter,
	}
	var resp struct {
		Result []restScoredPoint `json:"result"`
	}
	path := b.collectionPath(collection) + "/points/search"
	if err := b.do(ctx, "search", http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, p := range resp.Result {
		h := Hit{Payload: p.Payload.normalized(), Score: p.Score}
		if opts.IncludeVectors {
			h.Vector = p.Vector
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (b *restBackend) close() error { return nil }

// do sends one request under the configured timeout and decodes the JSON
// response into out when out is non-nil.
func (b *restBackend) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	target := b.base + path
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("api-key", b.cfg.APIKey)
	}

	resp, err := b.cfg.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Op: op, URL: target, Timeout: b.cfg.Timeout, Err: err}
		}
		return &ConnectivityError{Op: op, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPStatusError{Op: op, URL: target, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Op: op, URL: target, Timeout: b.cfg.Timeout, Err: err}
		}
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}
