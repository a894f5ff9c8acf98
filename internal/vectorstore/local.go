package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/config"
)

// lockRetryDelay is how often a blocked writer retries the file lock.
const lockRetryDelay = 25 * time.Millisecond

// LocalStore keeps records in memory in insertion order and, when it has a
// directory, rewrites <dir>/<collection>.json after every mutation.
//
// Several processes writing the same file each persist their own view, so
// the last writer wins. The file lock only prevents torn writes.
type LocalStore struct {
	dir      string
	maxLimit int
	driver   Driver
	logger   *zap.Logger

	mu         sync.RWMutex
	collection string
	order      []string
	records    map[string]Record
	closed     bool
}

// NewLocalStore creates a LocalStore persisting under dir. An empty dir
// keeps records in memory only.
func NewLocalStore(dir string, opts Options, logger *zap.Logger) *LocalStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	return &LocalStore{
		dir:        dir,
		maxLimit:   opts.MaxLimit,
		driver:     DriverLocal,
		logger:     logger,
		collection: opts.Collection,
		records:    make(map[string]Record),
	}
}

// Path is the collection file, or "" for an in-memory store.
func (s *LocalStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pathLocked()
}

func (s *LocalStore) pathLocked() string {
	if s.dir == "" {
		return ""
	}
	return filepath.Join(s.dir, s.collection+".json")
}

// Len returns the number of stored records.
func (s *LocalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Initialize loads the collection file, replacing anything in memory. A
// missing file is an empty collection. An unreadable file is moved aside
// to <path>.corrupt and the collection starts empty.
func (s *LocalStore) Initialize(ctx context.Context, collection string) error {
	_, span := tracer.Start(ctx, "LocalStore.Initialize")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if collection == "" {
		collection = s.collection
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	s.collection = collection
	s.order = nil
	s.records = make(map[string]Record)
	s.closed = false
	span.SetAttributes(attribute.String("collection", collection))

	if s.dir == "" {
		return nil
	}
	dir, err := config.ExpandHome(s.dir)
	if err != nil {
		return fmt.Errorf("expanding fallback dir: %w", err)
	}
	s.dir = dir

	records, err := s.readFile()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	for _, r := range records {
		s.putLocked(r)
	}
	span.SetAttributes(attribute.Int("records", len(s.order)))
	s.logger.Debug("local vector store loaded",
		zap.String("path", s.pathLocked()),
		zap.Int("records", len(s.order)),
	)
	return nil
}

func (s *LocalStore) readFile() ([]Record, error) {
	path := s.pathLocked()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		quarantine := path + ".corrupt"
		s.logger.Warn("fallback vector file is not valid JSON, starting empty",
			zap.String("path", path),
			zap.String("moved_to", quarantine),
			zap.Error(err),
		)
		if rerr := os.Rename(path, quarantine); rerr != nil {
			s.logger.Warn("failed to move corrupt fallback file", zap.Error(rerr))
		}
		return nil, nil
	}
	valid := records[:0]
	for _, r := range records {
		if r.Payload.Key() == "" {
			s.logger.Warn("skipping fallback record without key", zap.String("path", path))
			continue
		}
		valid = append(valid, r)
	}
	return valid, nil
}

// Upsert inserts or replaces records. A replaced record keeps its original
// position.
func (s *LocalStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := recordKeys(records); err != nil {
		return err
	}
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, r := range records {
		s.putLocked(r)
	}
	err := s.persistLocked(ctx)
	observe(s.driver, "upsert", start, resultLabel(err))
	return err
}

func (s *LocalStore) putLocked(r Record) {
	r.Payload = r.Payload.normalized()
	vec := make([]float64, len(r.Vector))
	copy(vec, r.Vector)
	r.Vector = vec
	key := r.Payload.Key()
	if _, ok := s.records[key]; !ok {
		s.order = append(s.order, key)
	}
	s.records[key] = r
}

// Delete removes records by key.
func (s *LocalStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.deleteLocked(ids)
	err := s.persistLocked(ctx)
	observe(s.driver, "delete", start, resultLabel(err))
	return err
}

func (s *LocalStore) deleteLocked(ids []string) {
	removed := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			removed++
		}
	}
	if removed > 0 {
		s.order = slices.DeleteFunc(s.order, func(k string) bool {
			_, ok := s.records[k]
			return !ok
		})
	}
}

// mirror applies writes that already succeeded on a remote backend and
// persists them when the store has a dir.
func (s *LocalStore) mirror(ctx context.Context, upserts []Record, deletes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range upserts {
		s.putLocked(r)
	}
	s.deleteLocked(deletes)
	return s.persistLocked(ctx)
}

// Search ranks every record by cosine similarity.
func (s *LocalStore) Search(ctx context.Context, vector []float64, opts SearchOptions) ([]Hit, error) {
	query, ok := sanitizeQuery(vector)
	if !ok {
		return []Hit{}, nil
	}
	match, err := compileFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = s.maxLimit
	}
	start := time.Now()
	hits := s.search(ctx, query, ClampLimit(opts.Limit, maxLimit), opts.IncludeVectors, match)
	observe(s.driver, "search", start, "success")
	return hits, nil
}

func (s *LocalStore) search(ctx context.Context, query []float64, limit int, includeVectors bool, match matcher) []Hit {
	_, span := tracer.Start(ctx, "LocalStore.Search")
	defer span.End()

	s.mu.RLock()
	records := make([]Record, len(s.order))
	for i, k := range s.order {
		records[i] = s.records[k]
	}
	s.mu.RUnlock()

	hits, mismatched := rankRecords(records, query, limit, includeVectors, match)
	if mismatched > 0 {
		DimensionMismatches.WithLabelValues(string(s.driver)).Add(float64(mismatched))
	}
	span.SetAttributes(
		attribute.Int("candidates", len(records)),
		attribute.Int("results", len(hits)),
	)
	return hits
}

// Flush rewrites the collection file.
func (s *LocalStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// Close marks the store closed. Records written so far are already on disk.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *LocalStore) Mode() Mode { return ModeFallback }

func (s *LocalStore) Driver() Driver { return s.driver }

// persistLocked writes all records to a temp file and renames it over the
// collection file while holding <path>.lock.
func (s *LocalStore) persistLocked(ctx context.Context) error {
	path := s.pathLocked()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating fallback dir: %w", err)
	}

	records := make([]Record, len(s.order))
	for i, k := range s.order {
		records[i] = s.records[k]
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding fallback records: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("locking %s: lock not acquired", path)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(s.dir, s.collection+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
