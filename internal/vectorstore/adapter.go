package vectorstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// backend is the engine behind a remote adapter. Vectors passed to query
// are already sanitized and limit is already clamped.
type backend interface {
	open(ctx context.Context, collection string) error
	upsert(ctx context.Context, collection string, records []Record) error
	remove(ctx context.Context, collection string, keys []string) error
	query(ctx context.Context, collection string, vector []float64, limit int, opts SearchOptions) ([]Hit, error)
	close() error
}

// adapter implements Store over a backend with local fallback.
//
// In native mode local mirrors every write that reached the backend into the
// fallback file, so a later process can still rank records when the backend
// fails a query. In fallback mode local is the persistent JSON store and the
// backend is not used again.
type adapter struct {
	driver  Driver
	backend backend
	opts    Options
	logger  *zap.Logger

	mu         sync.RWMutex
	collection string
	mode       Mode
	local      *LocalStore
	closed     bool
}

func newAdapter(driver Driver, b backend, opts Options, logger *zap.Logger) *adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	return &adapter{
		driver:  driver,
		backend: b,
		opts:    opts,
		logger:  logger.With(zap.String("driver", string(driver))),
		mode:    ModeUninitialized,
	}
}

// Initialize opens the collection on the backend. If that fails and
// fallback is enabled, the adapter switches to the local JSON store.
func (a *adapter) Initialize(ctx context.Context, collection string) error {
	ctx, span := tracer.Start(ctx, "vectorstore.Initialize")
	defer span.End()
	start := time.Now()

	if collection == "" {
		collection = a.opts.Collection
	}
	span.SetAttributes(
		attribute.String("driver", string(a.driver)),
		attribute.String("collection", collection),
	)
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	return a.initLocked(ctx, collection, start)
}

func (a *adapter) initLocked(ctx context.Context, collection string, start time.Time) error {
	span := trace.SpanFromContext(ctx)
	openErr := a.backend.open(ctx, collection)
	if openErr == nil {
		mirrorOpts := a.opts
		mirrorOpts.Collection = collection
		mirror, err := a.openMirror(ctx, collection, mirrorOpts)
		if err != nil {
			return err
		}
		a.collection, a.mode, a.local = collection, ModeNative, mirror
		FallbackActive.WithLabelValues(string(a.driver), collection).Set(0)
		observe(a.driver, "initialize", start, "success")
		a.logger.Info("vector store initialized", zap.String("collection", collection))
		return nil
	}

	span.RecordError(openErr)
	if a.opts.DisableFallback {
		span.SetStatus(codes.Error, openErr.Error())
		observe(a.driver, "initialize", start, "error")
		return openErr
	}

	a.logger.Warn("vector backend unavailable, using local fallback",
		zap.String("collection", collection),
		zap.String("fallback_dir", a.opts.FallbackDir),
		zap.Error(openErr),
	)
	local := NewLocalStore(a.opts.FallbackDir, a.opts, a.logger)
	local.driver = a.driver
	if err := local.Initialize(ctx, collection); err != nil {
		span.SetStatus(codes.Error, err.Error())
		observe(a.driver, "initialize", start, "error")
		return errors.Join(openErr, err)
	}
	a.collection, a.mode, a.local = collection, ModeFallback, local
	FallbackActive.WithLabelValues(string(a.driver), collection).Set(1)
	observe(a.driver, "initialize", start, "fallback")
	return nil
}

// openMirror loads the records earlier processes mirrored for collection.
// An unreadable fallback dir degrades to a memory-only mirror.
func (a *adapter) openMirror(ctx context.Context, collection string, opts Options) (*LocalStore, error) {
	dir := a.opts.FallbackDir
	if a.opts.DisableFallback {
		dir = ""
	}
	mirror := NewLocalStore(dir, opts, a.logger)
	mirror.driver = a.driver
	err := mirror.Initialize(ctx, collection)
	if err == nil || dir == "" || errors.Is(err, ErrInvalidCollectionName) {
		return mirror, err
	}
	a.logger.Warn("mirror file unreadable, mirroring in memory",
		zap.String("fallback_dir", dir),
		zap.Error(err),
	)
	mirror = NewLocalStore("", opts, a.logger)
	mirror.driver = a.driver
	return mirror, mirror.Initialize(ctx, collection)
}

// ensure initializes the configured collection on first use.
func (a *adapter) ensure(ctx context.Context) (string, Mode, *LocalStore, error) {
	a.mu.RLock()
	collection, mode, local, closed := a.collection, a.mode, a.local, a.closed
	a.mu.RUnlock()
	if closed {
		return "", "", nil, ErrClosed
	}
	if mode != ModeUninitialized {
		return collection, mode, local, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == ModeUninitialized {
		if err := a.initLocked(ctx, a.opts.Collection, time.Now()); err != nil {
			return "", "", nil, err
		}
	}
	return a.collection, a.mode, a.local, nil
}

func (a *adapter) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := recordKeys(records); err != nil {
		return err
	}
	collection, mode, local, err := a.ensure(ctx)
	if err != nil {
		return err
	}
	if mode == ModeFallback {
		return local.Upsert(ctx, records)
	}

	ctx, span := tracer.Start(ctx, "vectorstore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("driver", string(a.driver)),
		attribute.Int("count", len(records)),
	)
	start := time.Now()
	if err := a.backend.upsert(ctx, collection, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe(a.driver, "upsert", start, "error")
		return err
	}
	observe(a.driver, "upsert", start, "success")
	if err := local.mirror(ctx, records, nil); err != nil {
		a.logger.Warn("mirroring upsert failed", zap.Error(err))
	}
	return nil
}

func (a *adapter) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	collection, mode, local, err := a.ensure(ctx)
	if err != nil {
		return err
	}
	if mode == ModeFallback {
		return local.Delete(ctx, ids)
	}

	ctx, span := tracer.Start(ctx, "vectorstore.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("driver", string(a.driver)),
		attribute.Int("count", len(ids)),
	)
	start := time.Now()
	if err := a.backend.remove(ctx, collection, ids); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe(a.driver, "delete", start, "error")
		return err
	}
	observe(a.driver, "delete", start, "success")
	if err := local.mirror(ctx, nil, ids); err != nil {
		a.logger.Warn("mirroring delete failed", zap.Error(err))
	}
	return nil
}

// Search queries the backend. A backend error is answered by brute force
// over the mirror unless fallback is disabled or the mirror is empty.
func (a *adapter) Search(ctx context.Context, vector []float64, opts SearchOptions) ([]Hit, error) {
	query, ok := sanitizeQuery(vector)
	if !ok {
		return []Hit{}, nil
	}
	collection, mode, local, err := a.ensure(ctx)
	if err != nil {
		return nil, err
	}
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = a.opts.MaxLimit
	}
	limit := ClampLimit(opts.Limit, maxLimit)

	if mode == ModeFallback {
		match, err := compileFilter(opts.Filter)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		hits := local.search(ctx, query, limit, opts.IncludeVectors, match)
		observe(a.driver, "search", start, "success")
		return hits, nil
	}

	ctx, span := tracer.Start(ctx, "vectorstore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("driver", string(a.driver)),
		attribute.Int("limit", limit),
	)
	start := time.Now()

	hits, err := a.backend.query(ctx, collection, query, limit, opts)
	if err == nil {
		observe(a.driver, "search", start, "success")
		span.SetAttributes(attribute.Int("results", len(hits)))
		return hits, nil
	}
	span.RecordError(err)
	if a.opts.DisableFallback || ctx.Err() != nil || errors.Is(err, ErrUnsupportedFilter) || local.Len() == 0 {
		span.SetStatus(codes.Error, err.Error())
		observe(a.driver, "search", start, "error")
		return nil, err
	}

	match, ferr := compileFilter(opts.Filter)
	if ferr != nil {
		observe(a.driver, "search", start, "error")
		return nil, errors.Join(err, ferr)
	}
	a.logger.Warn("native search failed, ranking mirrored records",
		zap.String("collection", collection),
		zap.Int("mirrored", local.Len()),
		zap.Error(err),
	)
	observe(a.driver, "search", start, "fallback")
	return local.search(ctx, query, limit, opts.IncludeVectors, match), nil
}

func (a *adapter) Flush(ctx context.Context) error {
	a.mu.RLock()
	mode, local := a.mode, a.local
	a.mu.RUnlock()
	if mode == ModeFallback {
		return local.Flush(ctx)
	}
	return nil
}

func (a *adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	if a.local != nil {
		errs = append(errs, a.local.Close())
	}
	errs = append(errs, a.backend.close())
	return errors.Join(errs...)
}

func (a *adapter) Mode() Mode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

func (a *adapter) Driver() Driver { return a.driver }

// Collection returns the initialized collection name.
func (a *adapter) Collection() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.collection
}
