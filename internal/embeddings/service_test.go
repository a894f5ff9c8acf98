package embeddings

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeProvider returns the text length in every component so tests can
// check which text produced which vector.
type fakeProvider struct {
	mu      sync.Mutex
	dim     int
	calls   [][]string
	failOn  int // 1-based call number that fails; 0 never fails
	closed  bool
	blockCh chan struct{}
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.blockCh != nil {
		select {
		case <-f.blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return nil, errors.New("inference exploded")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(len(t))
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeProvider) Dimension() int { return f.dim }

func (f *fakeProvider) Close() error {
	f.closed = true
	return nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func staticFactory(p Provider) ProviderFactory {
	return func(context.Context) (Provider, error) { return p, nil }
}

func TestService_NoFactoryUsesFallback(t *testing.T) {
	svc := NewService(Config{ModelID: "m", Dimensions: 8, BatchSize: 4}, nil, zap.NewNop())
	assert.Equal(t, ModeUninitialized, svc.Diagnostics().Mode)

	vecs, err := svc.EmbedDocuments(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, HashEmbedding("search_document: alpha", 8), vecs[0])
	assert.Equal(t, HashEmbedding("search_document: beta", 8), vecs[1])

	diag := svc.Diagnostics()
	assert.Equal(t, Diagnostics{ModelID: "m", Mode: ModeFallback, Dimensions: 8, BatchSize: 4}, diag)
}

func TestService_FactoryErrorFallsBackAndLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	var loads atomic.Int32
	factory := func(context.Context) (Provider, error) {
		loads.Add(1)
		return nil, ErrFastEmbedNotAvailable
	}
	svc := NewService(Config{Dimensions: 16}, factory, zap.New(core))

	q, err := svc.EmbedQuery(context.Background(), "find files")
	require.NoError(t, err)
	assert.Equal(t, HashEmbedding("search_query: find files", 16), q)
	assert.Equal(t, ModeFallback, svc.Mode())

	_, err = svc.EmbedQuery(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, 1, logs.FilterMessage("embedding model unavailable, using hash fallback").Len())
}

func TestService_Prefixing(t *testing.T) {
	p := &fakeProvider{dim: 2}
	svc := NewService(Config{Dimensions: 2}, staticFactory(p), nil)
	ctx := context.Background()

	_, err := svc.EmbedDocuments(ctx, []string{"plain", "search_document: already"})
	require.NoError(t, err)
	_, err = svc.EmbedQuery(ctx, "search_query:tight")
	require.NoError(t, err)

	require.Len(t, p.calls, 2)
	assert.Equal(t, []string{"search_document: plain", "search_document: already"}, p.calls[0])
	assert.Equal(t, []string{"search_query:tight"}, p.calls[1])
}

func TestService_DocumentAndQueryDiffer(t *testing.T) {
	svc := NewService(Config{Dimensions: 32}, nil, nil)
	ctx := context.Background()

	docs, err := svc.EmbedDocuments(ctx, []string{"deploy service"})
	require.NoError(t, err)
	q, err := svc.EmbedQuery(ctx, "deploy service")
	require.NoError(t, err)
	assert.NotEqual(t, docs[0], q)
}

func TestService_Batching(t *testing.T) {
	p := &fakeProvider{dim: 3}
	svc := NewService(Config{Dimensions: 3, BatchSize: 2}, staticFactory(p), nil)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := svc.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)

	require.Equal(t, 3, p.callCount())
	assert.Len(t, p.calls[0], 2)
	assert.Len(t, p.calls[1], 2)
	assert.Len(t, p.calls[2], 1)

	for i, text := range texts {
		want := float64(len("search_document: " + text))
		assert.Equal(t, []float64{want, want, want}, vecs[i])
	}
	assert.Equal(t, ModeTransformers, svc.Mode())
}

func TestService_RuntimeFailureDegradesWholeRequest(t *testing.T) {
	p := &fakeProvider{dim: 4, failOn: 2}
	svc := NewService(Config{Dimensions: 4, BatchSize: 1}, staticFactory(p), nil)
	ctx := context.Background()

	vecs, err := svc.EmbedDocuments(ctx, []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, text := range []string{"one", "two", "three"} {
		assert.Equal(t, HashEmbedding("search_document: "+text, 4), vecs[i])
	}
	assert.Equal(t, ModeFallback, svc.Mode())

	// Permanently degraded: the provider is not called again.
	calls := p.callCount()
	_, err = svc.EmbedQuery(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, calls, p.callCount())
}

func TestService_CancellationDoesNotDegrade(t *testing.T) {
	p := &fakeProvider{dim: 2, blockCh: make(chan struct{})}
	svc := NewService(Config{Dimensions: 2}, staticFactory(p), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.EmbedQuery(ctx, "slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ModeTransformers, svc.Mode())

	close(p.blockCh)
	_, err = svc.EmbedQuery(context.Background(), "fast")
	require.NoError(t, err)
}

func TestService_ConcurrentInitLoadsOnce(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	factory := func(context.Context) (Provider, error) {
		loads.Add(1)
		<-release
		return &fakeProvider{dim: 2}, nil
	}
	svc := NewService(Config{Dimensions: 2}, factory, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.EmbedQuery(context.Background(), "q")
			errs <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, ModeTransformers, svc.Mode())
}

func TestService_ProviderDimensionOverridesConfig(t *testing.T) {
	svc := NewService(Config{Dimensions: 384}, staticFactory(&fakeProvider{dim: 768}), nil)
	_, err := svc.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 768, svc.Diagnostics().Dimensions)
}

func TestService_EmptyDocuments(t *testing.T) {
	p := &fakeProvider{dim: 2}
	svc := NewService(Config{}, staticFactory(p), nil)
	vecs, err := svc.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, 0, p.callCount())
	assert.Equal(t, ModeUninitialized, svc.Mode())
}

func TestService_Close(t *testing.T) {
	p := &fakeProvider{dim: 2}
	svc := NewService(Config{}, staticFactory(p), nil)
	_, err := svc.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	assert.True(t, p.closed)
	require.NoError(t, svc.Close())
}

func TestWithPrefix(t *testing.T) {
	tests := []struct {
		prefix, text, want string
	}{
		{DocumentPrefix, "x", "search_document: x"},
		{DocumentPrefix, "search_document: x", "search_document: x"},
		{QueryPrefix, "search_document: x", "search_query: search_document: x"},
		{QueryPrefix, "", "search_query: "},
	}
	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.want, " ", "_"), func(t *testing.T) {
			assert.Equal(t, tt.want, withPrefix(tt.prefix, tt.text))
		})
	}
}
