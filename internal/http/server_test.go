package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/activation"
	"github.com/fyrsmithlabs/toolgate/internal/apperr"
	"github.com/fyrsmithlabs/toolgate/internal/embeddings"
	"github.com/fyrsmithlabs/toolgate/internal/iam"
	"github.com/fyrsmithlabs/toolgate/internal/loader"
	"github.com/fyrsmithlabs/toolgate/internal/registry"
	"github.com/fyrsmithlabs/toolgate/internal/search"
	"github.com/fyrsmithlabs/toolgate/internal/vectorstore"
)

type fakeSearcher struct {
	last search.Request
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (*search.Response, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &search.Response{OK: true, Query: req.Query, Results: []search.Result{}}, nil
}

type fakeActivator struct {
	last activation.Params
	err  error
}

func (f *fakeActivator) Activate(_ context.Context, p activation.Params) (*activation.Response, error) {
	f.last = p
	if f.err != nil {
		return nil, f.err
	}
	return &activation.Response{OK: true, URN: p.Identifier()}, nil
}

func newTestServer(t *testing.T, deps Deps, cfg *Config) *Server {
	t.Helper()
	if deps.Search == nil {
		deps.Search = &fakeSearcher{}
	}
	if deps.Activation == nil {
		deps.Activation = &fakeActivator{}
	}
	s, err := NewServer(deps, zap.NewNop(), cfg)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(Deps{}, zap.NewNop(), nil)
	assert.ErrorContains(t, err, "search service is required")

	_, err = NewServer(Deps{Search: &fakeSearcher{}}, zap.NewNop(), nil)
	assert.ErrorContains(t, err, "activation service is required")

	_, err = NewServer(Deps{Search: &fakeSearcher{}, Activation: &fakeActivator{}}, nil, nil)
	assert.ErrorContains(t, err, "logger is required")

	s, err := NewServer(Deps{Search: &fakeSearcher{}, Activation: &fakeActivator{}}, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, 8085, s.config.Port)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, Deps{}, nil)

	rec := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = do(t, s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSearch(t *testing.T) {
	fs := &fakeSearcher{}
	s := newTestServer(t, Deps{Search: fs}, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/search", `{"query":"read files","limit":3}`, map[string]string{
		HeaderActorID:           "agent-7",
		HeaderActorCapabilities: "fs.read, fs.write ,",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "read files", fs.last.Query)
	assert.Equal(t, 3, fs.last.Limit)
	require.NotNil(t, fs.last.Actor)
	assert.Equal(t, "agent-7", fs.last.Actor.ID)
	assert.Equal(t, []string{"fs.read", "fs.write"}, fs.last.Actor.Capabilities)

	rec = do(t, s, http.MethodPost, "/api/v1/search", `{"query":"q","actor":{"id":"body-actor"}}`, map[string]string{
		HeaderActorID: "header-actor",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body-actor", fs.last.Actor.ID, "body actor wins over headers")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", apperr.InvalidInput("query must not be empty"), http.StatusBadRequest, "INVALID_INPUT"},
		{"not found", apperr.NotFound("manifest not found").With("urn", "urn:x"), http.StatusNotFound, "NOT_FOUND"},
		{"denied", apperr.New(apperr.CodeIAMDenied, "denied"), http.StatusForbidden, "IAM_DENIED"},
		{"timeout", apperr.New(apperr.CodeTimeout, "slow"), http.StatusGatewayTimeout, "TIMEOUT"},
		{"connectivity", apperr.New(apperr.CodeConnectivity, "down"), http.StatusBadGateway, "CONNECTIVITY"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Deps{Activation: &fakeActivator{err: tt.err}}, nil)
			rec := do(t, s, http.MethodPost, "/api/v1/activate", `{"urn":"urn:x"}`, nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeError(t, rec)
			assert.False(t, body.OK)
			assert.Equal(t, tt.wantCode, body.Code)
			if tt.wantCode == "INTERNAL" {
				assert.Equal(t, "internal error", body.Message, "internal details are not leaked")
			}
		})
	}

	s := newTestServer(t, Deps{Activation: &fakeActivator{err: apperr.NotFound("manifest not found").With("urn", "urn:x")}}, nil)
	body := decodeError(t, do(t, s, http.MethodPost, "/api/v1/activate", `{"urn":"urn:x"}`, nil))
	assert.Equal(t, "manifest not found", body.Message)
	assert.Equal(t, "urn:x", body.Context["urn"])
}

func TestActivate_ActorFromHeaders(t *testing.T) {
	fa := &fakeActivator{}
	s := newTestServer(t, Deps{Activation: fa}, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/activate", `{"tool_id":"urn:alpha"}`, map[string]string{
		HeaderActorID:   "agent-7",
		HeaderActorRole: "builder",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "urn:alpha", fa.last.Identifier())
	require.NotNil(t, fa.last.Actor)
	assert.Equal(t, "builder", fa.last.Actor.Role)

	rec = do(t, s, http.MethodPost, "/api/v1/activate", `{"tool_id":"urn:alpha","actor":{"id":"x"}}`, map[string]string{
		HeaderActorID: "agent-7",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, fa.last.Actor, "body actor is resolved by the service")
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t, Deps{}, nil)
	rec := do(t, s, http.MethodPost, "/api/v1/search", `{"query":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeError(t, rec).Code)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, Deps{}, nil)
	rec := do(t, s, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
}

func TestDiagnostics(t *testing.T) {
	s := newTestServer(t, Deps{Diagnostics: func(context.Context) any {
		return map[string]string{"vector_mode": "fallback"}
	}}, nil)
	rec := do(t, s, http.MethodGet, "/api/v1/diagnostics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"vector_mode":"fallback"}`, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Deps{}, &Config{Host: "127.0.0.1", Port: 8085, RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodPost, "/api/v1/search", `{"query":"q"}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, s, http.MethodPost, "/api/v1/search", `{"query":"q"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rec).Code)

	rec = do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is never limited")
}

// TestEndToEnd wires the real services behind the API.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryStore()
	store := vectorstore.NewLocalStore("", vectorstore.Options{Collection: "tools"}, nil)
	require.NoError(t, store.Initialize(ctx, ""))
	emb := embeddings.NewService(embeddings.Config{Dimensions: 32}, nil, nil)

	dir := t.TempDir()
	require.NoError(t, writeManifest(dir, "files.json", map[string]any{
		"urn":          "urn:tool:files",
		"name":         "files",
		"summary":      "read and write files",
		"capabilities": []any{"fs.read"},
	}))

	ld := loader.New(reg, emb, store, loader.Options{Dir: dir}, nil)
	filter := iam.NewFilter(iam.DefaultOptions(), nil)
	s := newTestServer(t, Deps{
		Search:     search.NewService(emb, store, reg, filter, search.Options{}, nil),
		Activation: activation.NewService(reg, filter, activation.Options{}, nil),
		Loader:     ld,
	}, &Config{Host: "127.0.0.1", Port: 8085, EnableAdmin: true})

	rec := do(t, s, http.MethodPost, "/api/v1/load", `{}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary loader.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.ManifestsProcessed)

	rec = do(t, s, http.MethodPost, "/api/v1/search", `{"query":"files"}`, map[string]string{HeaderActorCapabilities: "fs.read"})
	require.Equal(t, http.StatusOK, rec.Code)
	var sr search.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sr))
	require.Len(t, sr.Results, 1)
	assert.Equal(t, "urn:tool:files", sr.Results[0].URN)

	rec = do(t, s, http.MethodPost, "/api/v1/search", `{"query":"files"}`, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sr))
	assert.Empty(t, sr.Results, "anonymous callers do not see gated tools")
	assert.Equal(t, 1, sr.TotalCandidates)

	rec = do(t, s, http.MethodPost, "/api/v1/activate", `{"urn":"urn:tool:files"}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/activate", `{"urn":"urn:tool:files","actor":{"capabilities":["fs.read"]}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func writeManifest(dir, name string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
