package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/delegator"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	available  bool
	rebuilding bool
	buildErr   error

	gotText   string
	gotViewer query.Viewer
	gotOpts   query.Options
	built     chan error
}

func (s *stubSearcher) SearchKeyword(_ context.Context, text string, viewer query.Viewer, opts query.Options) (*query.Result, error) {
	if !s.available {
		return nil, apperrors.Unavailable("no index engine configured")
	}
	s.gotText, s.gotViewer, s.gotOpts = text, viewer, opts
	return query.NewResult(4, 1, []query.Hit{{ID: "p1", Score: 2, Source: map[string]any{"path": "/a"}}}), nil
}

func (s *stubSearcher) BuildIndex(context.Context) (<-chan error, error) {
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	s.built = make(chan error, 1)
	s.built <- nil
	close(s.built)
	return s.built, nil
}

func (s *stubSearcher) Info(context.Context) (*index.Info, error) {
	if !s.available {
		return nil, apperrors.Unavailable("no index engine configured")
	}
	return &index.Info{Engine: "elasticsearch", Version: "7.17.0"}, nil
}

func (s *stubSearcher) IsAvailable() bool    { return s.available }
func (s *stubSearcher) IsRebuilding() bool   { return s.rebuilding }
func (s *stubSearcher) Kind() delegator.Kind { return delegator.KindElasticsearch }

func serve(t *testing.T, s Searcher, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	New(s, nil).Register(mux)
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSearch(t *testing.T) {
	s := &stubSearcher{available: true}
	rec := serve(t, s, http.MethodGet, "/api/v1/search?q=deploy+tag:ops&offset=10&limit=5&type=portal", map[string]string{
		HeaderUserID:     "u1",
		HeaderUserGroups: "g1, g2,",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "deploy tag:ops", s.gotText)
	assert.Equal(t, query.Viewer{UserID: "u1", GroupIDs: []string{"g1", "g2"}}, s.gotViewer)
	assert.Equal(t, query.Options{Offset: 10, Limit: 5, Type: query.TypePortal}, s.gotOpts)

	var body struct {
		Meta query.Meta `json:"meta"`
		Data []struct {
			ID     string         `json:"_id"`
			Score  float64        `json:"_score"`
			Source map[string]any `json:"_source"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, query.Meta{Took: 4, Total: 1, Results: 1}, body.Meta)
	assert.Equal(t, "p1", body.Data[0].ID)
	assert.Equal(t, "/a", body.Data[0].Source["path"])
}

func TestSearch_AnonymousIgnoresGroups(t *testing.T) {
	s := &stubSearcher{available: true}
	rec := serve(t, s, http.MethodGet, "/api/v1/search?q=x", map[string]string{HeaderUserGroups: "g1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.gotViewer.Anonymous())
	assert.Empty(t, s.gotViewer.GroupIDs)
}

func TestSearch_BadParameters(t *testing.T) {
	s := &stubSearcher{available: true}
	for _, target := range []string{
		"/api/v1/search?q=x&limit=0",
		"/api/v1/search?q=x&limit=abc",
		"/api/v1/search?q=x&offset=-1",
	} {
		rec := serve(t, s, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestSearch_UnknownTypePassesThrough(t *testing.T) {
	s := &stubSearcher{available: true}
	rec := serve(t, s, http.MethodGet, "/api/v1/search?q=x&type=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, query.PageType("secret"), s.gotOpts.Type)
	assert.False(t, s.gotOpts.Type.Known())
}

func TestSearch_Unavailable(t *testing.T) {
	rec := serve(t, &stubSearcher{}, http.MethodGet, "/api/v1/search?q=x", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "search not available")

	rec = serve(t, &stubSearcher{}, http.MethodGet, "/api/v1/search/info", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRebuild(t *testing.T) {
	rec := serve(t, &stubSearcher{available: true}, http.MethodPost, "/api/v1/search/rebuild", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(t, &stubSearcher{buildErr: apperrors.Conflict("rebuild-index already running")}, http.MethodPost, "/api/v1/search/rebuild", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, &stubSearcher{buildErr: apperrors.Unavailable("no index engine configured")}, http.MethodPost, "/api/v1/search/rebuild", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInfoAndStatus(t *testing.T) {
	s := &stubSearcher{available: true, rebuilding: true}
	rec := serve(t, s, http.MethodGet, "/api/v1/search/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"7.17.0"`)

	rec = serve(t, s, http.MethodGet, "/api/v1/search/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"available":true,"engine":"elasticsearch","rebuilding":true}`, rec.Body.String())

	rec = serve(t, s, http.MethodGet, "/api/v1/cache/stats", nil)
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())
}
