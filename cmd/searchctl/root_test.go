package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseCmd(t *testing.T) {
	out, err := run(t, "parse", "--", "deploy", `"blue green"`, "-legacy", "tag:ops")
	require.NoError(t, err)

	var pq parser.ParsedQuery
	require.NoError(t, json.Unmarshal([]byte(out), &pq))
	assert.Equal(t, []string{"deploy"}, pq.Match)
	assert.Equal(t, []string{`"blue green"`}, pq.Phrase)
	assert.Equal(t, []string{"legacy"}, pq.NotMatch)
	assert.Equal(t, []string{"ops"}, pq.Tag)
}

func TestBuildQueryCmd(t *testing.T) {
	out, err := run(t, "build-query", "--user", "u1", "--groups", "g1,g2", "--type", "portal",
		"--limit", "5", "--users", "100", "--hide-restricted-by-group", "deploy")
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.EqualValues(t, 5, body["size"])
	assert.Contains(t, out, "function_score")
	assert.Contains(t, out, `"g1"`)
	assert.Contains(t, out, "deploy")
}

func TestBuildQueryCmd_UnknownTypeFiltersNothing(t *testing.T) {
	out, err := run(t, "build-query", "--type", "secret", "deploy")
	require.NoError(t, err)

	plain, err := run(t, "build-query", "deploy")
	require.NoError(t, err)
	assert.JSONEq(t, plain, out)
	assert.NotContains(t, out, "regexp")
}

func TestPublishCmd_ValidatesBeforeConnecting(t *testing.T) {
	_, err := run(t, "publish", "tag", "delete", "p1")
	assert.ErrorContains(t, err, "unsupported event")

	_, err = run(t, "publish", "page", "create", "")
	assert.ErrorContains(t, err, "page_id")
}

func TestLoadTestCmd(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/v1/search", r.URL.Path)
		assert.Equal(t, "u1", r.Header.Get("X-User-Id"))
		w.Write([]byte(`{"meta":{},"data":[]}`))
	}))
	defer srv.Close()

	out, err := run(t, "loadtest", "--url", srv.URL, "--duration", "100ms", "--concurrency", "2",
		"--query", "deploy", "--user", "u1")
	require.NoError(t, err)
	assert.Positive(t, hits.Load())
	assert.Contains(t, out, "=== Status Codes ===")
	assert.Contains(t, out, "200:")
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(1), percentile(sorted, 0))
	assert.Zero(t, percentile(nil, 50))
}
