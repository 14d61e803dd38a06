// Package elasticsearch exposes an Elasticsearch (or Searchbox) cluster as an
// index.Client, issuing every call through the official go-elasticsearch
// client.
package elasticsearch

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/resilience"
	elastic "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/samber/lo"
)

//go:embed mappings.json
var defaultMapping []byte

type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	// MappingFile overrides the embedded index mapping.
	MappingFile string
	// RequestTimeout bounds every call except bulk and reindex.
	RequestTimeout time.Duration
	// Transport replaces the default HTTP transport.
	Transport http.RoundTripper
}

type Client struct {
	es      *elastic.Client
	mapping []byte
	timeout time.Duration
	logger  *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	mapping := defaultMapping
	if cfg.MappingFile != "" {
		b, err := os.ReadFile(cfg.MappingFile)
		if err != nil {
			return nil, fmt.Errorf("reading mapping file: %w", err)
		}
		if !json.Valid(b) {
			return nil, fmt.Errorf("mapping file %s is not valid JSON", cfg.MappingFile)
		}
		mapping = b
	}

	es, err := elastic.NewClient(elastic.Config{
		Addresses:    []string{strings.TrimRight(cfg.BaseURL, "/")},
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    cfg.Transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{
		es:      es,
		mapping: mapping,
		timeout: cfg.RequestTimeout,
		logger:  slog.Default().With("component", "es-client"),
	}, nil
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool { return r.status >= 200 && r.status < 300 }

// perform runs one API call and reads its body. bounded calls run under the
// request timeout; a transport failure means the engine is unavailable.
func (c *Client) perform(ctx context.Context, name string, bounded bool, call func(ctx context.Context) (*esapi.Response, error)) (response, error) {
	var resp response
	timeout := c.timeout
	if !bounded {
		timeout = 0
	}
	err := resilience.WithTimeout(ctx, timeout, name, func(ctx context.Context) error {
		start := time.Now()
		res, err := call(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperrors.Unavailable(fmt.Sprintf("%s: %v", name, err))
		}
		defer res.Body.Close()
		b, err := io.ReadAll(res.Body)
		if err != nil {
			return fmt.Errorf("reading %s response: %w", name, err)
		}
		resp = response{status: res.StatusCode, body: b}
		c.logger.Debug("request",
			"call", name,
			"status", res.StatusCode,
			"took_ms", time.Since(start).Milliseconds(),
		)
		return nil
	})
	return resp, err
}

// expect is perform that fails unless the response is 2xx.
func (c *Client) expect(ctx context.Context, name string, bounded bool, call func(ctx context.Context) (*esapi.Response, error)) (response, error) {
	r, err := c.perform(ctx, name, bounded, call)
	if err != nil {
		return r, err
	}
	if !r.ok() {
		return r, engineError(name, r)
	}
	return r, nil
}

func engineError(name string, r response) error {
	var e struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	reason := strings.TrimSpace(string(r.body))
	if json.Unmarshal(r.body, &e) == nil && e.Error.Type != "" {
		reason = e.Error.Type + ": " + e.Error.Reason
	}
	return apperrors.Newf(apperrors.ErrEngine, http.StatusBadGateway, "%s: status %d: %s", name, r.status, reason)
}

func encode(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func existence(name string, r response) (bool, error) {
	switch {
	case r.ok():
		return true, nil
	case r.status == http.StatusNotFound:
		return false, nil
	default:
		return false, engineError(name, r)
	}
}

func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	op := "exists " + name
	r, err := c.perform(ctx, op, true, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	})
	if err != nil {
		return false, err
	}
	return existence(op, r)
}

func (c *Client) CreateIndex(ctx context.Context, name string) error {
	_, err := c.expect(ctx, "create "+name, true, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Indices.Create(name,
			c.es.Indices.Create.WithContext(ctx),
			c.es.Indices.Create.WithBody(bytes.NewReader(c.mapping)),
		)
	})
	return err
}

func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	_, err := c.expect(ctx, "delete "+name, true, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
	})
	return err
}

func (c *Client) AliasExists(ctx context.Context, alias string) (bool, error) {
	op := "alias exists " + alias
	r, err := c.perform(ctx, op, true, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Indices.ExistsAlias([]string{alias}, c.es.Indices.ExistsAlias.WithContext(ctx))
	})
	if err != nil {
		return false, err
	}
	return existence(op, r)
}

func (c *Client) AliasTargets(ctx context.Context, alias string) ([]string, error) {
	op := "get alias " + alias
	r, err := c.perform(ctx, op, true, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Indices.GetAlias(
			c.es.Indices.GetAlias.WithContext(ctx),
			c.es.Indices.GetAlias.WithName(alias),
		)
	})
	if err != nil {
		return nil, err
	}
	if r.status == http.StatusNotFound {
		return nil, nil
	}
	if !r.ok() {
		return nil, engineError(op, r)
	}
	var byIndex map[string]json.RawMessage
	if err := json.Unmarshal(r.body, &byIndex); err != nil {
		return nil, fmt.Errorf("decoding alias targets: %w", err)
	}
	targets := lo.Keys(byIndex)
	sort.Strings(targets)
	return targets, nil
}

func (c *Client) PutAlias(ctx context.Context, indexName, alias string) error {
	_, err := c.expect(ctx, "put alias "+alias, true, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Indices.PutAlias([]string{indexName}, alias, c.es.Indices.PutAlias.WithContext(ctx))
	})
	return err
}

func (c *Client) UpdateAliases(ctx context.Context, actions []index.AliasAction) error {
	body, err := encode(map[string]any{
		"actions": lo.Map(actions, func(a index.AliasAction, _ int) map[string]any {
			return map[string]any{string(a.Op): map[string]string{"index": a.Index, "alias": a.Alias}}
		}),
	})
	if err != nil {
		return fmt.Errorf("encoding alias actions: %w", err)
	}
	_, err = c.expect(ctx, "update aliases", true, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Indices.UpdateAliases(body, c.es.Indices.UpdateAliases.WithContext(ctx))
	})
	return err
}

// Reindex waits for the server-side copy to finish, so it is not bounded by
// the request timeout.
func (c *Client) Reindex(ctx context.Context, src, dst string) error {
	body, err := encode(map[string]any{
		"source": map[string]string{"index": src},
		"dest":   map[string]string{"index": dst},
	})
	if err != nil {
		return fmt.Errorf("encoding reindex request: %w", err)
	}
	r, err := c.expect(ctx, "reindex "+src+" -> "+dst, false, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Reindex(body,
			c.es.Reindex.WithContext(ctx),
			c.es.Reindex.WithWaitForCompletion(true),
			c.es.Reindex.WithRefresh(true),
		)
	})
	if err != nil {
		return err
	}
	var out struct {
		Total    int64             `json:"total"`
		Failures []json.RawMessage `json:"failures"`
	}
	if err := json.Unmarshal(r.body, &out); err != nil {
		return fmt.Errorf("decoding reindex response: %w", err)
	}
	if len(out.Failures) > 0 {
		return apperrors.Newf(apperrors.ErrEngine, http.StatusBadGateway, "reindex %s -> %s: %d failures, first: %s", src, dst, len(out.Failures), out.Failures[0])
	}
	c.logger.Info("reindex complete", "source", src, "dest", dst, "docs", out.Total)
	return nil
}

// Bulk sends ops as one NDJSON request with no client-side timeout.
func (c *Client) Bulk(ctx context.Context, ops []index.BulkOp) (*index.BulkResult, error) {
	if len(ops) == 0 {
		return &index.BulkResult{}, nil
	}
	body, err := encodeBulk(ops)
	if err != nil {
		return nil, err
	}
	r, err := c.expect(ctx, "bulk", false, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Bulk(bytes.NewReader(body), c.es.Bulk.WithContext(ctx))
	})
	if err != nil {
		return nil, err
	}
	return decodeBulk(r.body)
}

func encodeBulk(ops []index.BulkOp) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		meta := map[string]map[string]string{
			string(op.Action): {"_index": op.Index, "_id": op.ID},
		}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("encoding bulk action for %s: %w", op.ID, err)
		}
		if op.Action == index.ActionIndex {
			if err := enc.Encode(op.Doc); err != nil {
				return nil, fmt.Errorf("encoding document %s: %w", op.ID, err)
			}
		}
	}
	return buf.Bytes(), nil
}

type bulkItemBody struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type bulkResponse struct {
	Took  int64                               `json:"took"`
	Items []map[index.BulkAction]bulkItemBody `json:"items"`
}

func decodeBulk(body []byte) (*index.BulkResult, error) {
	var out bulkResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}
	res := &index.BulkResult{Took: out.Took, Items: make([]index.BulkItem, 0, len(out.Items))}
	for _, entry := range out.Items {
		for action, it := range entry {
			item := index.BulkItem{Action: action, ID: it.ID, Status: it.Status}
			if it.Error != nil {
				item.Error = it.Error.Type + ": " + it.Error.Reason
			}
			res.Items = append(res.Items, item)
		}
	}
	return res, nil
}

type searchHit struct {
	ID     string         `json:"_id"`
	Score  float64        `json:"_score"`
	Source map[string]any `json:"_source"`
}

type searchResponse struct {
	Took int64 `json:"took"`
	Hits struct {
		Total json.RawMessage `json:"total"`
		Hits  []searchHit     `json:"hits"`
	} `json:"hits"`
}

func (c *Client) Search(ctx context.Context, req *query.Request) (*query.Result, error) {
	body, err := encode(req)
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}
	r, err := c.expect(ctx, "search "+req.Index, true, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Search(
			c.es.Search.WithContext(ctx),
			c.es.Search.WithIndex(req.Index),
			c.es.Search.WithBody(body),
		)
	})
	if err != nil {
		return nil, err
	}
	var out searchResponse
	if err := json.Unmarshal(r.body, &out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	hits := lo.Map(out.Hits.Hits, func(h searchHit, _ int) query.Hit {
		return query.Hit{ID: h.ID, Score: h.Score, Source: h.Source}
	})
	return query.NewResult(out.Took, decodeTotal(out.Hits.Total), hits), nil
}

// decodeTotal accepts both the pre-7 number and the {"value": n} object.
func decodeTotal(raw json.RawMessage) int64 {
	var n int64
	if json.Unmarshal(raw, &n) == nil {
		return n
	}
	var obj struct {
		Value int64 `json:"value"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Value
	}
	return 0
}

type plugin struct {
	Name string `json:"name"`
}

type nodeInfo struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Plugins []plugin `json:"plugins"`
}

func (c *Client) Info(ctx context.Context) (*index.Info, error) {
	r, err := c.expect(ctx, "info", true, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Info(c.es.Info.WithContext(ctx))
	})
	if err != nil {
		return nil, err
	}
	var root struct {
		ClusterName string `json:"cluster_name"`
		Version     struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := json.Unmarshal(r.body, &root); err != nil {
		return nil, fmt.Errorf("decoding server info: %w", err)
	}
	info := &index.Info{Engine: "elasticsearch", Version: root.Version.Number, ClusterName: root.ClusterName}

	nodes, err := c.expect(ctx, "nodes info", true, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Nodes.Info(
			c.es.Nodes.Info.WithContext(ctx),
			c.es.Nodes.Info.WithMetric("plugins"),
		)
	})
	if err != nil {
		return nil, err
	}
	var nodesBody struct {
		Nodes map[string]nodeInfo `json:"nodes"`
	}
	if err := json.Unmarshal(nodes.body, &nodesBody); err != nil {
		return nil, fmt.Errorf("decoding node info: %w", err)
	}
	for _, n := range nodesBody.Nodes {
		info.Nodes = append(info.Nodes, index.Node{
			Name:    n.Name,
			Version: n.Version,
			Plugins: lo.Map(n.Plugins, func(p plugin, _ int) string { return p.Name }),
		})
	}
	sort.Slice(info.Nodes, func(i, j int) bool { return info.Nodes[i].Name < info.Nodes[j].Name })
	return info, nil
}
