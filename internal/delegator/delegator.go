// Package delegator puts one index engine behind a single capability
// interface. Which engine is used is decided once, from configuration, by
// Select; the engine packages only supply an index.Client and share the
// search and sync logic implemented by Base.
package delegator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/jobs"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/progress"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/metrics"
)

type Kind string

const (
	KindNone          Kind = "none"
	KindSearchbox     Kind = "searchbox"
	KindElasticsearch Kind = "elasticsearch"
	KindBleve         Kind = "bleve"
)

// DefaultIndexName is used when the engine URI carries no index path.
const DefaultIndexName = "crowi"

type Delegator interface {
	Kind() Kind
	// Init probes the engine and makes sure the live index and alias exist.
	Init(ctx context.Context) error
	SearchKeyword(ctx context.Context, pq *parser.ParsedQuery, viewer query.Viewer, opts query.Options) (*query.Result, error)
	// BuildIndex starts a full rebuild in the background. The channel yields
	// its outcome.
	BuildIndex(ctx context.Context) (<-chan error, error)
	Info(ctx context.Context) (*index.Info, error)
	IsRebuilding() bool

	SyncUpserted(ctx context.Context, pageID string) error
	SyncDeleted(ctx context.Context, pageID string) error
	SyncBookmarkChanged(ctx context.Context, pageID string) error
	SyncTagChanged(ctx context.Context, pageID string) error

	Close() error
}

// Selection is the outcome of Select.
type Selection struct {
	Kind Kind
	// URI is the engine endpoint (for bleve, the index directory; empty
	// means in-memory).
	URI string
}

// Select picks the engine from configuration: Searchbox wins over
// Elasticsearch, which wins over the embedded bleve engine. With none
// configured search stays disabled.
func Select(cfg config.SearchConfig) Selection {
	switch {
	case cfg.SearchboxURI != "":
		return Selection{Kind: KindSearchbox, URI: cfg.SearchboxURI}
	case cfg.ElasticsearchURI != "":
		return Selection{Kind: KindElasticsearch, URI: cfg.ElasticsearchURI}
	case cfg.BlevePath != "":
		path := cfg.BlevePath
		if path == ":memory:" {
			path = ""
		}
		return Selection{Kind: KindBleve, URI: path}
	default:
		return Selection{Kind: KindNone}
	}
}

var uriPattern = regexp.MustCompile(`^(https?://[^/]+)/(.+)$`)

// Endpoint is an engine URI split into its base URL and index name.
type Endpoint struct {
	Host      string
	IndexName string
	Username  string
	Password  string
}

// ParseURI splits "scheme://[user:pass@]host[:port][/index]". Without an
// index path the index is DefaultIndexName.
func ParseURI(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parsing engine uri: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("engine uri %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("engine uri %q: missing host", raw)
	}

	ep := Endpoint{IndexName: DefaultIndexName}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
		u.User = nil
	}
	clean := strings.TrimRight(u.String(), "/")
	if m := uriPattern.FindStringSubmatch(clean); m != nil {
		ep.Host, ep.IndexName = m[1], m[2]
	} else {
		ep.Host = clean
	}
	return ep, nil
}

// Deps are the collaborators every delegator needs.
type Deps struct {
	Store    store.Store
	Policy   query.Policy
	MaxLimit int
	BulkSize int
	Lock     *jobs.Lock
	Emitter  progress.Emitter
	Metrics  *metrics.Metrics
	OnChange func(ctx context.Context)
}

// Base implements Delegator on top of any index.Client.
type Base struct {
	kind    Kind
	client  index.Client
	engine  *indexer.Engine
	builder *query.Builder
	users   store.UserCounter
	closer  func() error
	logger  *slog.Logger
}

// NewBase wires client to the sync engine and query builder for indexName.
// closer, if non-nil, runs on Close.
func NewBase(kind Kind, client index.Client, indexName string, deps Deps, closer func() error) *Base {
	names := index.NewNames(indexName)
	engine := indexer.NewEngine(client, deps.Store, indexer.Config{
		Names:    names,
		BulkSize: deps.BulkSize,
		Lock:     deps.Lock,
		Emitter:  deps.Emitter,
		Metrics:  deps.Metrics,
		OnChange: deps.OnChange,
	})
	return &Base{
		kind:    kind,
		client:  client,
		engine:  engine,
		builder: query.NewBuilder(names.Alias, deps.Policy, deps.MaxLimit),
		users:   deps.Store,
		closer:  closer,
		logger:  slog.Default().With("component", "delegator", "engine", kind, "index", indexName),
	}
}

func (b *Base) Kind() Kind { return b.kind }

func (b *Base) Engine() *indexer.Engine { return b.engine }

func (b *Base) Client() index.Client { return b.client }

func (b *Base) Init(ctx context.Context) error {
	info, err := b.client.Info(ctx)
	if err != nil {
		return fmt.Errorf("probing %s: %w", b.kind, err)
	}
	b.logger.Info("engine reachable",
		"version", info.Version,
		"cluster", info.ClusterName,
		"nodes", len(info.Nodes),
	)
	return b.engine.InitIndices(ctx)
}

func (b *Base) SearchKeyword(ctx context.Context, pq *parser.ParsedQuery, viewer query.Viewer, opts query.Options) (*query.Result, error) {
	totalUsers, err := b.users.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}
	req := b.builder.Build(pq, viewer, opts, totalUsers)
	return b.client.Search(ctx, req)
}

func (b *Base) BuildIndex(ctx context.Context) (<-chan error, error) {
	return b.engine.StartRebuild(ctx)
}

func (b *Base) Info(ctx context.Context) (*index.Info, error) {
	return b.client.Info(ctx)
}

func (b *Base) IsRebuilding() bool { return b.engine.IsRebuilding() }

func (b *Base) SyncUpserted(ctx context.Context, pageID string) error {
	return b.engine.SyncUpserted(ctx, pageID)
}

func (b *Base) SyncDeleted(ctx context.Context, pageID string) error {
	return b.engine.SyncDeleted(ctx, pageID)
}

func (b *Base) SyncBookmarkChanged(ctx context.Context, pageID string) error {
	return b.engine.SyncBookmarkChanged(ctx, pageID)
}

func (b *Base) SyncTagChanged(ctx context.Context, pageID string) error {
	return b.engine.SyncTagChanged(ctx, pageID)
}

func (b *Base) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}
