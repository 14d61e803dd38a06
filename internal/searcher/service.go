// Package searcher is the entry point callers use for wiki search. It picks
// the index engine once from configuration, initializes it, and routes
// keyword searches, rebuilds, info requests and domain events to it. With no
// engine configured, or one that failed to initialize, every call fails with
// ErrSearchUnavailable.
package searcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/delegator"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/delegator/elasticsearch"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/delegator/embedded"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/events"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/jobs"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/progress"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/resilience"
)

// Factory constructs the delegator for a selection.
type Factory func(sel delegator.Selection, cfg config.SearchConfig, deps delegator.Deps) (delegator.Delegator, error)

// DefaultFactory builds the Elasticsearch, Searchbox or bleve delegator.
func DefaultFactory(sel delegator.Selection, cfg config.SearchConfig, deps delegator.Deps) (delegator.Delegator, error) {
	switch sel.Kind {
	case delegator.KindSearchbox, delegator.KindElasticsearch:
		return elasticsearch.New(sel.Kind, sel.URI, cfg.MappingFile, cfg.RequestTimeout, deps)
	case delegator.KindBleve:
		return embedded.New(sel.URI, deps)
	default:
		return nil, nil
	}
}

type Deps struct {
	Store store.Store
	// Cache is optional; nil disables result caching.
	Cache   *cache.QueryCache
	Lock    *jobs.Lock
	Emitter progress.Emitter
	Metrics *metrics.Metrics
	// Factory defaults to DefaultFactory.
	Factory Factory
}

type Service struct {
	delegator delegator.Delegator
	kind      delegator.Kind
	reason    string
	cache     *cache.QueryCache
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New selects and initializes the delegator. It never fails: an engine that
// cannot be built or reached is logged and the service stays disabled.
func New(ctx context.Context, cfg config.SearchConfig, deps Deps) *Service {
	s := &Service{
		cache:   deps.Cache,
		metrics: deps.Metrics,
		logger:  slog.Default().With("component", "search-service"),
	}
	s.breaker = resilience.NewCircuitBreaker("index-engine", resilience.CircuitBreakerConfig{
		IsFailure: engineFailure,
		OnStateChange: func(name string, to resilience.State) {
			if s.metrics != nil {
				s.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})

	sel := delegator.Select(cfg)
	s.kind = sel.Kind
	if sel.Kind == delegator.KindNone {
		s.reason = "no index engine configured"
		s.logger.Info("search disabled", "reason", s.reason)
		return s
	}

	factory := deps.Factory
	if factory == nil {
		factory = DefaultFactory
	}
	d, err := factory(sel, cfg, delegator.Deps{
		Store: deps.Store,
		Policy: query.Policy{
			HideRestrictedByOwner: cfg.HideRestrictedByOwner,
			HideRestrictedByGroup: cfg.HideRestrictedByGroup,
		},
		MaxLimit: cfg.MaxLimit,
		BulkSize: cfg.BulkSize,
		Lock:     deps.Lock,
		Emitter:  deps.Emitter,
		Metrics:  deps.Metrics,
		OnChange: s.invalidate,
	})
	if err == nil && d == nil {
		err = errors.New("no delegator for engine")
	}
	if err != nil {
		s.reason = "index engine could not be configured"
		s.logger.Error("search disabled", "engine", sel.Kind, "error", err)
		return s
	}
	if err := d.Init(ctx); err != nil {
		s.reason = "index engine unreachable"
		s.logger.Error("search disabled", "engine", sel.Kind, "error", err)
		if cerr := d.Close(); cerr != nil {
			s.logger.Warn("closing delegator", "error", cerr)
		}
		return s
	}

	s.delegator = d
	s.logger.Info("search enabled", "engine", sel.Kind)
	return s
}

// engineFailure counts only failures that say something about the engine's
// health, not conflicts or bad input.
func engineFailure(err error) bool {
	return errors.Is(err, apperrors.ErrEngine) ||
		errors.Is(err, apperrors.ErrSearchUnavailable) ||
		errors.Is(err, apperrors.ErrTimeout)
}

func (s *Service) unavailable() error {
	return apperrors.Unavailable(s.reason)
}

func (s *Service) IsAvailable() bool { return s.delegator != nil }

func (s *Service) Kind() delegator.Kind { return s.kind }

func (s *Service) IsRebuilding() bool {
	return s.delegator != nil && s.delegator.IsRebuilding()
}

// SearchKeyword parses text and runs it for viewer. Results are served from
// the cache when one is configured.
func (s *Service) SearchKeyword(ctx context.Context, text string, viewer query.Viewer, opts query.Options) (*query.Result, error) {
	start := time.Now()
	if s.delegator == nil {
		s.observe("unavailable", "none", start)
		return nil, s.unavailable()
	}

	pq := parser.Parse(text)
	compute := func() (*query.Result, error) {
		var res *query.Result
		err := s.breaker.Execute(func() error {
			var err error
			res, err = s.delegator.SearchKeyword(ctx, pq, viewer, opts)
			return err
		})
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, apperrors.Unavailable("index engine circuit open")
		}
		return res, err
	}

	var (
		res *query.Result
		err error
	)
	cacheStatus := "none"
	if s.cache != nil {
		var hit bool
		res, hit, err = s.cache.GetOrCompute(ctx, cache.Key(pq, viewer, opts), compute)
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
		if s.metrics != nil && err == nil {
			if hit {
				s.metrics.CacheHitsTotal.Inc()
			} else {
				s.metrics.CacheMissesTotal.Inc()
			}
		}
	} else {
		res, err = compute()
	}

	log := logger.FromContext(ctx)
	if err != nil {
		s.observe("error", cacheStatus, start)
		log.Error("keyword search failed", "query", text, "error", err)
		return nil, err
	}

	outcome := "ok"
	if res.Meta.Total == 0 {
		outcome = "zero_result"
	}
	s.observe(outcome, cacheStatus, start)
	log.Info("keyword search",
		"tokens", pq.Tokens(),
		"total", res.Meta.Total,
		"returned", res.Meta.Results,
		"cache", cacheStatus,
		"took_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Service) observe(outcome, cacheStatus string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	s.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
}

// BuildIndex starts a full rebuild. It returns ErrJobRunning at once when a
// rebuild is already in flight.
func (s *Service) BuildIndex(ctx context.Context) (<-chan error, error) {
	if s.delegator == nil {
		return nil, s.unavailable()
	}
	return s.delegator.BuildIndex(ctx)
}

func (s *Service) Info(ctx context.Context) (*index.Info, error) {
	if s.delegator == nil {
		return nil, s.unavailable()
	}
	return s.delegator.Info(ctx)
}

// Subscribe returns a dispatcher that applies domain events to the active
// delegator. The caller starts and closes it.
func (s *Service) Subscribe(workers, queueSize int) (*events.Dispatcher, error) {
	if s.delegator == nil {
		return nil, s.unavailable()
	}
	return events.NewDispatcher(s.delegator, workers, queueSize, s.metrics), nil
}

// Check is a readiness probe for the index engine.
func (s *Service) Check(ctx context.Context) error {
	if s.delegator == nil {
		return s.unavailable()
	}
	_, err := s.delegator.Info(ctx)
	return err
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("cache invalidation failed", "error", err)
	}
}

func (s *Service) Close() error {
	if s.delegator == nil {
		return nil
	}
	return s.delegator.Close()
}
