// Package indexer keeps the search index in step with the document store.
// Incremental syncs re-derive one page at a time; RebuildIndex reloads the
// whole corpus behind an alias so readers never see an empty index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/jobs"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/pipeline"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/progress"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/tracing"
)

type Config struct {
	Names    index.Names
	BulkSize int
	// Lock is shared with other job kinds; nil gets a private lock.
	Lock    *jobs.Lock
	Emitter progress.Emitter
	Metrics *metrics.Metrics
	// OnChange runs after every successful write to the index.
	OnChange func(ctx context.Context)
}

type Engine struct {
	client   index.Client
	source   pipeline.Source
	names    index.Names
	bulkSize int
	lock     *jobs.Lock
	emitter  progress.Emitter
	metrics  *metrics.Metrics
	onChange func(ctx context.Context)
	logger   *slog.Logger
}

func NewEngine(client index.Client, source pipeline.Source, cfg Config) *Engine {
	if cfg.Lock == nil {
		cfg.Lock = jobs.NewLock()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.Discard
	}
	if cfg.BulkSize <= 0 {
		cfg.BulkSize = pipeline.DefaultBatchSize
	}
	return &Engine{
		client:   client,
		source:   source,
		names:    cfg.Names,
		bulkSize: cfg.BulkSize,
		lock:     cfg.Lock,
		emitter:  cfg.Emitter,
		metrics:  cfg.Metrics,
		onChange: cfg.OnChange,
		logger:   slog.Default().With("component", "index-sync", "index", cfg.Names.Live),
	}
}

func (e *Engine) Names() index.Names { return e.names }

// InitIndices drops a leftover temporary index, creates the live index if it
// is missing and points the alias at it if the alias does not exist yet.
func (e *Engine) InitIndices(ctx context.Context) error {
	tmpExists, err := e.client.IndexExists(ctx, e.names.Tmp)
	if err != nil {
		return fmt.Errorf("checking %s: %w", e.names.Tmp, err)
	}
	if tmpExists {
		e.logger.Warn("removing stale temporary index", "tmp_index", e.names.Tmp)
		if err := e.client.DeleteIndex(ctx, e.names.Tmp); err != nil {
			return fmt.Errorf("deleting %s: %w", e.names.Tmp, err)
		}
	}

	liveExists, err := e.client.IndexExists(ctx, e.names.Live)
	if err != nil {
		return fmt.Errorf("checking %s: %w", e.names.Live, err)
	}
	if !liveExists {
		if err := e.client.CreateIndex(ctx, e.names.Live); err != nil {
			return fmt.Errorf("creating %s: %w", e.names.Live, err)
		}
		e.logger.Info("created live index")
	}

	aliasExists, err := e.client.AliasExists(ctx, e.names.Alias)
	if err != nil {
		return fmt.Errorf("checking alias %s: %w", e.names.Alias, err)
	}
	if !aliasExists {
		if err := e.client.PutAlias(ctx, e.names.Live, e.names.Alias); err != nil {
			return fmt.Errorf("binding alias %s: %w", e.names.Alias, err)
		}
		e.logger.Info("bound alias", "alias", e.names.Alias)
	}
	return nil
}

// SyncUpserted re-derives the page from the store and writes it in full. A
// page that is gone or no longer eligible is deleted from the index instead,
// so stale entries heal on the next event for that page.
func (e *Engine) SyncUpserted(ctx context.Context, pageID string) error {
	page, err := e.source.FindPage(ctx, pageID)
	if errors.Is(err, apperrors.ErrDocumentNotFound) {
		logger.FromContext(ctx).Debug("page not in store, removing from index", "page_id", pageID)
		return e.SyncDeleted(ctx, pageID)
	}
	if err != nil {
		return fmt.Errorf("loading page %s: %w", pageID, err)
	}
	if !document.ShouldIndex(page) {
		logger.FromContext(ctx).Debug("page not eligible, removing from index", "page_id", pageID)
		return e.SyncDeleted(ctx, pageID)
	}

	ids := []string{pageID}
	bookmarks, err := e.source.BookmarkCounts(ctx, ids)
	if err != nil {
		return fmt.Errorf("bookmark count for %s: %w", pageID, err)
	}
	tags, err := e.source.TagNames(ctx, ids)
	if err != nil {
		return fmt.Errorf("tag names for %s: %w", pageID, err)
	}

	doc := document.Project(page, bookmarks[pageID], tags[pageID])
	if err := e.write(ctx, index.IndexOp(e.names.Live, doc)); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Inc()
	}
	return nil
}

// SyncDeleted removes the page from the live index. Deleting a page that is
// not indexed succeeds.
func (e *Engine) SyncDeleted(ctx context.Context, pageID string) error {
	return e.write(ctx, index.DeleteOp(e.names.Live, pageID))
}

func (e *Engine) SyncBookmarkChanged(ctx context.Context, pageID string) error {
	return e.SyncUpserted(ctx, pageID)
}

func (e *Engine) SyncTagChanged(ctx context.Context, pageID string) error {
	return e.SyncUpserted(ctx, pageID)
}

func (e *Engine) write(ctx context.Context, op index.BulkOp) error {
	res, err := e.client.Bulk(ctx, []index.BulkOp{op})
	if err != nil {
		return fmt.Errorf("%s page %s: %w", op.Action, op.ID, err)
	}
	if itemErr := res.FirstError(); itemErr != nil {
		if e.metrics != nil {
			e.metrics.BulkItemErrorsTotal.Inc()
		}
		return apperrors.Newf(apperrors.ErrEngine, http.StatusBadGateway, "%s page %s: %v", op.Action, op.ID, itemErr)
	}
	e.changed(ctx)
	return nil
}

func (e *Engine) changed(ctx context.Context) {
	if e.onChange != nil {
		e.onChange(ctx)
	}
}

// AddAllPages streams every eligible page into target.
func (e *Engine) AddAllPages(ctx context.Context, target string) (pipeline.Result, error) {
	p := pipeline.New(e.source, e.client,
		pipeline.WithBatchSize(e.bulkSize),
		pipeline.WithEmitter(e.emitter),
		pipeline.WithMetrics(e.metrics),
	)
	return p.Run(ctx, target)
}

func (e *Engine) IsRebuilding() bool {
	return e.lock.Running(jobs.KindRebuildIndex)
}

// RebuildIndex reloads the corpus with the alias parked on a copy:
//
//  1. recreate the temporary index
//  2. copy live into it
//  3. alias -> temporary
//  4. recreate live empty
//  5. bulk-load live from the store
//  6. alias -> live
//  7. drop the temporary index
//
// Both alias moves are single atomic updates. A second rebuild while one is
// running fails with ErrJobRunning.
func (e *Engine) RebuildIndex(ctx context.Context) (pipeline.Result, error) {
	release, err := e.lock.TryAcquire(jobs.KindRebuildIndex)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer release()
	return e.rebuild(ctx)
}

// StartRebuild acquires the lock synchronously, so a conflict is reported to
// the caller, then rebuilds in the background. The returned channel yields
// the outcome once and is closed.
func (e *Engine) StartRebuild(ctx context.Context) (<-chan error, error) {
	release, err := e.lock.TryAcquire(jobs.KindRebuildIndex)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		done <- func() error {
			defer release()
			_, err := e.rebuild(bg)
			return err
		}()
	}()
	return done, nil
}

func (e *Engine) rebuild(ctx context.Context) (res pipeline.Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "rebuild-index", logger.RequestID(ctx))
	start := time.Now()
	if e.metrics != nil {
		e.metrics.RebuildInProgress.Set(1)
		defer e.metrics.RebuildInProgress.Set(0)
	}
	defer func() {
		span.EndErr(err)
		span.Log(e.logger)
	}()

	e.logger.Info("rebuild started", "trace_id", span.TraceID)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"init-indices", e.InitIndices},
		{"create-tmp", e.recreate(e.names.Tmp)},
		{"reindex-to-tmp", func(ctx context.Context) error {
			return e.client.Reindex(ctx, e.names.Live, e.names.Tmp)
		}},
		{"alias-to-tmp", e.swapAlias(e.names.Tmp, e.names.Live)},
		{"recreate-live", e.recreate(e.names.Live)},
		{"add-all-pages", func(ctx context.Context) error {
			r, err := e.AddAllPages(ctx, e.names.Live)
			res = r
			tracing.SpanFromContext(ctx).SetAttr("indexed", r.Indexed)
			return err
		}},
		{"alias-to-live", e.swapAlias(e.names.Live, e.names.Tmp)},
		{"drop-tmp", func(ctx context.Context) error {
			return e.client.DeleteIndex(ctx, e.names.Tmp)
		}},
	}
	for _, s := range steps {
		sctx, child := tracing.StartChildSpan(ctx, s.name)
		if err := child.EndErr(s.fn(sctx)); err != nil {
			e.logger.Error("rebuild failed", "step", s.name, "error", err)
			return res, fmt.Errorf("rebuild step %s: %w", s.name, err)
		}
	}

	e.changed(ctx)
	span.SetAttr("indexed", res.Indexed)
	span.SetAttr("errored", res.Errored)
	e.logger.Info("rebuild finished",
		"indexed", res.Indexed,
		"skipped", res.Skipped,
		"errored", res.Errored,
		"took_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// recreate deletes name if present and creates it empty.
func (e *Engine) recreate(name string) func(context.Context) error {
	return func(ctx context.Context) error {
		exists, err := e.client.IndexExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			if err := e.client.DeleteIndex(ctx, name); err != nil {
				return err
			}
		}
		return e.client.CreateIndex(ctx, name)
	}
}

func (e *Engine) swapAlias(to, from string) func(context.Context) error {
	return func(ctx context.Context) error {
		return e.client.UpdateAliases(ctx, []index.AliasAction{
			index.AddAlias(to, e.names.Alias),
			index.RemoveAlias(from, e.names.Alias),
		})
	}
}
