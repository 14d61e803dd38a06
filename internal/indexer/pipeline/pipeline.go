// Package pipeline bulk-loads every eligible page into an index. Stages run
// as goroutines joined by unbuffered channels, so a slow stage blocks the
// ones upstream of it and memory stays bounded by a handful of batches:
//
//	source -> eligibility filter -> batcher -> bookmark join -> tag join -> bulk writer
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/progress"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/metrics"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize = 100
	collectionPages  = "pages"
)

// Source is what the pipeline reads from the document store.
type Source interface {
	store.PageSource
	store.BookmarkCounter
	store.TagLookup
}

// Result summarises one run. Total counts eligible pages; Skipped counts
// candidates dropped by the eligibility filter.
type Result struct {
	Total   int64 `json:"total"`
	Indexed int64 `json:"indexed"`
	Skipped int64 `json:"skipped"`
	Errored int64 `json:"errored"`
	Batches int64 `json:"batches"`
}

type Pipeline struct {
	source    Source
	client    index.Client
	batchSize int
	emitter   progress.Emitter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Pipeline)

func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithEmitter(e progress.Emitter) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.emitter = e
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func New(source Source, client index.Client, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:    source,
		client:    client,
		batchSize: DefaultBatchSize,
		emitter:   progress.Discard,
		logger:    slog.Default().With("component", "index-pipeline"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type batch struct {
	seq       int64
	pages     []*document.Page
	bookmarks map[string]int
	tags      map[string][]string
}

// Run streams every candidate page into target. Store failures abort the
// run. A failed bulk call or rejected items are logged and counted, and the
// run moves on to the next batch; nothing is retried.
func (p *Pipeline) Run(ctx context.Context, target string) (Result, error) {
	total, err := p.source.CountPages(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("counting candidate pages: %w", err)
	}
	tracker := progress.NewTracker(p.emitter, p.batchSize, map[string]int64{collectionPages: total}, collectionPages)

	var res Result
	g, gctx := errgroup.WithContext(ctx)

	pages := make(chan *document.Page)
	eligible := make(chan *document.Page)
	batches := make(chan *batch)
	withBookmarks := make(chan *batch)
	joined := make(chan *batch)

	g.Go(func() error {
		defer close(pages)
		return p.readSource(gctx, pages)
	})
	g.Go(func() error {
		defer close(eligible)
		for page := range pages {
			if !document.ShouldIndex(page) {
				res.Skipped++
				tracker.Skip(1)
				continue
			}
			if err := send(gctx, eligible, page); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		defer close(batches)
		return p.batch(gctx, eligible, batches)
	})
	g.Go(func() error {
		defer close(withBookmarks)
		for b := range batches {
			counts, err := p.source.BookmarkCounts(gctx, pageIDs(b.pages))
			if err != nil {
				return fmt.Errorf("batch %d: bookmark counts: %w", b.seq, err)
			}
			b.bookmarks = counts
			if err := send(gctx, withBookmarks, b); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		defer close(joined)
		for b := range withBookmarks {
			tags, err := p.source.TagNames(gctx, pageIDs(b.pages))
			if err != nil {
				return fmt.Errorf("batch %d: tag names: %w", b.seq, err)
			}
			b.tags = tags
			if err := send(gctx, joined, b); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for b := range joined {
			p.write(gctx, target, b, &res, tracker)
		}
		return gctx.Err()
	})

	if err := g.Wait(); err != nil {
		p.logger.Error("pipeline aborted", "target", target, "batches", res.Batches, "error", err)
		return res, err
	}

	res.Total = res.Indexed + res.Errored
	tracker.Finish(ctx, collectionPages, res.Total)
	p.logger.Info("pipeline finished",
		"target", target,
		"total", res.Total,
		"indexed", res.Indexed,
		"skipped", res.Skipped,
		"errored", res.Errored,
		"batches", res.Batches,
	)
	return res, nil
}

func (p *Pipeline) readSource(ctx context.Context, out chan<- *document.Page) error {
	cur, err := p.source.OpenCursor(ctx)
	if err != nil {
		return fmt.Errorf("opening page cursor: %w", err)
	}
	defer cur.Close()
	for cur.Next() {
		if err := send(ctx, out, cur.Page()); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("reading pages: %w", err)
	}
	return nil
}

func (p *Pipeline) batch(ctx context.Context, in <-chan *document.Page, out chan<- *batch) error {
	var seq int64
	cur := make([]*document.Page, 0, p.batchSize)
	for page := range in {
		cur = append(cur, page)
		if len(cur) < p.batchSize {
			continue
		}
		seq++
		if err := send(ctx, out, &batch{seq: seq, pages: cur}); err != nil {
			return err
		}
		cur = make([]*document.Page, 0, p.batchSize)
	}
	if len(cur) > 0 {
		seq++
		return send(ctx, out, &batch{seq: seq, pages: cur})
	}
	return nil
}

func (p *Pipeline) write(ctx context.Context, target string, b *batch, res *Result, tracker *progress.Tracker) {
	res.Batches++
	ops := make([]index.BulkOp, 0, len(b.pages))
	for _, page := range b.pages {
		doc := document.Project(page, b.bookmarks[page.ID], b.tags[page.ID])
		ops = append(ops, index.IndexOp(target, doc))
	}

	result, err := p.client.Bulk(ctx, ops)
	if err != nil {
		res.Errored += int64(len(ops))
		p.countErrors(len(ops))
		p.logger.Error("bulk write failed, skipping batch",
			"batch", b.seq,
			"batch_size", len(ops),
			"error", err,
		)
		return
	}

	failed := result.FailedCount()
	res.Indexed += int64(len(ops) - failed)
	res.Errored += int64(failed)
	if p.metrics != nil {
		p.metrics.DocsIndexedTotal.Add(float64(len(ops) - failed))
	}
	if failed > 0 {
		p.countErrors(failed)
		p.logger.Warn("bulk write had item errors",
			"batch", b.seq,
			"batch_size", len(ops),
			"failed", failed,
			"first_error", result.FirstError(),
		)
	}
	tracker.Add(ctx, collectionPages, int64(len(ops)))
}

func (p *Pipeline) countErrors(n int) {
	if p.metrics != nil {
		p.metrics.BulkItemErrorsTotal.Add(float64(n))
	}
}

func pageIDs(pages []*document.Page) []string {
	return lo.Map(pages, func(p *document.Page, _ int) string { return p.ID })
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
