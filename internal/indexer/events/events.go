// Package events routes the wiki's domain events to the index sync engine.
// Every event means "re-sync this page now"; the dispatcher queues events per
// worker so a burst of mutations is absorbed with bounded memory and events
// for the same page are applied in the order they were published.
package events

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/metrics"
)

type Topic string

const (
	TopicPage     Topic = "page"
	TopicBookmark Topic = "bookmark"
	TopicTag      Topic = "tag"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

type Event struct {
	Topic      Topic     `json:"topic"`
	Action     Action    `json:"action"`
	PageID     string    `json:"page_id"`
	UserID     string    `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Validate rejects events no sync operation exists for. Tags only emit
// updates.
func (e Event) Validate() error {
	if e.PageID == "" {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "event without page_id")
	}
	switch e.Topic {
	case TopicPage, TopicBookmark:
		switch e.Action {
		case ActionCreate, ActionUpdate, ActionDelete:
			return nil
		}
	case TopicTag:
		if e.Action == ActionUpdate {
			return nil
		}
	}
	return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unsupported event %s/%s", e.Topic, e.Action)
}

// Syncer is the part of the index sync engine events drive.
type Syncer interface {
	SyncUpserted(ctx context.Context, pageID string) error
	SyncDeleted(ctx context.Context, pageID string) error
	SyncBookmarkChanged(ctx context.Context, pageID string) error
	SyncTagChanged(ctx context.Context, pageID string) error
}

// Apply runs the sync operation for ev.
func Apply(ctx context.Context, s Syncer, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	switch {
	case ev.Topic == TopicPage && ev.Action == ActionDelete:
		return s.SyncDeleted(ctx, ev.PageID)
	case ev.Topic == TopicPage:
		return s.SyncUpserted(ctx, ev.PageID)
	case ev.Topic == TopicBookmark:
		return s.SyncBookmarkChanged(ctx, ev.PageID)
	default:
		return s.SyncTagChanged(ctx, ev.PageID)
	}
}

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher fans events out to a fixed set of workers. Each worker owns a
// bounded queue; an event goes to the worker chosen by hashing its page id.
type Dispatcher struct {
	syncer  Syncer
	queues  []chan Event
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.RWMutex
	closed    bool
	started   bool
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewDispatcher(s Syncer, workers, queueSize int, m *metrics.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	queues := make([]chan Event, workers)
	for i := range queues {
		queues[i] = make(chan Event, queueSize)
	}
	return &Dispatcher{
		syncer:  s,
		queues:  queues,
		metrics: m,
		logger:  slog.Default().With("component", "event-dispatcher"),
		closing: make(chan struct{}),
	}
}

// Start launches the workers. Sync calls run under ctx; workers keep
// draining their queues until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i, q := range d.queues {
		d.wg.Add(1)
		go d.work(ctx, i, q)
	}
	d.logger.Info("dispatcher started", "workers", len(d.queues))
}

// Publish enqueues ev, blocking while the target queue is full. A blocked
// Publish returns ErrDispatcherClosed once Close is called.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queues[d.shard(ev.PageID)] <- ev:
		return nil
	case <-d.closing:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return fmt.Errorf("publishing %s/%s for %s: %w", ev.Topic, ev.Action, ev.PageID, ctx.Err())
	}
}

// Close stops accepting events and waits for queued ones to be applied.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closing) })
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) shard(pageID string) int {
	h := fnv.New32a()
	h.Write([]byte(pageID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) work(ctx context.Context, id int, q <-chan Event) {
	defer d.wg.Done()
	for ev := range q {
		status := "ok"
		if err := Apply(ctx, d.syncer, ev); err != nil {
			status = "error"
			d.logger.Error("sync failed",
				"worker", id,
				"topic", ev.Topic,
				"action", ev.Action,
				"page_id", ev.PageID,
				"error", err,
			)
		}
		if d.metrics != nil {
			d.metrics.SyncEventsTotal.WithLabelValues(string(ev.Topic), string(ev.Action), status).Inc()
		}
	}
}
