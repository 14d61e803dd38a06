// Package progress tracks how far a bulk indexing or export run has got and
// reports it to interested listeners. Progress is never persisted.
package progress

import (
	"context"
	"sync"
)

type Phase string

const (
	PhaseAddPage       Phase = "add-page-progress"
	PhaseFinishAddPage Phase = "finish-add-page"
)

// Progress counts one collection within a run.
type Progress struct {
	Name         string `json:"name"`
	CurrentCount int64  `json:"current_count"`
	TotalCount   int64  `json:"total_count"`
}

// Status aggregates every collection of a run.
type Status struct {
	List []Progress `json:"progress_list"`
}

func (s Status) CurrentCount() int64 {
	var n int64
	for _, p := range s.List {
		n += p.CurrentCount
	}
	return n
}

func (s Status) TotalCount() int64 {
	var n int64
	for _, p := range s.List {
		n += p.TotalCount
	}
	return n
}

type Event struct {
	Phase        Phase      `json:"phase"`
	CurrentCount int64      `json:"current_count"`
	TotalCount   int64      `json:"total_count"`
	Skipped      int64      `json:"skipped"`
	ProgressList []Progress `json:"progress_list"`
}

// Emitter receives progress events. Implementations must not block for long;
// the pipeline calls Emit inline.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// Tracker counts processed items per collection and emits an event every
// time a counter crosses a multiple of the batch size, and whenever a
// counter reaches its total.
type Tracker struct {
	mu      sync.Mutex
	per     int64
	list    []Progress
	byName  map[string]int
	skipped int64
	emitter Emitter
}

// NewTracker starts tracking the named collections with their candidate
// totals. per is the emit granularity; values below 1 emit on every Add.
func NewTracker(emitter Emitter, per int, totals map[string]int64, order ...string) *Tracker {
	if per < 1 {
		per = 1
	}
	if emitter == nil {
		emitter = Discard
	}
	t := &Tracker{
		per:     int64(per),
		byName:  make(map[string]int, len(order)),
		emitter: emitter,
	}
	for _, name := range order {
		t.byName[name] = len(t.list)
		t.list = append(t.list, Progress{Name: name, TotalCount: totals[name]})
	}
	return t
}

// Add records n more processed items for name.
func (t *Tracker) Add(ctx context.Context, name string, n int64) {
	t.mu.Lock()
	i, ok := t.byName[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	p := &t.list[i]
	before := p.CurrentCount
	p.CurrentCount += n
	crossed := before/t.per != p.CurrentCount/t.per
	reached := p.TotalCount > 0 && p.CurrentCount >= p.TotalCount && before < p.TotalCount
	var ev Event
	if crossed || reached {
		ev = t.eventLocked(PhaseAddPage)
	}
	t.mu.Unlock()

	if crossed || reached {
		t.emitter.Emit(ctx, ev)
	}
}

// Skip records items that were read but not eligible for processing.
func (t *Tracker) Skip(n int64) {
	t.mu.Lock()
	t.skipped += n
	t.mu.Unlock()
}

// Finish fixes name's total at the number of eligible items and always emits
// the final event.
func (t *Tracker) Finish(ctx context.Context, name string, eligible int64) Event {
	t.mu.Lock()
	if i, ok := t.byName[name]; ok {
		t.list[i].TotalCount = eligible
	}
	ev := t.eventLocked(PhaseFinishAddPage)
	t.mu.Unlock()

	t.emitter.Emit(ctx, ev)
	return ev
}

// Status returns a copy of the current counters.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{List: append([]Progress(nil), t.list...)}
}

func (t *Tracker) eventLocked(phase Phase) Event {
	s := Status{List: append([]Progress(nil), t.list...)}
	return Event{
		Phase:        phase,
		CurrentCount: s.CurrentCount(),
		TotalCount:   s.TotalCount(),
		Skipped:      t.skipped,
		ProgressList: s.List,
	}
}
