// Package jobs guards long-running maintenance jobs so that at most one job
// of each kind runs per process. State lives only in memory; a restart
// clears it.
package jobs

import (
	"sort"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
)

type Kind string

const (
	KindRebuildIndex Kind = "rebuild-index"
	KindExport       Kind = "export"
)

// Job describes a job currently holding the lock.
type Job struct {
	Kind      Kind      `json:"kind"`
	StartedAt time.Time `json:"started_at"`
}

type Lock struct {
	mu      sync.Mutex
	running map[Kind]time.Time
	now     func() time.Time
}

func NewLock() *Lock {
	return &Lock{
		running: make(map[Kind]time.Time),
		now:     time.Now,
	}
}

// TryAcquire marks kind as running. It fails immediately with
// errors.ErrJobRunning when a job of that kind is already in flight. The
// returned release is idempotent and should be deferred.
func (l *Lock) TryAcquire(kind Kind) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if started, ok := l.running[kind]; ok {
		return nil, apperrors.Conflict("%s already running since %s", kind, started.Format(time.RFC3339))
	}
	l.running[kind] = l.now()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.running, kind)
			l.mu.Unlock()
		})
	}, nil
}

func (l *Lock) Running(kind Kind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[kind]
	return ok
}

// Status lists running jobs ordered by kind.
func (l *Lock) Status() []Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Job, 0, len(l.running))
	for k, t := range l.running {
		out = append(out, Job{Kind: k, StartedAt: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
