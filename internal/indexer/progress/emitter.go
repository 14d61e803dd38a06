package progress

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/kafka"
)

type discard struct{}

func (discard) Emit(context.Context, Event) {}

// Discard drops every event.
var Discard Emitter = discard{}

// Func adapts a function to Emitter.
type Func func(ctx context.Context, e Event)

func (f Func) Emit(ctx context.Context, e Event) { f(ctx, e) }

type multi []Emitter

func (m multi) Emit(ctx context.Context, e Event) {
	for _, em := range m {
		em.Emit(ctx, e)
	}
}

// Multi fans each event out to every emitter in order. Nil entries are
// skipped.
func Multi(emitters ...Emitter) Emitter {
	out := make(multi, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter() *LogEmitter {
	return &LogEmitter{logger: slog.Default().With("component", "index-progress")}
}

func (l *LogEmitter) Emit(ctx context.Context, e Event) {
	l.logger.InfoContext(ctx, "indexing progress",
		"phase", e.Phase,
		"current", e.CurrentCount,
		"total", e.TotalCount,
		"skipped", e.Skipped,
	)
}

// Publisher is the subset of kafka.Producer the Kafka emitter needs.
type Publisher interface {
	Publish(ctx context.Context, m kafka.Message) error
}

// KafkaEmitter publishes events asynchronously through a bounded buffer.
// When the buffer is full the event is dropped: progress is advisory and
// must never stall indexing. The final event of a run is not exempt.
// Events emitted after Close are dropped.
type KafkaEmitter struct {
	publisher Publisher
	eventCh   chan Event
	logger    *slog.Logger
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewKafkaEmitter(publisher Publisher, bufferSize int) *KafkaEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &KafkaEmitter{
		publisher: publisher,
		eventCh:   make(chan Event, bufferSize),
		logger:    slog.Default().With("component", "progress-kafka"),
		done:      make(chan struct{}),
	}
}

// Start runs the publish loop until ctx ends or Close is called.
func (k *KafkaEmitter) Start(ctx context.Context) {
	go func() {
		defer close(k.done)
		for {
			select {
			case e, ok := <-k.eventCh:
				if !ok {
					return
				}
				k.publish(ctx, e)
			case <-ctx.Done():
				k.drainRemaining()
				return
			}
		}
	}()
}

func (k *KafkaEmitter) Emit(_ context.Context, e Event) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		k.logger.Debug("progress event dropped (emitter closed)", "phase", e.Phase)
		return
	}
	select {
	case k.eventCh <- e:
	default:
		k.logger.Warn("progress event dropped (buffer full)", "phase", e.Phase)
	}
}

// Close stops accepting events and waits for buffered ones to be published.
func (k *KafkaEmitter) Close() {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	close(k.eventCh)
	k.mu.Unlock()
	<-k.done
}

func (k *KafkaEmitter) drainRemaining() {
	for {
		select {
		case e, ok := <-k.eventCh:
			if !ok {
				return
			}
			k.publish(context.Background(), e)
		default:
			return
		}
	}
}

func (k *KafkaEmitter) publish(ctx context.Context, e Event) {
	if err := k.publisher.Publish(ctx, kafka.Message{Key: string(e.Phase), Value: e}); err != nil {
		k.logger.Error("failed to publish progress event", "phase", e.Phase, "error", err)
	}
}
