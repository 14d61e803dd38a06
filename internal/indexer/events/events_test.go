package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op     string
	pageID string
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls []call
	block chan struct{}
	err   error
}

func (f *fakeSyncer) record(op, id string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op, id})
	return f.err
}

func (f *fakeSyncer) SyncUpserted(_ context.Context, id string) error { return f.record("upsert", id) }
func (f *fakeSyncer) SyncDeleted(_ context.Context, id string) error  { return f.record("delete", id) }
func (f *fakeSyncer) SyncBookmarkChanged(_ context.Context, id string) error {
	return f.record("bookmark", id)
}
func (f *fakeSyncer) SyncTagChanged(_ context.Context, id string) error { return f.record("tag", id) }

func (f *fakeSyncer) all() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestApply_Routing(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Topic: TopicPage, Action: ActionCreate, PageID: "p"}, "upsert"},
		{Event{Topic: TopicPage, Action: ActionUpdate, PageID: "p"}, "upsert"},
		{Event{Topic: TopicPage, Action: ActionDelete, PageID: "p"}, "delete"},
		{Event{Topic: TopicBookmark, Action: ActionCreate, PageID: "p"}, "bookmark"},
		{Event{Topic: TopicBookmark, Action: ActionDelete, PageID: "p"}, "bookmark"},
		{Event{Topic: TopicTag, Action: ActionUpdate, PageID: "p"}, "tag"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.ev.Topic, tt.ev.Action), func(t *testing.T) {
			s := &fakeSyncer{}
			require.NoError(t, Apply(context.Background(), s, tt.ev))
			assert.Equal(t, []call{{tt.want, "p"}}, s.all())
		})
	}
}

func TestValidate(t *testing.T) {
	assert.Error(t, Event{Topic: TopicPage, Action: ActionUpdate}.Validate())
	assert.Error(t, Event{Topic: TopicTag, Action: ActionDelete, PageID: "p"}.Validate())
	assert.Error(t, Event{Topic: "comment", Action: ActionCreate, PageID: "p"}.Validate())
	assert.NoError(t, Event{Topic: TopicTag, Action: ActionUpdate, PageID: "p"}.Validate())
}

func TestDispatcher_PreservesPerPageOrder(t *testing.T) {
	s := &fakeSyncer{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	d := NewDispatcher(s, 4, 2, m)
	d.Start(context.Background())

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		action := ActionUpdate
		if i%5 == 4 {
			action = ActionDelete
		}
		require.NoError(t, d.Publish(ctx, Event{Topic: TopicPage, Action: action, PageID: "same"}))
		require.NoError(t, d.Publish(ctx, Event{Topic: TopicBookmark, Action: ActionCreate, PageID: fmt.Sprintf("other-%d", i)}))
	}
	d.Close()

	var same []string
	for _, c := range s.all() {
		if c.pageID == "same" {
			same = append(same, c.op)
		}
	}
	require.Len(t, same, 20)
	for i, op := range same {
		if i%5 == 4 {
			assert.Equal(t, "delete", op, "position %d", i)
		} else {
			assert.Equal(t, "upsert", op, "position %d", i)
		}
	}
	assert.Len(t, s.all(), 40)
	assert.Equal(t, 16.0, testutil.ToFloat64(m.SyncEventsTotal.WithLabelValues("page", "update", "ok")))
}

func TestDispatcher_PublishBlocksWhenFull(t *testing.T) {
	s := &fakeSyncer{block: make(chan struct{})}
	d := NewDispatcher(s, 1, 1, nil)
	d.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, d.Publish(ctx, Event{Topic: TopicPage, Action: ActionUpdate, PageID: "a"}))
	require.NoError(t, d.Publish(ctx, Event{Topic: TopicPage, Action: ActionUpdate, PageID: "b"}))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := d.Publish(short, Event{Topic: TopicPage, Action: ActionUpdate, PageID: "c"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(s.block)
	d.Close()
	assert.Len(t, s.all(), 2)

	assert.ErrorIs(t, d.Publish(ctx, Event{Topic: TopicPage, Action: ActionUpdate, PageID: "d"}), ErrDispatcherClosed)
}

func TestDispatcher_CloseReleasesBlockedPublish(t *testing.T) {
	d := NewDispatcher(&fakeSyncer{}, 1, 1, nil)
	ctx := context.Background()
	require.NoError(t, d.Publish(ctx, Event{Topic: TopicPage, Action: ActionUpdate, PageID: "a"}))

	published := make(chan error, 1)
	go func() {
		published <- d.Publish(ctx, Event{Topic: TopicPage, Action: ActionUpdate, PageID: "b"})
	}()

	closed := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		d.Close()
		close(closed)
	}()

	select {
	case err := <-published:
		assert.ErrorIs(t, err, ErrDispatcherClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Publish still blocked after Close")
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestDispatcher_SyncErrorsDoNotStopWorkers(t *testing.T) {
	s := &fakeSyncer{err: fmt.Errorf("index down")}
	d := NewDispatcher(s, 2, 4, nil)
	d.Start(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Publish(context.Background(), Event{Topic: TopicTag, Action: ActionUpdate, PageID: fmt.Sprint(i)}))
	}
	d.Close()
	assert.Len(t, s.all(), 5)
}

type fakeProducer struct {
	msgs []kafka.Message
}

func (f *fakeProducer) Publish(_ context.Context, m kafka.Message) error {
	f.msgs = append(f.msgs, m)
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	page, tag := &fakeProducer{}, &fakeProducer{}
	p := NewKafkaPublisher(map[Topic]Producer{TopicPage: page, TopicTag: tag})

	require.NoError(t, p.Publish(context.Background(), Event{Topic: TopicPage, Action: ActionUpdate, PageID: "p1"}))
	require.Len(t, page.msgs, 1)
	assert.Equal(t, "p1", page.msgs[0].Key)
	ev := page.msgs[0].Value.(Event)
	assert.False(t, ev.OccurredAt.IsZero())

	assert.Error(t, p.Publish(context.Background(), Event{Topic: TopicBookmark, Action: ActionCreate, PageID: "p1"}))
	assert.Error(t, p.Publish(context.Background(), Event{Topic: TopicTag, Action: ActionCreate, PageID: "p1"}))
	assert.Empty(t, tag.msgs)
}
