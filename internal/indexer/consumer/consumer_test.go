package consumer

import (
	"context"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	got []events.Event
	err error
}

func (c *collector) Publish(_ context.Context, ev events.Event) error {
	c.got = append(c.got, ev)
	return c.err
}

func TestHandleMessage(t *testing.T) {
	c := &collector{}
	h := HandleMessage(events.TopicBookmark, c)
	ctx := context.Background()

	require.NoError(t, h(ctx, []byte("p1"), []byte(`{"action":"create","page_id":"p1","user_id":"u1"}`)))
	require.NoError(t, h(ctx, []byte("p2"), []byte(`{"action":"delete"}`)), "page id falls back to the key")
	require.NoError(t, h(ctx, []byte("p3"), []byte(`not json`)), "poison messages are skipped")
	require.NoError(t, h(ctx, []byte(""), []byte(`{"action":"update"}`)), "invalid events are skipped")

	require.Len(t, c.got, 2)
	assert.Equal(t, events.Event{Topic: events.TopicBookmark, Action: events.ActionCreate, PageID: "p1", UserID: "u1"}, c.got[0])
	assert.Equal(t, "p2", c.got[1].PageID)
}

func TestHandleMessage_TopicComesFromConsumer(t *testing.T) {
	c := &collector{}
	h := HandleMessage(events.TopicTag, c)
	require.NoError(t, h(context.Background(), nil, []byte(`{"topic":"page","action":"update","page_id":"p1"}`)))
	require.Len(t, c.got, 1)
	assert.Equal(t, events.TopicTag, c.got[0].Topic)
}

func TestHandleMessage_PublishErrorPropagates(t *testing.T) {
	c := &collector{err: context.Canceled}
	h := HandleMessage(events.TopicPage, c)
	err := h(context.Background(), nil, []byte(`{"action":"update","page_id":"p1"}`))
	assert.ErrorIs(t, err, context.Canceled)
}
