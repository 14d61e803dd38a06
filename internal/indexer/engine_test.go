package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/index/indextest"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/progress"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(id string) *document.Page {
	return &document.Page{
		ID:       id,
		Path:     "/" + id,
		Author:   "alice",
		Revision: &document.Revision{ID: "r-" + id, Body: "body " + id},
		Grant:    document.GrantPublic,
	}
}

func newEngine(t *testing.T, cfg Config) (*Engine, *store.MemoryStore, *indextest.Fake) {
	t.Helper()
	st := store.NewMemoryStore()
	fake := indextest.NewFake()
	cfg.Names = index.NewNames("crowi")
	e := NewEngine(fake, st, cfg)
	require.NoError(t, e.InitIndices(context.Background()))
	return e, st, fake
}

func TestInitIndices(t *testing.T) {
	ctx := context.Background()
	fake := indextest.NewFake()
	require.NoError(t, fake.CreateIndex(ctx, "crowi-tmp"))

	e := NewEngine(fake, store.NewMemoryStore(), Config{Names: index.NewNames("crowi")})
	require.NoError(t, e.InitIndices(ctx))

	assert.Equal(t, []string{"crowi"}, fake.Resolve("crowi-alias"))
	exists, _ := fake.IndexExists(ctx, "crowi-tmp")
	assert.False(t, exists, "stale tmp index is removed")

	require.NoError(t, e.InitIndices(ctx), "init is repeatable")
	assert.Equal(t, []string{"crowi"}, fake.Resolve("crowi-alias"))
}

func TestSyncUpserted_Idempotent(t *testing.T) {
	ctx := context.Background()
	var changes atomic.Int32
	e, st, fake := newEngine(t, Config{OnChange: func(context.Context) { changes.Add(1) }})
	st.PutPage(page("p1"))
	st.SetBookmarks("p1", 2)
	st.SetTags("p1", "go")

	require.NoError(t, e.SyncUpserted(ctx, "p1"))
	once := fake.Docs("crowi")
	require.NoError(t, e.SyncUpserted(ctx, "p1"))
	assert.Equal(t, once, fake.Docs("crowi"))

	doc := once["p1"]
	assert.Equal(t, 2, doc.BookmarkCount)
	assert.Equal(t, []string{"go"}, doc.TagNames)
	assert.EqualValues(t, 2, changes.Load())
}

func TestSyncUpserted_SelfHeals(t *testing.T) {
	ctx := context.Background()
	e, st, fake := newEngine(t, Config{})
	p := page("p1")
	st.PutPage(p)
	require.NoError(t, e.SyncUpserted(ctx, "p1"))
	require.Contains(t, fake.Docs("crowi"), "p1")

	p.Revision = nil
	st.PutPage(p)
	require.NoError(t, e.SyncUpserted(ctx, "p1"))
	assert.NotContains(t, fake.Docs("crowi"), "p1")

	require.NoError(t, e.SyncUpserted(ctx, "p1"), "deleting an absent document succeeds")
}

func TestSyncUpserted_MissingPageIsDeleted(t *testing.T) {
	ctx := context.Background()
	e, st, fake := newEngine(t, Config{})
	st.PutPage(page("p1"))
	require.NoError(t, e.SyncBookmarkChanged(ctx, "p1"))

	st.DeletePage("p1")
	require.NoError(t, e.SyncTagChanged(ctx, "p1"))
	assert.Empty(t, fake.Docs("crowi"))
}

func TestSyncDeleted(t *testing.T) {
	ctx := context.Background()
	e, st, fake := newEngine(t, Config{})
	st.PutPage(page("p1"))
	require.NoError(t, e.SyncUpserted(ctx, "p1"))

	require.NoError(t, e.SyncDeleted(ctx, "p1"))
	assert.Empty(t, fake.Docs("crowi"))
}

func TestSyncUpserted_ItemRejected(t *testing.T) {
	ctx := context.Background()
	e, st, fake := newEngine(t, Config{})
	st.PutPage(page("bad"))
	fake.FailIDs["bad"] = true

	err := e.SyncUpserted(ctx, "bad")
	require.ErrorIs(t, err, apperrors.ErrEngine)
}

func TestSyncUpserted_LookupError(t *testing.T) {
	ctx := context.Background()
	e, st, _ := newEngine(t, Config{})
	st.PutPage(page("p1"))
	st.BookmarkErr = errors.New("db down")

	err := e.SyncUpserted(ctx, "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestRebuildIndex_AliasAlwaysResolvesToOneIndex(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	e, st, fake := newEngine(t, Config{BulkSize: 10, Emitter: rec})
	for i := 0; i < 25; i++ {
		st.PutPage(page(fmt.Sprintf("p%02d", i)))
	}
	st.PutPage(page("stale"))
	require.NoError(t, e.SyncUpserted(ctx, "stale"))
	st.DeletePage("stale")
	require.Contains(t, fake.Docs("crowi-alias"), "stale")

	var mu sync.Mutex
	var samples [][]string
	fake.AfterCall = func(string) {
		r := fake.Resolve("crowi-alias")
		mu.Lock()
		samples = append(samples, r)
		mu.Unlock()
	}

	res, err := e.RebuildIndex(ctx)
	require.NoError(t, err)
	fake.AfterCall = nil

	assert.EqualValues(t, 25, res.Indexed)
	require.NotEmpty(t, samples)
	sawTmp := false
	for i, s := range samples {
		require.Len(t, s, 1, "sample %d", i)
		if s[0] == "crowi-tmp" {
			sawTmp = true
		}
	}
	assert.True(t, sawTmp, "readers were parked on the copy during the reload")

	assert.Equal(t, []string{"crowi"}, fake.Resolve("crowi-alias"))
	docs := fake.Docs("crowi-alias")
	assert.Len(t, docs, 25)
	assert.NotContains(t, docs, "stale", "rebuild drops documents no longer in the store")
	exists, _ := fake.IndexExists(ctx, "crowi-tmp")
	assert.False(t, exists)

	assert.Equal(t, progress.PhaseFinishAddPage, rec.last().Phase)
	assert.False(t, e.IsRebuilding())
}

func TestRebuildIndex_SecondRequestConflicts(t *testing.T) {
	ctx := context.Background()
	e, st, fake := newEngine(t, Config{})
	st.PutPage(page("p1"))

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	fake.BulkErr = func([]index.BulkOp) error {
		once.Do(func() { close(entered) })
		<-unblock
		return nil
	}

	done, err := e.StartRebuild(ctx)
	require.NoError(t, err)
	<-entered
	assert.True(t, e.IsRebuilding())

	callsBefore := len(fake.Calls())
	_, err = e.RebuildIndex(ctx)
	require.ErrorIs(t, err, apperrors.ErrJobRunning)
	_, err = e.StartRebuild(ctx)
	require.ErrorIs(t, err, apperrors.ErrJobRunning)
	assert.Len(t, fake.Calls(), callsBefore, "the rejected rebuild touched nothing")

	close(unblock)
	require.NoError(t, <-done)
	assert.False(t, e.IsRebuilding())
	assert.Contains(t, fake.Docs("crowi-alias"), "p1")
}

func TestRebuildIndex_StepFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	e, st, _ := newEngine(t, Config{})
	st.PutPage(page("p1"))
	st.TagErr = errors.New("tags unavailable")

	_, err := e.RebuildIndex(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add-all-pages")
	assert.False(t, e.IsRebuilding())

	st.TagErr = nil
	_, err = e.RebuildIndex(ctx)
	require.NoError(t, err)
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(_ context.Context, ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) last() progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}
