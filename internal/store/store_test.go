package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CursorIsSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.PutPage(&document.Page{ID: "b", Path: "/b"})
	m.PutPage(&document.Page{ID: "a", Path: "/a"})
	m.PutPage(&document.Page{ID: "r", Path: "/r", RedirectTo: "/a"})

	cur, err := m.OpenCursor(ctx)
	require.NoError(t, err)
	defer cur.Close()

	m.PutPage(&document.Page{ID: "c", Path: "/c"})
	m.DeletePage("a")

	var ids []string
	for cur.Next() {
		ids = append(ids, cur.Page().ID)
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, []string{"a", "b"}, ids)

	n, err := m.CountPages(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestMemoryStore_CursorHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemoryStore()
	m.PutPage(&document.Page{ID: "a"})

	cur, err := m.OpenCursor(ctx)
	require.NoError(t, err)
	cancel()

	assert.False(t, cur.Next())
	assert.ErrorIs(t, cur.Err(), context.Canceled)
}

func TestMemoryStore_Lookups(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.SetBookmarks("a", 3)
	m.SetTags("a", "x", "y")

	counts, err := m.BookmarkCounts(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 3}, counts)

	tags, err := m.TagNames(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"a": {"x", "y"}}, tags)

	_, err = m.FindPage(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)

	m.TagErr = errors.New("boom")
	_, err = m.TagNames(ctx, []string{"a"})
	assert.Error(t, err)
}

type fakeRow struct {
	values []any
}

func (r fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int:
			*p = r.values[i].(int)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *sql.NullString:
			if r.values[i] == nil {
				*p = sql.NullString{}
			} else {
				*p = sql.NullString{String: r.values[i].(string), Valid: true}
			}
		case *pq.StringArray:
			*p = r.values[i].(pq.StringArray)
		default:
			return errors.New("unexpected scan target")
		}
	}
	return nil
}

func TestScanPage(t *testing.T) {
	now := time.Now().UTC()
	row := fakeRow{values: []any{
		"p1", "/a", "alice", "r1", "body", 2, 5, now, now, 2,
		pq.StringArray{"u1", "u2"}, "g1", "",
	}}

	p, err := scanPage(row)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Author)
	require.NotNil(t, p.Revision)
	assert.Equal(t, "body", p.Revision.Body)
	assert.Equal(t, document.GrantRestricted, p.Grant)
	assert.Equal(t, []string{"u1", "u2"}, p.GrantedUsers)
	assert.Equal(t, 5, p.LikerCount)
	assert.True(t, document.ShouldIndex(p))

	orphan := fakeRow{values: []any{
		"p2", "/b", "", nil, "", 0, 0, now, now, 1, pq.StringArray{}, "", "",
	}}
	p, err = scanPage(orphan)
	require.NoError(t, err)
	assert.Nil(t, p.Revision)
	assert.False(t, document.ShouldIndex(p))
}
