package store

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/samber/lo"
)

// MemoryStore is an in-process Store used by tests and local runs without
// a database.
type MemoryStore struct {
	mu        sync.RWMutex
	pages     map[string]*document.Page
	bookmarks map[string]int
	tags      map[string][]string
	users     int64

	// Injected failures for lookups; nil means succeed.
	BookmarkErr error
	TagErr      error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages:     make(map[string]*document.Page),
		bookmarks: make(map[string]int),
		tags:      make(map[string][]string),
	}
}

func (m *MemoryStore) PutPage(p *document.Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.pages[p.ID] = &cp
}

func (m *MemoryStore) DeletePage(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, id)
}

func (m *MemoryStore) SetBookmarks(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookmarks[id] = n
}

func (m *MemoryStore) SetTags(id string, names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[id] = append([]string(nil), names...)
}

func (m *MemoryStore) SetUsers(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = n
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) CountUsers(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users, nil
}

func (m *MemoryStore) CountPages(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	candidates := lo.Filter(lo.Values(m.pages), func(p *document.Page, _ int) bool {
		return p.RedirectTo == ""
	})
	return int64(len(candidates)), nil
}

func (m *MemoryStore) FindPage(ctx context.Context, id string) (*document.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pages[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "page %s", id)
	}
	cp := *p
	return &cp, nil
}

// OpenCursor copies the candidate set up front, so later writes are invisible
// to the cursor.
func (m *MemoryStore) OpenCursor(ctx context.Context) (PageCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make([]*document.Page, 0, len(m.pages))
	for _, p := range m.pages {
		if p.RedirectTo != "" {
			continue
		}
		cp := *p
		snapshot = append(snapshot, &cp)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	return &sliceCursor{ctx: ctx, pages: snapshot, pos: -1}, nil
}

func (m *MemoryStore) BookmarkCounts(ctx context.Context, pageIDs []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.BookmarkErr != nil {
		return nil, m.BookmarkErr
	}
	out := make(map[string]int)
	for _, id := range pageIDs {
		if n, ok := m.bookmarks[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (m *MemoryStore) TagNames(ctx context.Context, pageIDs []string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.TagErr != nil {
		return nil, m.TagErr
	}
	out := make(map[string][]string)
	for _, id := range pageIDs {
		if names, ok := m.tags[id]; ok {
			out[id] = append([]string(nil), names...)
		}
	}
	return out, nil
}

type sliceCursor struct {
	ctx   context.Context
	pages []*document.Page
	pos   int
	err   error
}

func (c *sliceCursor) Next() bool {
	if c.err != nil {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	c.pos++
	return c.pos < len(c.pages)
}

func (c *sliceCursor) Page() *document.Page { return c.pages[c.pos] }
func (c *sliceCursor) Err() error           { return c.err }
func (c *sliceCursor) Close() error         { return nil }
