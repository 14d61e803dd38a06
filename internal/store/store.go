// Package store is the read side of the wiki's document store as the search
// subsystem sees it: a snapshot cursor over pages, single-page lookup, and
// two id-list joins for bookmark counts and tag names.
package store

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/document"
)

// PageCursor iterates pages in a stable order. Next must be called before the
// first Page. Close is always safe to call, more than once.
type PageCursor interface {
	Next() bool
	Page() *document.Page
	Err() error
	Close() error
}

type PageSource interface {
	// CountPages counts index candidates (non-redirect pages).
	CountPages(ctx context.Context) (int64, error)
	// OpenCursor returns a cursor over index candidates that sees one
	// consistent snapshot for its whole lifetime.
	OpenCursor(ctx context.Context) (PageCursor, error)
	// FindPage returns errors.ErrDocumentNotFound for an unknown id.
	FindPage(ctx context.Context, id string) (*document.Page, error)
}

// BookmarkCounter returns bookmark counts keyed by page id. Pages without
// bookmarks may be absent from the map.
type BookmarkCounter interface {
	BookmarkCounts(ctx context.Context, pageIDs []string) (map[string]int, error)
}

// TagLookup returns tag names keyed by page id. Untagged pages may be absent.
type TagLookup interface {
	TagNames(ctx context.Context, pageIDs []string) (map[string][]string, error)
}

type UserCounter interface {
	CountUsers(ctx context.Context) (int64, error)
}

type Store interface {
	PageSource
	BookmarkCounter
	TagLookup
	UserCounter
	Ping(ctx context.Context) error
}
