// Package indextest provides an in-memory index.Client for tests, with hooks
// to inject bulk failures and to observe alias state between calls.
package indextest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	"github.com/samber/lo"
)

type Fake struct {
	mu      sync.Mutex
	indices map[string]map[string]document.IndexedDocument
	aliases map[string][]string
	calls   []string

	// FailIDs makes bulk items with these ids fail with status 400.
	FailIDs map[string]bool
	// BulkErr, when set, is consulted before each bulk call; a non-nil
	// return fails the whole call.
	BulkErr func(ops []index.BulkOp) error
	// AfterCall runs after every call, outside the lock.
	AfterCall func(method string)
}

func NewFake() *Fake {
	return &Fake{
		indices: make(map[string]map[string]document.IndexedDocument),
		aliases: make(map[string][]string),
		FailIDs: make(map[string]bool),
	}
}

func (f *Fake) record(method string) {
	f.calls = append(f.calls, method)
}

func (f *Fake) after(method string) {
	if f.AfterCall != nil {
		f.AfterCall(method)
	}
}

// Calls returns the methods invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Docs returns a copy of the documents in the named index or alias.
func (f *Fake) Docs(name string) map[string]document.IndexedDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]document.IndexedDocument)
	for _, idx := range f.resolve(name) {
		for id, d := range f.indices[idx] {
			out[id] = d
		}
	}
	return out
}

// Resolve returns the physical indices that name resolves to.
func (f *Fake) Resolve(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resolve(name)...)
}

func (f *Fake) resolve(name string) []string {
	if targets, ok := f.aliases[name]; ok {
		return targets
	}
	if _, ok := f.indices[name]; ok {
		return []string{name}
	}
	return nil
}

func (f *Fake) IndexExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	f.record("IndexExists")
	_, ok := f.indices[name]
	f.mu.Unlock()
	f.after("IndexExists")
	return ok, nil
}

func (f *Fake) CreateIndex(ctx context.Context, name string) error {
	f.mu.Lock()
	f.record("CreateIndex")
	if _, ok := f.indices[name]; ok {
		f.mu.Unlock()
		return fmt.Errorf("index %s already exists", name)
	}
	f.indices[name] = make(map[string]document.IndexedDocument)
	f.mu.Unlock()
	f.after("CreateIndex")
	return nil
}

func (f *Fake) DeleteIndex(ctx context.Context, name string) error {
	f.mu.Lock()
	f.record("DeleteIndex")
	if _, ok := f.indices[name]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("index %s not found", name)
	}
	delete(f.indices, name)
	for alias, targets := range f.aliases {
		kept := targets[:0]
		for _, t := range targets {
			if t != name {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(f.aliases, alias)
		} else {
			f.aliases[alias] = kept
		}
	}
	f.mu.Unlock()
	f.after("DeleteIndex")
	return nil
}

func (f *Fake) AliasExists(ctx context.Context, alias string) (bool, error) {
	f.mu.Lock()
	f.record("AliasExists")
	_, ok := f.aliases[alias]
	f.mu.Unlock()
	f.after("AliasExists")
	return ok, nil
}

func (f *Fake) AliasTargets(ctx context.Context, alias string) ([]string, error) {
	f.mu.Lock()
	f.record("AliasTargets")
	targets := append([]string(nil), f.aliases[alias]...)
	f.mu.Unlock()
	f.after("AliasTargets")
	return targets, nil
}

func (f *Fake) PutAlias(ctx context.Context, indexName, alias string) error {
	return f.UpdateAliases(ctx, []index.AliasAction{index.AddAlias(indexName, alias)})
}

func (f *Fake) UpdateAliases(ctx context.Context, actions []index.AliasAction) error {
	f.mu.Lock()
	f.record("UpdateAliases")
	next := make(map[string][]string, len(f.aliases))
	for k, v := range f.aliases {
		next[k] = append([]string(nil), v...)
	}
	for _, a := range actions {
		if _, ok := f.indices[a.Index]; !ok {
			f.mu.Unlock()
			return fmt.Errorf("alias action on missing index %s", a.Index)
		}
		switch a.Op {
		case index.AliasAdd:
			if !lo.Contains(next[a.Alias], a.Index) {
				next[a.Alias] = append(next[a.Alias], a.Index)
			}
		case index.AliasRemove:
			kept := make([]string, 0, len(next[a.Alias]))
			for _, t := range next[a.Alias] {
				if t != a.Index {
					kept = append(kept, t)
				}
			}
			if len(kept) == 0 {
				delete(next, a.Alias)
			} else {
				next[a.Alias] = kept
			}
		}
	}
	f.aliases = next
	f.mu.Unlock()
	f.after("UpdateAliases")
	return nil
}

func (f *Fake) Reindex(ctx context.Context, src, dst string) error {
	f.mu.Lock()
	f.record("Reindex")
	from, ok := f.indices[src]
	to, ok2 := f.indices[dst]
	if !ok || !ok2 {
		f.mu.Unlock()
		return fmt.Errorf("reindex %s -> %s: missing index", src, dst)
	}
	for id, d := range from {
		to[id] = d
	}
	f.mu.Unlock()
	f.after("Reindex")
	return nil
}

func (f *Fake) Bulk(ctx context.Context, ops []index.BulkOp) (*index.BulkResult, error) {
	if f.BulkErr != nil {
		if err := f.BulkErr(ops); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.record("Bulk")
	res := &index.BulkResult{Items: make([]index.BulkItem, 0, len(ops))}
	for _, op := range ops {
		item := index.BulkItem{Action: op.Action, ID: op.ID, Status: 200}
		target, ok := f.indices[op.Index]
		if !ok {
			if targets := f.aliases[op.Index]; len(targets) == 1 {
				target, ok = f.indices[targets[0]]
			}
		}
		switch {
		case !ok:
			item.Status, item.Error = 404, "index_not_found_exception"
		case f.FailIDs[op.ID]:
			item.Status, item.Error = 400, "mapper_parsing_exception"
		case op.Action == index.ActionIndex:
			target[op.ID] = *op.Doc
			item.Status = 201
		case op.Action == index.ActionDelete:
			if _, exists := target[op.ID]; !exists {
				item.Status = 404
			}
			delete(target, op.ID)
		}
		res.Items = append(res.Items, item)
	}
	f.mu.Unlock()
	f.after("Bulk")
	return res, nil
}

// Search returns every document behind req.Index ordered by id. It ignores
// the query tree; tests that need real matching use the bleve engine.
func (f *Fake) Search(ctx context.Context, req *query.Request) (*query.Result, error) {
	f.mu.Lock()
	f.record("Search")
	targets := f.resolve(req.Index)
	var hits []query.Hit
	for _, idx := range targets {
		for id, d := range f.indices[idx] {
			hits = append(hits, query.Hit{ID: id, Score: 1, Source: map[string]any{
				"path":           d.Path,
				"bookmark_count": d.BookmarkCount,
				"tag_names":      d.TagNames,
				"_index":         idx,
			}})
		}
	}
	f.mu.Unlock()
	f.after("Search")
	if len(targets) == 0 {
		return nil, fmt.Errorf("no such index %s", req.Index)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	total := int64(len(hits))
	if req.From < len(hits) {
		hits = hits[req.From:]
	} else {
		hits = nil
	}
	if req.Size > 0 && len(hits) > req.Size {
		hits = hits[:req.Size]
	}
	return query.NewResult(0, total, hits), nil
}

func (f *Fake) Info(ctx context.Context) (*index.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.indices))
	for n := range f.indices {
		names = append(names, n)
	}
	sort.Strings(names)
	return &index.Info{Engine: "fake", Version: "0", Indices: names}, nil
}
