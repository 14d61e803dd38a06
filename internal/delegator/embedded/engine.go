package embedded

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/blevesearch/bleve/v2"
	"github.com/samber/lo"
)

const (
	aliasFile = "aliases.json"
	// rescoreWindow bounds how deep a function-scored search re-sorts.
	// Pages ending past it are fetched directly and keep their raw order.
	rescoreWindow = 10000
	reindexPage   = 500
	modulePath    = "github.com/blevesearch/bleve/v2"
)

// Engine is an index.Client over a set of bleve indices. With a directory
// each index lives in its own subdirectory and the alias table is persisted
// next to them; without one everything is in memory.
type Engine struct {
	mu      sync.RWMutex
	dir     string
	indices map[string]bleve.Index
	aliases map[string][]string
	window  int
	logger  *slog.Logger
}

// Open loads every index found under dir. An empty dir keeps all indices in
// memory.
func Open(dir string) (*Engine, error) {
	e := &Engine{
		dir:     dir,
		indices: make(map[string]bleve.Index),
		aliases: make(map[string][]string),
		window:  rescoreWindow,
		logger:  slog.Default().With("component", "bleve"),
	}
	if dir == "" {
		return e, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading index directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		idx, err := bleve.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("opening index %s: %w", entry.Name(), err)
		}
		e.indices[entry.Name()] = idx
	}

	raw, err := os.ReadFile(filepath.Join(dir, aliasFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		e.Close()
		return nil, fmt.Errorf("reading aliases: %w", err)
	default:
		var stored map[string][]string
		if err := json.Unmarshal(raw, &stored); err != nil {
			e.Close()
			return nil, fmt.Errorf("decoding aliases: %w", err)
		}
		for alias, targets := range stored {
			targets = lo.Filter(targets, func(t string, _ int) bool {
				_, ok := e.indices[t]
				return ok
			})
			if len(targets) > 0 {
				e.aliases[alias] = targets
			}
		}
	}

	e.logger.Info("opened bleve indices", "dir", dir, "indices", len(e.indices), "aliases", len(e.aliases))
	return e, nil
}

func engineErr(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrEngine, http.StatusBadGateway, format, args...)
}

func validName(name string) bool {
	return name != "" && name != aliasFile &&
		!strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}

func (e *Engine) IndexExists(_ context.Context, name string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, isIndex := e.indices[name]
	return isIndex || len(e.aliases[name]) > 0, nil
}

func (e *Engine) CreateIndex(_ context.Context, name string) error {
	if !validName(name) {
		return engineErr("invalid index name [%s]", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indices[name]; ok {
		return engineErr("index [%s] already exists", name)
	}
	if len(e.aliases[name]) > 0 {
		return engineErr("invalid index name [%s], already exists as alias", name)
	}

	var (
		idx bleve.Index
		err error
	)
	if e.dir == "" {
		idx, err = bleve.NewMemOnly(buildMapping())
	} else {
		path := filepath.Join(e.dir, name)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("clearing %s: %w", path, err)
		}
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return engineErr("creating index [%s]: %v", name, err)
	}
	e.indices[name] = idx
	e.logger.Debug("created index", "index", name)
	return nil
}

// DeleteIndex closes and removes the index. Alias entries pointing at it are
// dropped with it.
func (e *Engine) DeleteIndex(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.indices[name]
	if !ok {
		return engineErr("no such index [%s]", name)
	}
	delete(e.indices, name)
	if err := idx.Close(); err != nil {
		e.logger.Warn("closing deleted index", "index", name, "error", err)
	}
	if e.dir != "" {
		if err := os.RemoveAll(filepath.Join(e.dir, name)); err != nil {
			return fmt.Errorf("removing index files: %w", err)
		}
	}

	changed := false
	for alias, targets := range e.aliases {
		if !lo.Contains(targets, name) {
			continue
		}
		changed = true
		rest := lo.Filter(targets, func(t string, _ int) bool { return t != name })
		if len(rest) == 0 {
			delete(e.aliases, alias)
		} else {
			e.aliases[alias] = rest
		}
	}
	if changed {
		return e.saveAliasesLocked()
	}
	return nil
}

func (e *Engine) AliasExists(_ context.Context, alias string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.aliases[alias]) > 0, nil
}

func (e *Engine) AliasTargets(_ context.Context, alias string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	targets := append([]string(nil), e.aliases[alias]...)
	sort.Strings(targets)
	return targets, nil
}

func (e *Engine) PutAlias(ctx context.Context, indexName, alias string) error {
	return e.UpdateAliases(ctx, []index.AliasAction{index.AddAlias(indexName, alias)})
}

// UpdateAliases validates every action against a copy of the alias table
// and only then swaps it in, so readers see either the old or the new table.
func (e *Engine) UpdateAliases(_ context.Context, actions []index.AliasAction) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string][]string, len(e.aliases))
	for alias, targets := range e.aliases {
		next[alias] = append([]string(nil), targets...)
	}
	for _, a := range actions {
		if _, ok := e.indices[a.Index]; !ok {
			return engineErr("no such index [%s]", a.Index)
		}
		switch a.Op {
		case index.AliasAdd:
			if _, clash := e.indices[a.Alias]; clash || !validName(a.Alias) {
				return engineErr("invalid alias name [%s]", a.Alias)
			}
			if !lo.Contains(next[a.Alias], a.Index) {
				next[a.Alias] = append(next[a.Alias], a.Index)
			}
		case index.AliasRemove:
			if !lo.Contains(next[a.Alias], a.Index) {
				return engineErr("aliases [%s] missing on [%s]", a.Alias, a.Index)
			}
			rest := lo.Filter(next[a.Alias], func(t string, _ int) bool { return t != a.Index })
			if len(rest) == 0 {
				delete(next, a.Alias)
			} else {
				next[a.Alias] = rest
			}
		default:
			return engineErr("unknown alias action %q", a.Op)
		}
	}

	prev := e.aliases
	e.aliases = next
	if err := e.saveAliasesLocked(); err != nil {
		e.aliases = prev
		return err
	}
	return nil
}

func (e *Engine) saveAliasesLocked() error {
	if e.dir == "" {
		return nil
	}
	raw, err := json.MarshalIndent(e.aliases, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding aliases: %w", err)
	}
	path := filepath.Join(e.dir, aliasFile)
	if err := os.WriteFile(path+".tmp", raw, 0o644); err != nil {
		return fmt.Errorf("writing aliases: %w", err)
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		return fmt.Errorf("writing aliases: %w", err)
	}
	return nil
}

// searchTargetLocked resolves name to an index or an alias spanning several.
func (e *Engine) searchTargetLocked(name string) (bleve.Index, error) {
	if idx, ok := e.indices[name]; ok {
		return idx, nil
	}
	targets := e.aliases[name]
	switch len(targets) {
	case 0:
		return nil, engineErr("no such index [%s]", name)
	case 1:
		return e.indices[targets[0]], nil
	default:
		return bleve.NewIndexAlias(lo.Map(targets, func(t string, _ int) bleve.Index {
			return e.indices[t]
		})...), nil
	}
}

// writeTargetLocked resolves name for writing; an alias must have exactly
// one target.
func (e *Engine) writeTargetLocked(name string) (string, bleve.Index, error) {
	if idx, ok := e.indices[name]; ok {
		return name, idx, nil
	}
	targets := e.aliases[name]
	switch len(targets) {
	case 0:
		return "", nil, fmt.Errorf("no such index [%s]", name)
	case 1:
		return targets[0], e.indices[targets[0]], nil
	default:
		return "", nil, fmt.Errorf("alias [%s] has more than one write index", name)
	}
}

// Reindex copies every stored document of src into dst, paging in id order.
func (e *Engine) Reindex(ctx context.Context, src, dst string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	source, err := e.searchTargetLocked(src)
	if err != nil {
		return err
	}
	dest, ok := e.indices[dst]
	if !ok {
		return engineErr("no such index [%s]", dst)
	}

	copied := 0
	var after string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), reindexPage, 0, false)
		req.Fields = []string{fieldSource}
		req.SortBy([]string{"_id"})
		if after != "" {
			req.SearchAfter = []string{after}
		}
		res, err := source.SearchInContext(ctx, req)
		if err != nil {
			return engineErr("reading %s: %v", src, err)
		}
		if len(res.Hits) == 0 {
			break
		}

		batch := dest.NewBatch()
		for _, hit := range res.Hits {
			doc, _, err := decodeSource(hit.Fields[fieldSource], hit.ID)
			if err != nil {
				return engineErr("decoding %s/%s: %v", src, hit.ID, err)
			}
			data, err := fields(&doc)
			if err != nil {
				return engineErr("encoding %s: %v", hit.ID, err)
			}
			if err := batch.Index(hit.ID, data); err != nil {
				return engineErr("copying %s: %v", hit.ID, err)
			}
		}
		if err := dest.Batch(batch); err != nil {
			return engineErr("writing %s: %v", dst, err)
		}
		copied += len(res.Hits)
		after = res.Hits[len(res.Hits)-1].ID
		if len(res.Hits) < reindexPage {
			break
		}
	}
	e.logger.Debug("reindexed", "source", src, "dest", dst, "docs", copied)
	return nil
}

// Bulk groups ops into one bleve batch per physical index. Items that cannot
// be prepared fail individually; a failed batch fails all of its items.
func (e *Engine) Bulk(ctx context.Context, ops []index.BulkOp) (*index.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	items := make([]index.BulkItem, len(ops))
	batches := make(map[string]*bleve.Batch)
	members := make(map[string][]int)
	for i, op := range ops {
		items[i] = index.BulkItem{Action: op.Action, ID: op.ID, Status: http.StatusOK}
		fail := func(status int, err error) {
			items[i].Status = status
			items[i].Error = err.Error()
		}

		name, idx, err := e.writeTargetLocked(op.Index)
		if err != nil {
			fail(http.StatusNotFound, err)
			continue
		}
		batch, ok := batches[name]
		if !ok {
			batch = idx.NewBatch()
			batches[name] = batch
		}

		switch op.Action {
		case index.ActionIndex:
			if op.Doc == nil {
				fail(http.StatusBadRequest, errors.New("missing document"))
				continue
			}
			data, err := fields(op.Doc)
			if err != nil {
				fail(http.StatusBadRequest, err)
				continue
			}
			if err := batch.Index(op.ID, data); err != nil {
				fail(http.StatusBadRequest, err)
				continue
			}
		case index.ActionDelete:
			existing, err := idx.Document(op.ID)
			if err != nil {
				fail(http.StatusInternalServerError, err)
				continue
			}
			if existing == nil {
				items[i].Status = http.StatusNotFound
				continue
			}
			batch.Delete(op.ID)
		default:
			fail(http.StatusBadRequest, fmt.Errorf("unknown action %q", op.Action))
			continue
		}
		members[name] = append(members[name], i)
	}

	for name, batch := range batches {
		if batch.Size() == 0 {
			continue
		}
		if err := e.indices[name].Batch(batch); err != nil {
			for _, i := range members[name] {
				items[i].Status = http.StatusInternalServerError
				items[i].Error = err.Error()
			}
		}
	}
	return &index.BulkResult{Took: time.Since(start).Milliseconds(), Items: items}, nil
}

// Search runs req against an index or alias. A function score wrapper is
// applied after retrieval: the top from+size matches are rescored, re-sorted,
// and the requested page cut from them. A page reaching past the rescore
// window is fetched as is and only its scores are adjusted.
func (e *Engine) Search(ctx context.Context, req *query.Request) (*query.Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	target, err := e.searchTargetLocked(req.Index)
	if err != nil {
		return nil, err
	}

	inner := req.Query
	var scoring *query.FunctionScore
	if fs, ok := inner.(*query.FunctionScore); ok {
		scoring, inner = fs, fs.Query
	}
	q, err := translate(inner)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "translating query: %v", err)
	}

	size, from := req.Size, req.From
	rescore := scoring != nil && from+size <= e.window
	if rescore {
		size, from = from+size, 0
	}
	sr := bleve.NewSearchRequestOptions(q, size, from, false)
	sr.Fields = []string{fieldSource}
	sr.SortBy([]string{"-_score", "_id"})

	res, err := target.SearchInContext(ctx, sr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, engineErr("searching %s: %v", req.Index, err)
	}

	hits := make([]query.Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		_, src, err := decodeSource(h.Fields[fieldSource], h.ID)
		if err != nil {
			return nil, engineErr("decoding %s: %v", h.ID, err)
		}
		score := h.Score
		if scoring != nil {
			v, ok := sourceNumber(src, scoring.FieldValueFactor.Field)
			score = combine(scoring.BoostMode, score, fieldValue(scoring.FieldValueFactor, v, ok))
		}
		hits = append(hits, query.Hit{ID: h.ID, Score: score, Source: pick(src, req.Source)})
	}

	if rescore {
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].Score != hits[j].Score {
				return hits[i].Score > hits[j].Score
			}
			return hits[i].ID < hits[j].ID
		})
		hits = window(hits, req.From, req.Size)
	}
	return query.NewResult(res.Took.Milliseconds(), int64(res.Total), hits), nil
}

func combine(mode string, score, value float64) float64 {
	switch mode {
	case "multiply":
		return score * value
	case "replace":
		return value
	default:
		return score + value
	}
}

func window(hits []query.Hit, from, size int) []query.Hit {
	if from >= len(hits) {
		return []query.Hit{}
	}
	end := len(hits)
	if size >= 0 && from+size < end {
		end = from + size
	}
	return hits[from:end]
}

// pick keeps only the requested _source fields; no list means everything.
func pick(src map[string]any, keep []string) map[string]any {
	if len(keep) == 0 || src == nil {
		return src
	}
	out := make(map[string]any, len(keep))
	for _, k := range keep {
		if v, ok := src[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (e *Engine) Info(_ context.Context) (*index.Info, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := lo.Keys(e.indices)
	sort.Strings(names)

	location := e.dir
	if location == "" {
		location = "memory"
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	version := bleveVersion()
	return &index.Info{
		Engine:      "bleve",
		Version:     version,
		ClusterName: location,
		Nodes:       []index.Node{{Name: host, Version: version}},
		Indices:     names,
	}, nil
}

func bleveVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range bi.Deps {
		if dep.Path == modulePath {
			return dep.Version
		}
	}
	return "unknown"
}

// DocCount reports the number of documents in an index or alias.
func (e *Engine) DocCount(name string) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, err := e.searchTargetLocked(name)
	if err != nil {
		return 0, err
	}
	return idx.DocCount()
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for name, idx := range e.indices {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	e.indices = make(map[string]bleve.Index)
	return errors.Join(errs...)
}

var _ index.Client = (*Engine)(nil)
