package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/delegator"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/logger"
)

const (
	HeaderUserID     = "X-User-Id"
	HeaderUserGroups = "X-User-Groups"
)

// Searcher is the search service as the HTTP surface sees it.
type Searcher interface {
	SearchKeyword(ctx context.Context, text string, viewer query.Viewer, opts query.Options) (*query.Result, error)
	BuildIndex(ctx context.Context) (<-chan error, error)
	Info(ctx context.Context) (*index.Info, error)
	IsAvailable() bool
	IsRebuilding() bool
	Kind() delegator.Kind
}

type Handler struct {
	service Searcher
	cache   *cache.QueryCache
	logger  *slog.Logger
}

func New(service Searcher, queryCache *cache.QueryCache) *Handler {
	return &Handler{
		service: service,
		cache:   queryCache,
		logger:  slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/search/rebuild", h.Rebuild)
	mux.HandleFunc("GET /api/v1/search/info", h.Info)
	mux.HandleFunc("GET /api/v1/search/status", h.Status)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	opts, err := parseOptions(params.Get("offset"), params.Get("limit"), params.Get("type"))
	if err != nil {
		h.writeErr(w, err)
		return
	}

	if opts.Type != query.TypeAll && !opts.Type.Known() {
		logger.FromContext(r.Context()).Debug("ignoring unknown page type", "type", opts.Type)
	}

	result, err := h.service.SearchKeyword(r.Context(), params.Get("q"), viewerFrom(r), opts)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func viewerFrom(r *http.Request) query.Viewer {
	v := query.Viewer{UserID: strings.TrimSpace(r.Header.Get(HeaderUserID))}
	if v.UserID == "" {
		return v
	}
	for _, g := range strings.Split(r.Header.Get(HeaderUserGroups), ",") {
		if g = strings.TrimSpace(g); g != "" {
			v.GroupIDs = append(v.GroupIDs, g)
		}
	}
	return v
}

// parseOptions validates paging. An unknown page type is passed through and
// filters nothing.
func parseOptions(offset, limit, pageType string) (query.Options, error) {
	var opts query.Options
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return opts, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			return opts, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
		}
		opts.Limit = n
	}
	opts.Type = query.PageType(pageType)
	return opts, nil
}

// Rebuild starts a background rebuild and answers 202 without waiting.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	done, err := h.service.BuildIndex(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	log := logger.FromContext(r.Context())
	go func() {
		if err := <-done; err != nil {
			log.Error("index rebuild failed", "error", err)
			return
		}
		log.Info("index rebuild finished")
	}()
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Info(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"available":  h.service.IsAvailable(),
		"engine":     h.service.Kind(),
		"rebuilding": h.service.IsRebuilding(),
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps err to its status. Server-side failures are not echoed.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		msg = http.StatusText(status)
	}
	h.writeError(w, status, msg)
}
