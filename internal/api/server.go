// Package api exposes the HTTP interface for the addon service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
	"github.com/JakeFAU/einthusan-addon/internal/config"
	"github.com/JakeFAU/einthusan-addon/internal/metrics"
)

// Cache-Control values per response kind.
const (
	cacheManifest = "max-age=86400, stale-while-revalidate=3600, public"
	cacheCatalog  = "max-age=3600, stale-while-revalidate=600, public"
	cacheStream   = "max-age=900, public"
	cacheEmpty    = "max-age=60, public"
)

// PageSize is the number of previews per catalog page.
const PageSize = 100

// Addon answers addon requests.
type Addon interface {
	Languages() []string
	SearchCatalog(ctx context.Context, lang, query string) []catalog.MovieRecord
	GetRecentCatalog(ctx context.Context, lang string, maxPages int) []catalog.MovieRecord
	ResolveStream(ctx context.Context, id, lang string) (catalog.StreamDescriptor, bool)
	ResolveMeta(ctx context.Context, id, lang string) (catalog.MetaRecord, bool)
}

// Readiness reports whether catalogs are warm.
type Readiness interface {
	Warm() bool
}

// RequestIDs mints request identifiers.
type RequestIDs interface {
	RequestID() string
}

// Server wires HTTP handlers to the addon service.
type Server struct {
	router    chi.Router
	addon     Addon
	ready     Readiness
	languages map[string]struct{}
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil
// when the refresher is disabled.
func NewServer(addon Addon, ready Readiness, ids RequestIDs, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addon:     addon,
		ready:     ready,
		languages: make(map[string]struct{}),
		cfg:       cfg,
		logger:    logger,
	}
	for _, lang := range addon.Languages() {
		s.languages[lang] = struct{}{}
	}

	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware(ids))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Handle("/metrics", metrics.Handler())
	})

	r.Group(func(r chi.Router) {
		if cfg.Server.RateLimit > 0 {
			window := cfg.Server.RateWindow
			if window <= 0 {
				window = time.Minute
			}
			r.Use(rateLimitMiddleware(cfg.Server.RateLimit, window))
		}
		r.Get("/manifest.json", s.rootManifest)
		r.Route("/{lang}", func(r chi.Router) {
			r.Get("/manifest.json", s.languageManifest)
			r.Get("/catalog/movie/{id}", s.listCatalog)
			r.Get("/catalog/movie/{id}/{extra}", s.listCatalog)
			r.Get("/meta/movie/{id}", s.meta)
			r.Get("/meta/movie/{id}/{extra}", s.meta)
			r.Get("/stream/movie/{id}", s.stream)
			r.Get("/stream/movie/{id}/{extra}", s.stream)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready.Warm() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "warming"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) rootManifest(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", cacheManifest)
	writeJSON(w, http.StatusOK, RootManifest())
}

func (s *Server) languageManifest(w http.ResponseWriter, r *http.Request) {
	lang, ok := s.pathLanguage(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown language")
		return
	}
	w.Header().Set("Cache-Control", cacheManifest)
	writeJSON(w, http.StatusOK, LanguageManifest(lang))
}

func (s *Server) listCatalog(w http.ResponseWriter, r *http.Request) {
	lang := catalogLanguage(trimJSON(chi.URLParam(r, "id")))
	if _, ok := s.languages[lang]; !ok {
		writeError(w, http.StatusBadRequest, "invalid catalog id")
		return
	}
	extra := parseExtra(chi.URLParam(r, "extra"))

	var records []catalog.MovieRecord
	if query := strings.TrimSpace(extra.Get("search")); query != "" {
		records = s.addon.SearchCatalog(r.Context(), lang, query)
	} else {
		records = s.addon.GetRecentCatalog(r.Context(), lang, s.cfg.Server.CatalogPages)
		records = page(records, extra.Get("skip"))
	}
	if len(records) == 0 {
		w.Header().Set("Cache-Control", cacheEmpty)
	} else {
		w.Header().Set("Cache-Control", cacheCatalog)
	}
	writeJSON(w, http.StatusOK, map[string]any{"metas": catalog.Previews(records)})
}

func (s *Server) meta(w http.ResponseWriter, r *http.Request) {
	lang, ok := s.pathLanguage(r)
	id := trimJSON(chi.URLParam(r, "id"))
	if !ok || !catalog.SupportedID(id) {
		w.Header().Set("Cache-Control", cacheEmpty)
		writeJSON(w, http.StatusOK, map[string]any{"meta": nil})
		return
	}
	meta, found := s.addon.ResolveMeta(r.Context(), id, lang)
	if !found {
		w.Header().Set("Cache-Control", cacheEmpty)
		writeJSON(w, http.StatusOK, map[string]any{"meta": nil})
		return
	}
	w.Header().Set("Cache-Control", cacheCatalog)
	writeJSON(w, http.StatusOK, map[string]any{"meta": meta})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	lang, ok := s.pathLanguage(r)
	id := trimJSON(chi.URLParam(r, "id"))
	streams := []catalog.StreamDescriptor{}
	if ok && catalog.SupportedID(id) {
		if desc, found := s.addon.ResolveStream(r.Context(), id, lang); found {
			streams = append(streams, desc)
		}
	}
	if len(streams) == 0 {
		w.Header().Set("Cache-Control", cacheEmpty)
	} else {
		w.Header().Set("Cache-Control", cacheStream)
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": streams})
}

func (s *Server) pathLanguage(r *http.Request) (string, bool) {
	lang := strings.ToLower(chi.URLParam(r, "lang"))
	_, ok := s.languages[lang]
	return lang, ok
}

func trimJSON(segment string) string {
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	return strings.TrimSuffix(segment, ".json")
}

func parseExtra(segment string) url.Values {
	segment = strings.TrimSuffix(segment, ".json")
	if segment == "" {
		return url.Values{}
	}
	values, err := url.ParseQuery(segment)
	if err != nil {
		return url.Values{}
	}
	return values
}

func page(records []catalog.MovieRecord, skip string) []catalog.MovieRecord {
	offset, err := strconv.Atoi(skip)
	if err != nil || offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return nil
	}
	end := min(offset+PageSize, len(records))
	return records[offset:end]
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
