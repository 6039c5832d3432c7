// Package addon is the request-time facade over the catalog pipeline.
package addon

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
)

// Site is the site adapter surface the service reads.
type Site interface {
	Supports(lang string) bool
	Languages() []string
	Search(ctx context.Context, lang, query string) ([]catalog.MovieRecord, error)
	Detail(ctx context.Context, siteID, lang string) (catalog.MovieRecord, error)
}

// Catalogs returns a language's recent catalog, warming it when cold.
type Catalogs interface {
	Ensure(ctx context.Context, lang string, pages int) ([]catalog.MovieRecord, error)
}

// Resolver maps ids.
type Resolver interface {
	SiteID(ctx context.Context, id, lang string) (string, bool)
	Upgrade(ctx context.Context, records []catalog.MovieRecord, lang string) []catalog.MovieRecord
}

// Streams extracts stream descriptors.
type Streams interface {
	Extract(ctx context.Context, siteID, lang string) (catalog.StreamDescriptor, bool)
}

// Config tunes the service.
type Config struct {
	// ReverseLookup upgrades search results to cross-reference ids.
	ReverseLookup bool
}

// Service answers catalog, meta and stream requests. Every method returns an
// empty result instead of an error.
type Service struct {
	site     Site
	catalogs Catalogs
	resolver Resolver
	streams  Streams
	cfg      Config
	logger   *zap.Logger
}

// New builds a Service.
func New(cfg Config, site Site, catalogs Catalogs, resolver Resolver, streams Streams, logger *zap.Logger) (*Service, error) {
	switch {
	case site == nil:
		return nil, errors.New("addon: site is required")
	case catalogs == nil:
		return nil, errors.New("addon: catalogs are required")
	case resolver == nil:
		return nil, errors.New("addon: resolver is required")
	case streams == nil:
		return nil, errors.New("addon: streams are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		site:     site,
		catalogs: catalogs,
		resolver: resolver,
		streams:  streams,
		cfg:      cfg,
		logger:   logger.Named("addon"),
	}, nil
}

// Languages returns the languages the service answers for.
func (s *Service) Languages() []string {
	return s.site.Languages()
}

// SearchCatalog searches lang's catalog for query.
func (s *Service) SearchCatalog(ctx context.Context, lang, query string) []catalog.MovieRecord {
	lang = normalizeLang(lang)
	if !s.site.Supports(lang) || strings.TrimSpace(query) == "" {
		return []catalog.MovieRecord{}
	}
	records, err := s.site.Search(ctx, lang, query)
	if err != nil {
		s.logger.Warn("search failed", zap.String("lang", lang), zap.String("query", query), zap.Error(err))
		return []catalog.MovieRecord{}
	}
	if s.cfg.ReverseLookup {
		records = s.resolver.Upgrade(ctx, records, lang)
	}
	return records
}

// GetRecentCatalog returns lang's recent catalog. A cold catalog is swept
// once, over at most maxPages pages.
func (s *Service) GetRecentCatalog(ctx context.Context, lang string, maxPages int) []catalog.MovieRecord {
	lang = normalizeLang(lang)
	if !s.site.Supports(lang) {
		return []catalog.MovieRecord{}
	}
	records, err := s.catalogs.Ensure(ctx, lang, maxPages)
	if err != nil {
		s.logger.Warn("recent catalog unavailable", zap.String("lang", lang), zap.Error(err))
		return []catalog.MovieRecord{}
	}
	return records
}

// ResolveStream returns the playable stream of id in lang.
func (s *Service) ResolveStream(ctx context.Context, id, lang string) (catalog.StreamDescriptor, bool) {
	lang = normalizeLang(lang)
	if !s.site.Supports(lang) {
		return catalog.StreamDescriptor{}, false
	}
	siteID, ok := s.resolver.SiteID(ctx, id, lang)
	if !ok {
		s.logger.Debug("stream id unresolved", zap.String("id", id), zap.String("lang", lang))
		return catalog.StreamDescriptor{}, false
	}
	return s.streams.Extract(ctx, siteID, lang)
}

// ResolveMeta returns the detail view of id in lang.
func (s *Service) ResolveMeta(ctx context.Context, id, lang string) (catalog.MetaRecord, bool) {
	lang = normalizeLang(lang)
	if !s.site.Supports(lang) {
		return catalog.MetaRecord{}, false
	}
	siteID, ok := s.resolver.SiteID(ctx, id, lang)
	if !ok {
		s.logger.Debug("meta id unresolved", zap.String("id", id), zap.String("lang", lang))
		return catalog.MetaRecord{}, false
	}
	rec, err := s.site.Detail(ctx, siteID, lang)
	if err != nil {
		s.logger.Warn("meta detail failed", zap.String("id", id), zap.String("site_id", siteID), zap.Error(err))
		return catalog.MetaRecord{}, false
	}
	return rec.ToMeta(id), true
}

func normalizeLang(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}
