// Package resolver maps between cross-reference ids and catalog site ids.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/einthusan-addon/internal/cache"
	"github.com/JakeFAU/einthusan-addon/internal/catalog"
	"github.com/JakeFAU/einthusan-addon/internal/metrics"
)

// Cache namespaces owned by the resolver.
const (
	NamespaceTitle    = "title"
	NamespaceXref     = "xref"
	NamespaceCrossRef = "crossref"
)

// Defaults applied by New.
const (
	DefaultProviderTimeout = 5 * time.Second
	DefaultXrefTTL         = 7 * 24 * time.Hour
	DefaultMissTTL         = 6 * time.Hour
)

// Catalog is the part of the site adapter the resolver reads.
type Catalog interface {
	IndexedSiteID(ctx context.Context, lang, xref string) (string, bool)
	Search(ctx context.Context, lang, query string) ([]catalog.MovieRecord, error)
}

// Config tunes the resolver.
type Config struct {
	ProviderTimeout time.Duration
	XrefTTL         time.Duration
	MissTTL         time.Duration
	// SkipVerify accepts reverse-lookup candidates without re-resolving their title.
	SkipVerify bool
}

// Resolver answers id questions with caching and per-key call sharing.
type Resolver struct {
	providers []TitleProvider
	lookup    Lookup
	site      Catalog
	cache     *cache.Cache
	cfg       Config
	group     singleflight.Group
	logger    *zap.Logger
}

// New builds a Resolver. providers are consulted in order. lookup may be nil,
// which disables CrossRef.
func New(cfg Config, providers []TitleProvider, lookup Lookup, site Catalog, c *cache.Cache, logger *zap.Logger) (*Resolver, error) {
	if site == nil {
		return nil, errors.New("resolver: catalog is required")
	}
	if c == nil {
		return nil, errors.New("resolver: cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.XrefTTL <= 0 {
		cfg.XrefTTL = DefaultXrefTTL
	}
	if cfg.MissTTL <= 0 {
		cfg.MissTTL = DefaultMissTTL
	}
	return &Resolver{
		providers: providers,
		lookup:    lookup,
		site:      site,
		cache:     c,
		cfg:       cfg,
		logger:    logger.Named("resolver"),
	}, nil
}

// Title returns the display title of a cross-reference id from the first
// provider that answers.
func (r *Resolver) Title(ctx context.Context, xref string) (string, bool) {
	title, err := r.title(ctx, xref)
	if err != nil {
		r.logger.Debug("title unresolved", zap.String("xref", xref), zap.Error(err))
		return "", false
	}
	return title, true
}

// title returns errNoTitle when every provider answered empty and the
// provider errors otherwise. Only resolved titles are cached.
func (r *Resolver) title(ctx context.Context, xref string) (string, error) {
	if !catalog.IsCrossRef(xref) {
		return "", errNoTitle
	}
	key := cache.Key(NamespaceTitle, xref)
	if title, ok := cache.GetJSON[string](ctx, r.cache, key); ok && title != "" {
		return title, nil
	}
	v, err, _ := r.group.Do("provider|"+xref, func() (any, error) {
		title, err := r.titleFromProviders(ctx, xref)
		if err != nil {
			return "", err
		}
		if err := cache.SetJSON(ctx, r.cache, key, title, r.cfg.XrefTTL); err != nil {
			r.logger.Warn("cache title", zap.String("xref", xref), zap.Error(err))
		}
		return title, nil
	})
	if err != nil {
		return "", err
	}
	title, _ := v.(string)
	return title, nil
}

func (r *Resolver) titleFromProviders(ctx context.Context, xref string) (string, error) {
	var errs []error
	for _, p := range r.providers {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		title, err := r.callProvider(ctx, p, xref)
		if errors.Is(err, catalog.ErrNotFound) {
			title, err = "", nil
		}
		if err != nil {
			metrics.ObserveProviderCall(p.Name(), "error")
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if title == "" {
			metrics.ObserveProviderCall(p.Name(), "empty")
			continue
		}
		metrics.ObserveProviderCall(p.Name(), "ok")
		return title, nil
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("title providers: %w", errors.Join(errs...))
	}
	return "", errNoTitle
}

func (r *Resolver) callProvider(ctx context.Context, p TitleProvider, xref string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	defer cancel()
	title, err := p.Title(ctx, xref)
	return strings.TrimSpace(title), err
}

// SiteID maps any supported id to a catalog site id.
func (r *Resolver) SiteID(ctx context.Context, id, lang string) (string, bool) {
	if siteID, ok := catalog.SiteIDFrom(id); ok {
		metrics.ObserveResolution("site_id", "direct")
		return siteID, true
	}
	if !catalog.IsCrossRef(id) {
		metrics.ObserveResolution("site_id", "unsupported")
		return "", false
	}
	if siteID, ok := r.site.IndexedSiteID(ctx, lang, id); ok {
		metrics.ObserveResolution("site_id", "recent")
		return siteID, true
	}
	key := cache.Key(NamespaceXref, id, lang)
	if siteID, ok := cache.GetJSON[string](ctx, r.cache, key); ok && siteID != "" {
		metrics.ObserveResolution("site_id", "cached")
		return siteID, true
	}
	v, _, _ := r.group.Do("xref|"+id+"|"+lang, func() (any, error) {
		siteID := r.searchSiteID(ctx, id, lang)
		if siteID == "" {
			metrics.ObserveResolution("site_id", "miss")
			return "", nil
		}
		metrics.ObserveResolution("site_id", "search")
		if err := cache.SetJSON(ctx, r.cache, key, siteID, r.cfg.XrefTTL); err != nil {
			r.logger.Warn("cache site id", zap.String("xref", id), zap.Error(err))
		}
		return siteID, nil
	})
	siteID, _ := v.(string)
	return siteID, siteID != ""
}

func (r *Resolver) searchSiteID(ctx context.Context, xref, lang string) string {
	title, ok := r.Title(ctx, xref)
	if !ok {
		return ""
	}
	records, err := r.site.Search(ctx, lang, title)
	if err != nil {
		r.logger.Debug("site search failed", zap.String("xref", xref), zap.String("title", title), zap.Error(err))
		return ""
	}
	for _, rec := range records {
		if rec.ID == xref && rec.SiteID != "" {
			return rec.SiteID
		}
	}
	want := NormalizeTitle(title)
	for _, rec := range records {
		if rec.SiteID != "" && NormalizeTitle(rec.Name) == want {
			return rec.SiteID
		}
	}
	return ""
}

type crossRefResult struct {
	ID    string `json:"id"`
	Found bool   `json:"found"`
}

// CrossRef finds the cross-reference id of a site title.
func (r *Resolver) CrossRef(ctx context.Context, title, year, lang string) (string, bool) {
	norm := NormalizeTitle(title)
	if norm == "" || r.lookup == nil {
		return "", false
	}
	key := cache.Key(NamespaceCrossRef, norm, year, lang)
	if res, ok := cache.GetJSON[crossRefResult](ctx, r.cache, key); ok {
		metrics.ObserveResolution("cross_ref", "cached")
		return res.ID, res.Found
	}
	v, _, _ := r.group.Do("title|"+norm+"|"+year+"|"+lang, func() (any, error) {
		res, final := r.reverseLookup(ctx, title, norm, year)
		if res.Found {
			metrics.ObserveResolution("cross_ref", "hit")
		} else {
			metrics.ObserveResolution("cross_ref", "miss")
		}
		if final {
			ttl := r.cfg.XrefTTL
			if !res.Found {
				ttl = r.cfg.MissTTL
			}
			if err := cache.SetJSON(ctx, r.cache, key, res, ttl); err != nil {
				r.logger.Warn("cache cross ref", zap.String("title", title), zap.Error(err))
			}
		}
		return res, nil
	})
	res, _ := v.(crossRefResult)
	return res.ID, res.Found
}

// reverseLookup reports whether its answer is final; lookup and verify failures are not cached.
func (r *Resolver) reverseLookup(ctx context.Context, title, norm, year string) (crossRefResult, bool) {
	lctx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	candidates, err := r.lookup.Search(lctx, title)
	cancel()
	if err != nil {
		r.logger.Debug("reverse lookup failed", zap.String("title", title), zap.Error(err))
		return crossRefResult{}, false
	}
	for _, c := range candidates {
		if !catalog.IsCrossRef(c.ID) || NormalizeTitle(c.Title) != norm {
			continue
		}
		if year != "" && c.Year != "" && year != c.Year {
			continue
		}
		if r.cfg.SkipVerify {
			return crossRefResult{ID: c.ID, Found: true}, true
		}
		agree, err := r.Verify(ctx, c.ID, title)
		if err != nil {
			r.logger.Debug("verify failed", zap.String("xref", c.ID), zap.Error(err))
			return crossRefResult{}, false
		}
		if agree {
			return crossRefResult{ID: c.ID, Found: true}, true
		}
	}
	return crossRefResult{}, ctx.Err() == nil
}

// Verify re-resolves the title of xref and checks it agrees with title.
// An error means the title could not be resolved, not that it disagrees.
func (r *Resolver) Verify(ctx context.Context, xref, title string) (bool, error) {
	resolved, err := r.title(ctx, xref)
	if errors.Is(err, errNoTitle) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tokensAgree(resolved, title), nil
}

// Upgrade replaces fallback ids with cross-reference ids where one can be found.
// The input slice is not modified.
func (r *Resolver) Upgrade(ctx context.Context, records []catalog.MovieRecord, lang string) []catalog.MovieRecord {
	out := make([]catalog.MovieRecord, len(records))
	copy(out, records)
	for i, rec := range out {
		if rec.HasCrossRef() || ctx.Err() != nil {
			continue
		}
		if xref, ok := r.CrossRef(ctx, rec.Name, rec.ReleaseYear, lang); ok {
			out[i] = rec.WithID(xref)
		}
	}
	return out
}
