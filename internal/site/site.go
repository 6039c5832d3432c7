// Package site adapts the catalog site's URL scheme and page layout to movie records.
package site

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/einthusan-addon/internal/cache"
	"github.com/JakeFAU/einthusan-addon/internal/catalog"
	"github.com/JakeFAU/einthusan-addon/internal/metrics"
	"github.com/JakeFAU/einthusan-addon/internal/normalize"
)

// Paths on the catalog site.
const (
	ResultsPath = "/movie/results/"
	WatchPath   = "/movie/watch/"
)

// Cache namespaces owned by the site adapter.
const (
	NamespaceSearch = "search"
	NamespaceDetail = "detail"
	NamespaceRecent = "catalog"
)

// DefaultLanguages are the catalog languages the site publishes.
var DefaultLanguages = []string{"hindi", "tamil", "telugu", "malayalam", "kannada", "bengali", "marathi", "punjabi"}

// Documents fetches and parses site-relative pages.
type Documents interface {
	Document(ctx context.Context, path string, params url.Values) (*goquery.Document, error)
}

// Config tunes the adapter.
type Config struct {
	Languages []string
	SearchTTL time.Duration
	DetailTTL time.Duration
}

// Site fetches listing, search and watch pages and normalizes them.
type Site struct {
	docs      Documents
	cache     *cache.Cache
	archive   *Archive
	languages map[string]struct{}
	ordered   []string
	cfg       Config
	logger    *zap.Logger
}

// New builds a Site. archive may be nil.
func New(cfg Config, docs Documents, c *cache.Cache, archive *Archive, logger *zap.Logger) (*Site, error) {
	if docs == nil {
		return nil, errors.New("site: document source is required")
	}
	if c == nil {
		return nil, errors.New("site: cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultLanguages
	}
	s := &Site{
		docs:      docs,
		cache:     c,
		archive:   archive,
		languages: make(map[string]struct{}, len(cfg.Languages)),
		cfg:       cfg,
		logger:    logger.Named("site"),
	}
	for _, lang := range cfg.Languages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == "" {
			continue
		}
		if _, dup := s.languages[lang]; dup {
			continue
		}
		s.languages[lang] = struct{}{}
		s.ordered = append(s.ordered, lang)
	}
	return s, nil
}

// Languages returns the configured languages in configuration order.
func (s *Site) Languages() []string {
	return append([]string(nil), s.ordered...)
}

// Supports reports whether lang is a configured language.
func (s *Site) Supports(lang string) bool {
	_, ok := s.languages[lang]
	return ok
}

// RecentKey is the cache key of a language's merged recent catalog.
func RecentKey(lang string) string {
	return cache.Key(NamespaceRecent, "recent", lang)
}

// IndexKey is the cache key of a language's cross-reference to site id index.
func IndexKey(lang string) string {
	return cache.Key(NamespaceRecent, "index", lang)
}

// Search returns the site's search results for query. Non-empty results are cached.
func (s *Site) Search(ctx context.Context, lang, query string) ([]catalog.MovieRecord, error) {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return []catalog.MovieRecord{}, nil
	}
	key := cache.Key(NamespaceSearch, lang, strings.ToLower(query))
	if records, ok := cache.GetJSON[[]catalog.MovieRecord](ctx, s.cache, key); ok {
		return records, nil
	}
	params := url.Values{"lang": {lang}, "query": {query}}
	records, err := s.listing(ctx, lang, ResultsPath, params)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		if err := cache.SetJSON(ctx, s.cache, key, records, s.cfg.SearchTTL); err != nil {
			s.logger.Warn("cache search results", zap.String("key", key), zap.Error(err))
		}
	}
	return records, nil
}

// RecentPage fetches one page of the recently added listing. Pages are not cached individually.
func (s *Site) RecentPage(ctx context.Context, lang string, page int) ([]catalog.MovieRecord, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{"find": {"Recent"}, "lang": {lang}, "page": {strconv.Itoa(page)}}
	return s.listing(ctx, lang, ResultsPath, params)
}

// Recent returns the cached merged recent catalog for lang.
func (s *Site) Recent(ctx context.Context, lang string) ([]catalog.MovieRecord, bool) {
	return cache.GetJSON[[]catalog.MovieRecord](ctx, s.cache, RecentKey(lang))
}

// StoreRecent replaces the cached recent catalog for lang and its id index.
func (s *Site) StoreRecent(ctx context.Context, lang string, records []catalog.MovieRecord, ttl time.Duration) error {
	if err := cache.SetJSON(ctx, s.cache, RecentKey(lang), records, ttl); err != nil {
		return err
	}
	index := make(map[string]string, len(records))
	for _, rec := range records {
		if rec.HasCrossRef() && rec.SiteID != "" {
			index[rec.ID] = rec.SiteID
		}
	}
	return cache.SetJSON(ctx, s.cache, IndexKey(lang), index, ttl)
}

// IndexedSiteID looks xref up in the index written by StoreRecent.
func (s *Site) IndexedSiteID(ctx context.Context, lang, xref string) (string, bool) {
	index, ok := cache.GetJSON[map[string]string](ctx, s.cache, IndexKey(lang))
	if !ok {
		return "", false
	}
	siteID, ok := index[xref]
	return siteID, ok && siteID != ""
}

// Watch fetches the watch page of a title.
func (s *Site) Watch(ctx context.Context, siteID, lang string) (*goquery.Document, error) {
	params := url.Values{}
	if lang != "" {
		params.Set("lang", lang)
	}
	doc, err := s.docs.Document(ctx, WatchPath+url.PathEscape(siteID)+"/", params)
	if err != nil {
		return nil, fmt.Errorf("watch page %s: %w", siteID, err)
	}
	return doc, nil
}

// Detail returns the normalized record of a title's watch page.
func (s *Site) Detail(ctx context.Context, siteID, lang string) (catalog.MovieRecord, error) {
	key := cache.Key(NamespaceDetail, siteID, lang)
	return cache.Remember(ctx, s.cache, key, s.cfg.DetailTTL, func(ctx context.Context) (catalog.MovieRecord, error) {
		doc, err := s.Watch(ctx, siteID, lang)
		if err != nil {
			return catalog.MovieRecord{}, err
		}
		rec, err := normalize.Detail(doc)
		if err != nil {
			s.parseFailed(ctx, lang, doc, err)
			return catalog.MovieRecord{}, err
		}
		return rec, nil
	})
}

func (s *Site) listing(ctx context.Context, lang, path string, params url.Values) ([]catalog.MovieRecord, error) {
	doc, err := s.docs.Document(ctx, path, params)
	if err != nil {
		return nil, err
	}
	records, err := normalize.Listing(doc)
	if err != nil {
		s.parseFailed(ctx, lang, doc, err)
		return nil, err
	}
	return records, nil
}

func (s *Site) parseFailed(ctx context.Context, lang string, doc *goquery.Document, err error) {
	if !catalog.IsParseError(err) {
		return
	}
	metrics.ObserveParseFailure(lang)
	if s.archive == nil {
		s.logger.Warn("document failed parsing", zap.String("lang", lang), zap.Error(err))
		return
	}
	body, herr := doc.Html()
	if herr != nil {
		s.logger.Warn("render failed document", zap.Error(herr))
		return
	}
	uri, aerr := s.archive.Save(ctx, lang, []byte(body))
	if aerr != nil {
		s.logger.Warn("archive failed document", zap.String("lang", lang), zap.Error(aerr))
		return
	}
	s.logger.Warn("document failed parsing",
		zap.String("lang", lang),
		zap.String("archive", uri),
		zap.Error(err),
	)
}

// Archive keeps raw copies of documents that failed structural parsing.
type Archive struct {
	blobs  catalog.BlobStore
	hasher catalog.Hasher
}

// NewArchive builds an Archive over a blob store.
func NewArchive(blobs catalog.BlobStore, hasher catalog.Hasher) *Archive {
	return &Archive{blobs: blobs, hasher: hasher}
}

// Save writes body under parse-failures/<lang>/<digest>.html and returns its URI.
func (a *Archive) Save(ctx context.Context, lang string, body []byte) (string, error) {
	digest, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash document: %w", err)
	}
	if lang == "" {
		lang = "unknown"
	}
	path := fmt.Sprintf("parse-failures/%s/%s.html", lang, digest)
	uri, err := a.blobs.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	return uri, nil
}
