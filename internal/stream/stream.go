// Package stream extracts playable media URLs from watch pages.
package stream

import (
	"context"
	"errors"
	"fmt"
	"regexp"
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

// Defaults applied by New.
const (
	DefaultCanonicalHost = "cdn1.einthusan.io"
	DefaultName          = "EinthusanTV"
	DefaultTTL           = time.Hour
	Namespace            = "stream"
)

// Selectors on the watch page.
const (
	PlayerSelector         = "#UIVideoPlayer"
	LocaleSelector         = "#UIMovieSummary div.info"
	LocaleFallbackSelector = ".language"
)

var (
	// ErrNoPlayer is returned when the page has no usable player descriptor.
	ErrNoPlayer = errors.New("no media player on page")
	// ErrLanguageMismatch is returned when the page is a different localized cut.
	ErrLanguageMismatch = errors.New("watch page language mismatch")

	ipv4Candidate = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
)

// Watcher fetches watch pages.
type Watcher interface {
	Watch(ctx context.Context, siteID, lang string) (*goquery.Document, error)
}

// Config tunes the extractor.
type Config struct {
	CanonicalHost string
	Name          string
	TTL           time.Duration
}

// Extractor turns site ids into stream descriptors.
type Extractor struct {
	site   Watcher
	cache  *cache.Cache
	cfg    Config
	logger *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, site Watcher, c *cache.Cache, logger *zap.Logger) (*Extractor, error) {
	if site == nil {
		return nil, errors.New("stream: watcher is required")
	}
	if c == nil {
		return nil, errors.New("stream: cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CanonicalHost == "" {
		cfg.CanonicalHost = DefaultCanonicalHost
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Extractor{site: site, cache: c, cfg: cfg, logger: logger.Named("stream")}, nil
}

// Extract returns the stream of siteID in lang. Every failure reads as "no stream".
func (e *Extractor) Extract(ctx context.Context, siteID, lang string) (catalog.StreamDescriptor, bool) {
	if siteID == "" {
		return catalog.StreamDescriptor{}, false
	}
	key := cache.Key(Namespace, siteID, lang)
	desc, err := cache.Remember(ctx, e.cache, key, e.cfg.TTL, func(ctx context.Context) (catalog.StreamDescriptor, error) {
		doc, err := e.site.Watch(ctx, siteID, lang)
		if err != nil {
			return catalog.StreamDescriptor{}, err
		}
		return Parse(doc, lang, e.cfg.CanonicalHost, e.cfg.Name)
	})
	switch {
	case err == nil:
		metrics.ObserveStream("ok")
		return desc, true
	case errors.Is(err, ErrLanguageMismatch):
		metrics.ObserveStream("language_mismatch")
		e.logger.Info("stream language mismatch", zap.String("site_id", siteID), zap.String("lang", lang))
	case errors.Is(err, ErrNoPlayer):
		metrics.ObserveStream("no_player")
		e.logger.Warn("stream player missing", zap.String("site_id", siteID), zap.String("lang", lang))
	default:
		metrics.ObserveStream("error")
		e.logger.Warn("stream extraction failed", zap.String("site_id", siteID), zap.String("lang", lang), zap.Error(err))
	}
	return catalog.StreamDescriptor{}, false
}

// Parse reads the stream descriptor from a watch page.
func Parse(doc *goquery.Document, lang, canonicalHost, name string) (catalog.StreamDescriptor, error) {
	if lang != "" && !strings.Contains(strings.ToLower(LocaleText(doc)), strings.ToLower(lang)) {
		return catalog.StreamDescriptor{}, fmt.Errorf("%w: want %s", ErrLanguageMismatch, lang)
	}
	player := doc.Find(PlayerSelector).First()
	if player.Length() == 0 {
		return catalog.StreamDescriptor{}, ErrNoPlayer
	}
	media := strings.TrimSpace(player.AttrOr("data-mp4-link", ""))
	if media == "" {
		return catalog.StreamDescriptor{}, fmt.Errorf("%w: empty media link", ErrNoPlayer)
	}
	title := normalize.Text(player.AttrOr("data-content-title", ""))
	year := strings.TrimSpace(player.AttrOr("data-content-year", ""))
	if title == "" || year == "" {
		if rec, err := normalize.Detail(doc); err == nil {
			if title == "" {
				title = rec.Name
			}
			if year == "" {
				year = rec.ReleaseYear
			}
		}
	}
	return catalog.StreamDescriptor{
		URL:   RewriteHost(media, canonicalHost),
		Name:  name,
		Title: displayTitle(title, year),
	}, nil
}

// LocaleText returns the page's displayed locale line.
func LocaleText(doc *goquery.Document) string {
	text := normalize.Text(doc.Find(LocaleSelector).First().Text())
	if text == "" {
		text = normalize.Text(doc.Find(LocaleFallbackSelector).First().Text())
	}
	return text
}

// RewriteHost replaces the first IPv4 literal in raw with host.
func RewriteHost(raw, host string) string {
	for _, loc := range ipv4Candidate.FindAllStringIndex(raw, -1) {
		if !boundary(raw, loc[0]-1) || !boundary(raw, loc[1]) {
			continue
		}
		if !dottedQuad(raw[loc[0]:loc[1]]) {
			continue
		}
		return raw[:loc[0]] + host + raw[loc[1]:]
	}
	return raw
}

// dottedQuad accepts four 0-255 octets; leading zeros are allowed.
func dottedQuad(s string) bool {
	for _, part := range strings.Split(s, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

// boundary reports whether raw[i] cannot extend a dotted-quad.
func boundary(raw string, i int) bool {
	if i < 0 || i >= len(raw) {
		return true
	}
	c := raw[i]
	return !(c >= '0' && c <= '9') && c != '.'
}

func displayTitle(title, year string) string {
	switch {
	case title == "":
		return year
	case year == "":
		return title
	default:
		return title + " (" + year + ")"
	}
}
