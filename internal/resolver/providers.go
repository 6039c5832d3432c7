package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
)

// Default endpoints of the title providers.
const (
	DefaultSuggestionURL = "https://v3.sg.media-imdb.com"
	DefaultCinemetaURL   = "https://v3-cinemeta.strem.io"
	DefaultTitlePageURL  = "https://www.imdb.com"
)

// Fetcher is the subset of the upstream client providers need.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
	JSON(ctx context.Context, rawURL string, v any) error
}

// TitleProvider maps a cross-reference id to a display title.
type TitleProvider interface {
	Name() string
	Title(ctx context.Context, xref string) (string, error)
}

// Candidate is one reverse-lookup hit.
type Candidate struct {
	ID    string
	Title string
	Year  string
	Kind  string
}

// Lookup maps a title to candidate cross-reference ids.
type Lookup interface {
	Search(ctx context.Context, title string) ([]Candidate, error)
}

type suggestionResponse struct {
	D []struct {
		ID    string `json:"id"`
		Label string `json:"l"`
		Year  int    `json:"y"`
		Kind  string `json:"q"`
	} `json:"d"`
}

// SuggestionProvider reads titles and candidates from the suggestion API.
type SuggestionProvider struct {
	baseURL string
	client  Fetcher
}

// NewSuggestionProvider builds a SuggestionProvider. An empty baseURL uses the public endpoint.
func NewSuggestionProvider(baseURL string, client Fetcher) *SuggestionProvider {
	if baseURL == "" {
		baseURL = DefaultSuggestionURL
	}
	return &SuggestionProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name implements TitleProvider.
func (p *SuggestionProvider) Name() string { return "suggestion" }

// Title implements TitleProvider.
func (p *SuggestionProvider) Title(ctx context.Context, xref string) (string, error) {
	var resp suggestionResponse
	if err := p.client.JSON(ctx, p.baseURL+"/suggestion/t/"+url.PathEscape(xref)+".json", &resp); err != nil {
		return "", err
	}
	for _, d := range resp.D {
		if d.ID == xref && strings.TrimSpace(d.Label) != "" {
			return strings.TrimSpace(d.Label), nil
		}
	}
	return "", catalog.ErrNotFound
}

// Search implements Lookup.
func (p *SuggestionProvider) Search(ctx context.Context, title string) ([]Candidate, error) {
	query := strings.ToLower(strings.Join(strings.Fields(title), " "))
	if query == "" {
		return nil, nil
	}
	var resp suggestionResponse
	if err := p.client.JSON(ctx, p.baseURL+"/suggestion/x/"+url.PathEscape(query)+".json", &resp); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(resp.D))
	for _, d := range resp.D {
		if !catalog.IsCrossRef(d.ID) {
			continue
		}
		c := Candidate{ID: d.ID, Title: strings.TrimSpace(d.Label), Kind: d.Kind}
		if d.Year > 0 {
			c.Year = strconv.Itoa(d.Year)
		}
		out = append(out, c)
	}
	return out, nil
}

// CinemetaProvider reads titles from the community metadata API.
type CinemetaProvider struct {
	baseURL string
	client  Fetcher
}

// NewCinemetaProvider builds a CinemetaProvider. An empty baseURL uses the public endpoint.
func NewCinemetaProvider(baseURL string, client Fetcher) *CinemetaProvider {
	if baseURL == "" {
		baseURL = DefaultCinemetaURL
	}
	return &CinemetaProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name implements TitleProvider.
func (p *CinemetaProvider) Name() string { return "cinemeta" }

// Title implements TitleProvider.
func (p *CinemetaProvider) Title(ctx context.Context, xref string) (string, error) {
	var resp struct {
		Meta struct {
			Name string `json:"name"`
		} `json:"meta"`
	}
	if err := p.client.JSON(ctx, p.baseURL+"/meta/movie/"+url.PathEscape(xref)+".json", &resp); err != nil {
		return "", err
	}
	if name := strings.TrimSpace(resp.Meta.Name); name != "" {
		return name, nil
	}
	return "", catalog.ErrNotFound
}

var (
	yearSuffix = regexp.MustCompile(`\s*\((?:TV Movie |Video )?\d{4}[^)]*\).*$`)
	siteSuffix = regexp.MustCompile(`\s*-\s*IMDb\s*$`)
)

// ScrapeProvider reads the title from the title page markup.
type ScrapeProvider struct {
	baseURL string
	client  Fetcher
}

// NewScrapeProvider builds a ScrapeProvider. An empty baseURL uses the public site.
func NewScrapeProvider(baseURL string, client Fetcher) *ScrapeProvider {
	if baseURL == "" {
		baseURL = DefaultTitlePageURL
	}
	return &ScrapeProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name implements TitleProvider.
func (p *ScrapeProvider) Name() string { return "scrape" }

// Title implements TitleProvider.
func (p *ScrapeProvider) Title(ctx context.Context, xref string) (string, error) {
	body, err := p.client.Get(ctx, p.baseURL+"/title/"+url.PathEscape(xref)+"/")
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse title page: %w", err)
	}
	raw, _ := doc.Find(`meta[property="og:title"]`).First().Attr("content")
	if strings.TrimSpace(raw) == "" {
		raw = doc.Find("title").First().Text()
	}
	if title := CleanPageTitle(raw); title != "" {
		return title, nil
	}
	return "", catalog.ErrNotFound
}

// CleanPageTitle strips the release-year and site suffixes from a page title.
func CleanPageTitle(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	s = siteSuffix.ReplaceAllString(s, "")
	s = yearSuffix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// errNoTitle is returned when every provider came back empty.
var errNoTitle = errors.New("no provider returned a title")
