// Package normalize turns catalog site documents into movie records.
//
// Listing items missing any required field (poster, year, title, site id)
// are dropped, never emitted half-filled. A document without the listing
// container at all is a structural failure and reported as a
// *catalog.ParseError; an empty container is a valid empty result.
package normalize

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
)

// Selectors used against listing and detail pages.
const (
	RootSelector     = "#UIMovieSummary"
	itemSelector     = "li"
	posterSelector   = "div.block1 img[src]"
	yearSelector     = "div.info p"
	titleSelector    = "a.title h3"
	linkSelector     = "a.title[href]"
	synopsisSelector = "p.synopsis"
	profSelector     = "div.prof"
	trailerSelector  = `div.extras a[href*="youtu"]`
	xrefSelector     = `a[href*="imdb.com/title/tt"]`
)

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	xrefPattern = regexp.MustCompile(`tt\d{5,10}`)
)

// Listing extracts every complete item under the listing container.
func Listing(doc *goquery.Document) ([]catalog.MovieRecord, error) {
	root := doc.Find(RootSelector)
	if root.Length() == 0 {
		return nil, &catalog.ParseError{URL: docURL(doc), Container: RootSelector}
	}
	base := doc.Url
	records := make([]catalog.MovieRecord, 0, root.Find(itemSelector).Length())
	root.Find(itemSelector).Each(func(_ int, item *goquery.Selection) {
		if rec, ok := parseItem(item, base); ok {
			records = append(records, rec)
		}
	})
	return records, nil
}

// Detail extracts the first complete item of a watch or detail page. Cast,
// synopsis and trailer fall back to page-wide elements when the item lacks them.
func Detail(doc *goquery.Document) (catalog.MovieRecord, error) {
	root := doc.Find(RootSelector)
	if root.Length() == 0 {
		return catalog.MovieRecord{}, &catalog.ParseError{URL: docURL(doc), Container: RootSelector}
	}
	var (
		rec   catalog.MovieRecord
		found bool
	)
	root.Find(itemSelector).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		rec, found = parseItem(item, doc.Url)
		return !found
	})
	if !found {
		return catalog.MovieRecord{}, fmt.Errorf("detail %s: %w", docURL(doc), catalog.ErrNotFound)
	}
	page := doc.Selection
	if rec.Description == "" {
		rec.Description = Text(page.Find(synopsisSelector).First().Text())
	}
	if len(rec.Cast) == 0 && len(rec.Crew) == 0 {
		rec.Cast, rec.Crew = people(page)
	}
	if rec.TrailerRef == "" {
		rec.TrailerRef = trailerID(page)
	}
	if !rec.HasCrossRef() {
		if xref := crossRef(page); xref != "" {
			rec.ID = xref
		}
	}
	return rec, nil
}

func parseItem(item *goquery.Selection, base *url.URL) (catalog.MovieRecord, bool) {
	src, _ := item.Find(posterSelector).First().Attr("src")
	poster := absoluteURL(base, src)
	year := releaseYear(item.Find(yearSelector).First())
	title := Text(item.Find(titleSelector).First().Text())
	href, _ := item.Find(linkSelector).First().Attr("href")
	siteID := SiteIDFromHref(href)
	if poster == "" || year == "" || title == "" || siteID == "" {
		return catalog.MovieRecord{}, false
	}

	rec := catalog.MovieRecord{
		ID:          catalog.FallbackID(siteID),
		SiteID:      siteID,
		Name:        title,
		Poster:      poster,
		ReleaseYear: year,
		Description: Text(item.Find(synopsisSelector).First().Text()),
		TrailerRef:  trailerID(item),
	}
	rec.Cast, rec.Crew = people(item)
	if xref := crossRef(item); xref != "" {
		rec.ID = xref
	}
	return rec, true
}

// Text decodes HTML entities left in s and collapses whitespace.
func Text(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Double-encoded entities survive the DOM parser once.
	for i := 0; i < 2 && strings.Contains(s, "&"); i++ {
		s = html.UnescapeString(s)
	}
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// SiteIDFromHref returns the site-native id from a /movie/watch/<id>/ link.
func SiteIDFromHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	segments := strings.Split(u.Path, "/")
	if len(segments) < 4 {
		return ""
	}
	return strings.TrimSpace(segments[3])
}

// releaseYear reads the first text node of the info paragraph.
func releaseYear(p *goquery.Selection) string {
	var raw string
	p.Contents().EachWithBreak(func(_ int, n *goquery.Selection) bool {
		if goquery.NodeName(n) == "#text" {
			raw = Text(n.Text())
			return raw == ""
		}
		return true
	})
	if raw == "" {
		return ""
	}
	if y := yearPattern.FindString(raw); y != "" {
		return y
	}
	return raw
}

func people(scope *goquery.Selection) (cast, crew []catalog.Person) {
	scope.Find(profSelector).Each(func(_ int, prof *goquery.Selection) {
		name := Text(prof.Find("p").First().Text())
		if name == "" {
			return
		}
		role := Text(prof.Find("label").First().Text())
		p := catalog.Person{Name: name, Role: role}
		if catalog.CrewRole(role) != "" {
			crew = append(crew, p)
			return
		}
		cast = append(cast, p)
	})
	return cast, crew
}

func trailerID(scope *goquery.Selection) string {
	var id string
	scope.Find(trailerSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		id = YouTubeID(href)
		return id == ""
	})
	return id
}

// YouTubeID extracts the video id from a youtube.com watch link or a youtu.be short link.
func YouTubeID(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if strings.HasSuffix(u.Hostname(), "youtu.be") {
		return strings.Trim(u.Path, "/")
	}
	return ""
}

func crossRef(scope *goquery.Selection) string {
	href, ok := scope.Find(xrefSelector).First().Attr("href")
	if !ok {
		return ""
	}
	return xrefPattern.FindString(href)
}

func absoluteURL(base *url.URL, src string) string {
	src = strings.TrimSpace(src)
	switch {
	case src == "":
		return ""
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return src
	case base != nil:
		ref, err := url.Parse(src)
		if err != nil {
			return ""
		}
		return base.ResolveReference(ref).String()
	default:
		return ""
	}
}

func docURL(doc *goquery.Document) string {
	if doc == nil || doc.Url == nil {
		return ""
	}
	return doc.Url.String()
}
