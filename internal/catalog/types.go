// Package catalog defines the records, identifiers, and errors shared across the addon backend.
package catalog

import (
	"strings"
)

// FallbackPrefix marks identifiers derived from the site-native id when no cross-reference resolved.
const FallbackPrefix = "site:"

// LegacyPrefix is the identifier prefix older addon clients still send.
const LegacyPrefix = "einthusan_id:"

// Person is one cast or crew credit.
type Person struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// MovieRecord is one normalized listing item.
type MovieRecord struct {
	ID          string   `json:"id"`
	SiteID      string   `json:"siteId"`
	Name        string   `json:"name"`
	Poster      string   `json:"poster"`
	ReleaseYear string   `json:"releaseYear"`
	Description string   `json:"description,omitempty"`
	Cast        []Person `json:"cast,omitempty"`
	Crew        []Person `json:"crew,omitempty"`
	TrailerRef  string   `json:"trailerRef,omitempty"`
}

// HasCrossRef reports whether the record carries a resolved cross-reference id.
func (m MovieRecord) HasCrossRef() bool {
	return IsCrossRef(m.ID)
}

// WithID returns a copy of the record carrying id.
func (m MovieRecord) WithID(id string) MovieRecord {
	out := m
	out.ID = id
	out.Cast = append([]Person(nil), m.Cast...)
	out.Crew = append([]Person(nil), m.Crew...)
	return out
}

// StreamDescriptor describes one playable stream for a title.
type StreamDescriptor struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Trailer references a trailer video by source id.
type Trailer struct {
	Source string `json:"source"`
	Type   string `json:"type"`
}

// MetaRecord is the detail view served to addon clients.
type MetaRecord struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	Poster      string    `json:"poster,omitempty"`
	Background  string    `json:"background,omitempty"`
	PosterShape string    `json:"posterShape,omitempty"`
	ReleaseInfo string    `json:"releaseInfo,omitempty"`
	Description string    `json:"description,omitempty"`
	Cast        []string  `json:"cast,omitempty"`
	Director    []string  `json:"director,omitempty"`
	Writer      []string  `json:"writer,omitempty"`
	Trailers    []Trailer `json:"trailers,omitempty"`
}

// Preview is the compact catalog item served to addon clients.
type Preview struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Poster      string `json:"poster"`
	PosterShape string `json:"posterShape"`
	ReleaseInfo string `json:"releaseInfo,omitempty"`
}

// ToPreview converts the record to its catalog item.
func (m MovieRecord) ToPreview() Preview {
	return Preview{
		ID:          m.ID,
		Type:        "movie",
		Name:        m.Name,
		Poster:      m.Poster,
		PosterShape: "poster",
		ReleaseInfo: m.ReleaseYear,
	}
}

// ToMeta converts the record to its detail view under the requested id.
func (m MovieRecord) ToMeta(requestedID string) MetaRecord {
	id := requestedID
	if id == "" {
		id = m.ID
	}
	meta := MetaRecord{
		ID:          id,
		Type:        "movie",
		Name:        m.Name,
		Poster:      m.Poster,
		Background:  m.Poster,
		PosterShape: "poster",
		ReleaseInfo: m.ReleaseYear,
		Description: m.Description,
	}
	for _, p := range m.Cast {
		meta.Cast = append(meta.Cast, p.Name)
	}
	for _, p := range m.Crew {
		switch CrewRole(p.Role) {
		case "director":
			meta.Director = append(meta.Director, p.Name)
		case "writer":
			meta.Writer = append(meta.Writer, p.Name)
		}
	}
	if m.TrailerRef != "" {
		meta.Trailers = []Trailer{{Source: m.TrailerRef, Type: "Trailer"}}
	}
	return meta
}

// CrewRole maps a role label to "director", "writer", or "" for cast roles.
func CrewRole(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.HasPrefix(l, "director"):
		return "director"
	case strings.HasPrefix(l, "writer"):
		return "writer"
	default:
		return ""
	}
}

// Previews converts a record slice to catalog items.
func Previews(records []MovieRecord) []Preview {
	out := make([]Preview, 0, len(records))
	for _, r := range records {
		out = append(out, r.ToPreview())
	}
	return out
}
