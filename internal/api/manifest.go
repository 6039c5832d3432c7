package api

import (
	"fmt"
	"strings"
)

// Addon identity advertised in manifests.
const (
	AddonID   = "org.einthusan.catalog"
	AddonName = "EinthusanTV"
)

// Version is stamped at build time.
var Version = "1.0.0"

// Manifest is the addon descriptor clients install.
type Manifest struct {
	ID            string         `json:"id"`
	Version       string         `json:"version"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Resources     []string       `json:"resources"`
	Types         []string       `json:"types"`
	IDPrefixes    []string       `json:"idPrefixes"`
	Catalogs      []CatalogEntry `json:"catalogs"`
	BehaviorHints BehaviorHints  `json:"behaviorHints"`
}

// CatalogEntry advertises one catalog.
type CatalogEntry struct {
	Type  string       `json:"type"`
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Extra []ExtraEntry `json:"extra,omitempty"`
}

// ExtraEntry advertises one catalog parameter.
type ExtraEntry struct {
	Name       string `json:"name"`
	IsRequired bool   `json:"isRequired"`
}

// BehaviorHints tell clients whether the addon needs configuring first.
type BehaviorHints struct {
	Configurable          bool `json:"configurable"`
	ConfigurationRequired bool `json:"configurationRequired"`
}

func baseManifest() Manifest {
	return Manifest{
		ID:          AddonID,
		Version:     Version,
		Name:        AddonName,
		Description: "Movies from the Einthusan catalog with cross-referenced metadata.",
		Resources:   []string{"catalog", "meta", "stream"},
		Types:       []string{"movie"},
		IDPrefixes:  []string{"tt", "einthusan_id:", "site:"},
		Catalogs:    []CatalogEntry{},
		BehaviorHints: BehaviorHints{
			Configurable: true,
		},
	}
}

// RootManifest is served before a language has been chosen.
func RootManifest() Manifest {
	m := baseManifest()
	m.BehaviorHints.ConfigurationRequired = true
	return m
}

// LanguageManifest carries the catalog of one language.
func LanguageManifest(lang string) Manifest {
	m := baseManifest()
	m.ID = AddonID + "." + lang
	m.Catalogs = []CatalogEntry{{
		Type: "movie",
		ID:   lang,
		Name: fmt.Sprintf("%s - %s", AddonName, lang),
		Extra: []ExtraEntry{
			{Name: "search"},
			{Name: "skip"},
		},
	}}
	return m
}

// catalogLanguage maps a catalog id ("hindi" or "hindimovies") to its language.
func catalogLanguage(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.TrimSuffix(id, "movies")
}
