package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"walletpass-service/internal/model"

	"gopkg.in/yaml.v3"
)

// Catalog is a read-only set of artist templates keyed by id.
type Catalog struct {
	artists map[string]model.ArtistTemplate
}

type catalogFile struct {
	Artists []model.ArtistTemplate `yaml:"artists"`
}

func New(templates []model.ArtistTemplate) (*Catalog, error) {
	c := &Catalog{artists: make(map[string]model.ArtistTemplate, len(templates))}
	for _, t := range templates {
		id := strings.TrimSpace(t.ArtistID)
		if id == "" {
			return nil, fmt.Errorf("artist template without id")
		}
		if _, dup := c.artists[id]; dup {
			return nil, fmt.Errorf("duplicate artist id %q", id)
		}
		t.ArtistID = id
		c.artists[id] = t
	}
	return c, nil
}

// Default returns the built-in demo catalog.
func Default() *Catalog {
	c, _ := New(defaultTemplates)
	return c
}

// Load reads a YAML catalog from path, or returns the built-in catalog when
// path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artist catalog: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse artist catalog: %w", err)
	}
	if len(file.Artists) == 0 {
		return nil, fmt.Errorf("artist catalog is empty")
	}
	return New(file.Artists)
}

func (c *Catalog) GetArtist(artistID string) (*model.ArtistTemplate, bool) {
	t, ok := c.artists[artistID]
	if !ok {
		return nil, false
	}
	return &t, true
}

// IDs lists the artist ids in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.artists))
	for id := range c.artists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var defaultTemplates = []model.ArtistTemplate{
	{
		ArtistID:        "aurora-waves",
		DisplayName:     "Aurora Waves",
		TierName:        "Inner Circle",
		LogoURL:         "https://assets.example.com/artists/aurora-waves/logo.png",
		HeroImageURL:    "https://assets.example.com/artists/aurora-waves/hero.png",
		BackgroundColor: "rgb(18,24,64)",
		ForegroundColor: "rgb(255,255,255)",
	},
	{
		ArtistID:        "midnight-echo",
		DisplayName:     "Midnight Echo",
		TierName:        "Backstage",
		LogoURL:         "https://assets.example.com/artists/midnight-echo/logo.png",
		HeroImageURL:    "https://assets.example.com/artists/midnight-echo/hero.png",
		BackgroundColor: "rgb(12,12,12)",
		ForegroundColor: "rgb(230,200,90)",
	},
	{
		ArtistID:        "solar-flare",
		DisplayName:     "Solar Flare",
		TierName:        "Front Row",
		LogoURL:         "https://assets.example.com/artists/solar-flare/logo.png",
		HeroImageURL:    "https://assets.example.com/artists/solar-flare/hero.png",
		BackgroundColor: "rgb(250,120,30)",
		ForegroundColor: "rgb(20,20,20)",
	},
}
