package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	artist, ok := c.GetArtist("aurora-waves")
	require.True(t, ok)
	assert.Equal(t, "Aurora Waves", artist.DisplayName)
	assert.Equal(t, "Inner Circle", artist.TierName)

	_, ok = c.GetArtist("nobody")
	assert.False(t, ok)

	assert.Equal(t, []string{"aurora-waves", "midnight-echo", "solar-flare"}, c.IDs())
}

func TestGetArtistReturnsCopy(t *testing.T) {
	c := Default()

	artist, _ := c.GetArtist("solar-flare")
	artist.DisplayName = "changed"

	again, _ := c.GetArtist("solar-flare")
	assert.Equal(t, "Solar Flare", again.DisplayName)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artists.yaml")
	content := `
artists:
  - id: the-lovelaces
    display_name: The Lovelaces
    tier_name: Analytical
    logo_url: https://cdn.example.com/logo.png
    hero_image_url: https://cdn.example.com/hero.png
    background_color: rgb(0,0,0)
    foreground_color: rgb(255,255,255)
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	artist, ok := c.GetArtist("the-lovelaces")
	require.True(t, ok)
	assert.Equal(t, "The Lovelaces", artist.DisplayName)
	assert.Equal(t, "Analytical", artist.TierName)

	_, ok = c.GetArtist("aurora-waves")
	assert.False(t, ok, "file catalog replaces the built-in one")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid yaml", "artists: [unclosed"},
		{"empty", "artists: []"},
		{"missing id", "artists:\n  - display_name: X\n"},
		{"duplicate id", "artists:\n  - id: a\n  - id: a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadEmptyPathUsesDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Len(t, c.IDs(), 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
