package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferencesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")

	p, err := LoadPreferences(path)
	require.NoError(t, err)
	assert.Equal(t, Preferences{}, p)

	want := Preferences{UserID: "21", Location: &Location{Name: "Pune", Lat: 18.52, Lon: 73.85, RadiusKm: 10}}
	require.NoError(t, SavePreferences(path, want))

	got, err := LoadPreferences(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPreferencesCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := LoadPreferences(path)
	assert.Error(t, err)
}
