package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Location is the user's chosen area for finding shows.
type Location struct {
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	RadiusKm float64 `json:"radiusKm"`
}

// Preferences is everything the client keeps between runs.  Selection,
// holds and UI flags are per session and never persisted.
type Preferences struct {
	UserID   string    `json:"userId,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// DefaultPreferencesPath is seatctl/preferences.json under the user's
// config directory.
func DefaultPreferencesPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "seatctl", "preferences.json"), nil
}

// LoadPreferences reads path.  A missing file yields empty preferences.
func LoadPreferences(path string) (Preferences, error) {
	var p Preferences
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return Preferences{}, fmt.Errorf("preferences %s: %w", path, err)
	}
	return p, nil
}

// SavePreferences writes p to path atomically.
func SavePreferences(path string, p Preferences) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
