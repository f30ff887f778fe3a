// Package prefs persists user preferences in a small SQLite key/value
// table: the chosen engine, the last viewport, the UI theme and an API key.
//
// Loads never fail. A missing or corrupt value falls back to the default
// and corruption is logged.
package prefs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/types"
	_ "modernc.org/sqlite" // SQLite driver
)

// Keys of the stored preferences.
const (
	KeyEngine   = "engine"
	KeyViewport = "viewport"
	KeyTheme    = "theme"
	KeyAPIKey   = "api_key"
)

// Themes.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Store is a preference store backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// Open opens or creates the preference database at path. ":memory:" gives a
// private in-memory store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, path: path, logger: logger.With("component", "prefs")}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS prefs (
			name TEXT NOT NULL PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

func (s *Store) set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO prefs (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var value string
	err := s.db.QueryRow("SELECT value FROM prefs WHERE name = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("failed to read preference", "op", "load", "key", key, "error", err)
		return "", false
	}
	return value, true
}

// Delete removes key. Removing a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM prefs WHERE name = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) corrupt(key, value string, err error) {
	s.logger.Warn("ignoring corrupt preference", "op", "load", "key", key, "value", value, "error", err)
}

// SaveEngine stores the engine name, lower-cased.
func (s *Store) SaveEngine(name string) error {
	return s.set(KeyEngine, strings.ToLower(strings.TrimSpace(name)))
}

// LoadEngine returns the stored engine name or "".
func (s *Store) LoadEngine() string {
	v, ok := s.get(KeyEngine)
	if !ok {
		return ""
	}
	return v
}

// viewportRecord is the stored JSON shape of a viewport.
type viewportRecord struct {
	Center  [2]float64 `json:"center"`
	Zoom    float64    `json:"zoom"`
	Bearing float64    `json:"bearing,omitempty"`
	Pitch   float64    `json:"pitch,omitempty"`
}

// SaveViewport stores vp. Zoom is canonical.
func (s *Store) SaveViewport(vp types.Viewport) error {
	data, err := json.Marshal(viewportRecord{
		Center:  [2]float64{vp.Center.Lon(), vp.Center.Lat()},
		Zoom:    vp.Zoom,
		Bearing: vp.Bearing,
		Pitch:   vp.Pitch,
	})
	if err != nil {
		return fmt.Errorf("failed to encode viewport: %w", err)
	}
	return s.set(KeyViewport, string(data))
}

// LoadViewport returns the stored viewport. ok is false when nothing usable
// is stored.
func (s *Store) LoadViewport() (types.Viewport, bool) {
	v, ok := s.get(KeyViewport)
	if !ok {
		return types.Viewport{}, false
	}
	var rec viewportRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		s.corrupt(KeyViewport, v, err)
		return types.Viewport{}, false
	}
	lng, lat := rec.Center[0], rec.Center[1]
	if math.IsNaN(lng) || math.IsNaN(lat) || lng < -180 || lng > 180 || lat < -90 || lat > 90 || rec.Zoom < 0 || rec.Zoom > 24 {
		s.corrupt(KeyViewport, v, errors.New("viewport out of range"))
		return types.Viewport{}, false
	}
	return types.Viewport{
		Center:  types.LngLat{lng, lat},
		Zoom:    rec.Zoom,
		Bearing: rec.Bearing,
		Pitch:   rec.Pitch,
	}, true
}

// SaveTheme stores the UI theme.
func (s *Store) SaveTheme(theme string) error {
	if theme != ThemeLight && theme != ThemeDark {
		return fmt.Errorf("unknown theme %q", theme)
	}
	return s.set(KeyTheme, theme)
}

// LoadTheme returns the stored theme, or ThemeLight.
func (s *Store) LoadTheme() string {
	v, ok := s.get(KeyTheme)
	if !ok {
		return ThemeLight
	}
	if v != ThemeLight && v != ThemeDark {
		s.corrupt(KeyTheme, v, errors.New("unknown theme"))
		return ThemeLight
	}
	return v
}

// SaveAPIKey stores a tile provider API key.
func (s *Store) SaveAPIKey(key string) error {
	return s.set(KeyAPIKey, key)
}

// LoadAPIKey returns the stored API key or "".
func (s *Store) LoadAPIKey() string {
	v, _ := s.get(KeyAPIKey)
	return v
}
