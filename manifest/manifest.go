// Package manifest handles fern.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a fern.toml project configuration.
type Manifest struct {
	Project   Project    `toml:"project"`
	Source    Source     `toml:"source"`
	Store     Store      `toml:"store"`
	Constants []Constant `toml:"constants"`

	// Dir is the directory containing the fern.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures script locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// Store configures the module store location.
type Store struct {
	Path string `toml:"path"`
}

// Constant is one entry of the host integer-constant table handed to the
// runtime, where it shadow-falls-through globals lookup.
type Constant struct {
	Name  string `toml:"name"`
	Value int32  `toml:"value"`
}

// Load parses a fern.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "fern.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	m.Dir = dir

	return &m, nil
}

// FindAndLoad walks up from startDir looking for a fern.toml file and loads
// the first one found. Returns nil with no error when no manifest exists.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "fern.toml")); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// StorePath returns the configured module store location, or the default
// .fern/modules.db under the project directory.
func (m *Manifest) StorePath() string {
	if m.Store.Path != "" {
		if filepath.IsAbs(m.Store.Path) {
			return m.Store.Path
		}
		return filepath.Join(m.Dir, m.Store.Path)
	}
	return filepath.Join(m.Dir, ".fern", "modules.db")
}

// EntryPath returns the entry script's path joined onto the manifest
// directory (absolute entries are returned as given), or "" when none is
// configured. The result is absolute only when the entry or Dir is.
func (m *Manifest) EntryPath() string {
	if m.Source.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Source.Entry) {
		return m.Source.Entry
	}
	return filepath.Join(m.Dir, m.Source.Entry)
}
