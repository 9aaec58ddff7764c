// Package manifest handles alioth.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents an alioth.toml configuration.
type Manifest struct {
	Analysis AnalysisConfig `toml:"analysis"`
	Cache    CacheConfig    `toml:"cache"`
	Jit      JitConfig      `toml:"jit"`
	Dump     DumpConfig     `toml:"dump"`

	// Dir is the directory containing the alioth.toml file (set at load time).
	Dir string `toml:"-"`
}

// AnalysisConfig bounds what the analyzer will attempt.
type AnalysisConfig struct {
	// MaxCodeBytes skips analysis for functions with larger code; they
	// compile fully boxed instead.
	MaxCodeBytes int `toml:"max-code-bytes"`
}

// CacheConfig configures the summary cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// JitConfig configures when a function becomes a compilation candidate.
type JitConfig struct {
	// HotThreshold is the call count at which a function is handed to
	// the analyzer.
	HotThreshold int64 `toml:"hot-threshold"`
}

// DumpConfig configures diagnostic output.
type DumpConfig struct {
	// Dir receives dot graphs and disassembly listings when set.
	Dir string `toml:"dir"`
}

// Default returns the configuration used when no alioth.toml exists.
func Default() *Manifest {
	return &Manifest{
		Analysis: AnalysisConfig{MaxCodeBytes: 1 << 16},
		Cache:    CacheConfig{Enabled: false, Path: ".alioth/cache.db"},
		Jit:      JitConfig{HotThreshold: 1000},
	}
}

// Load parses an alioth.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "alioth.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Jit.HotThreshold <= 0 {
		return nil, fmt.Errorf("%s: jit.hot-threshold must be positive", path)
	}
	if m.Analysis.MaxCodeBytes <= 0 {
		return nil, fmt.Errorf("%s: analysis.max-code-bytes must be positive", path)
	}

	return m, nil
}

// FindAndLoad walks up from startDir to find an alioth.toml file, then
// loads and returns the manifest. Returns the defaults if none is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "alioth.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

// CachePath returns the absolute path of the summary cache database.
func (m *Manifest) CachePath() string {
	if filepath.IsAbs(m.Cache.Path) || m.Dir == "" {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}
