package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "alioth.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write alioth.toml: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[analysis]
max-code-bytes = 4096

[cache]
enabled = true
path = "build/cache.db"

[jit]
hot-threshold = 50

[dump]
dir = "out"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Analysis.MaxCodeBytes != 4096 {
		t.Errorf("max-code-bytes: got %d, want 4096", m.Analysis.MaxCodeBytes)
	}
	if !m.Cache.Enabled {
		t.Error("cache should be enabled")
	}
	if m.Jit.HotThreshold != 50 {
		t.Errorf("hot-threshold: got %d, want 50", m.Jit.HotThreshold)
	}
	if m.Dump.Dir != "out" {
		t.Errorf("dump dir: got %q, want out", m.Dump.Dir)
	}
	want := filepath.Join(m.Dir, "build/cache.db")
	if m.CachePath() != want {
		t.Errorf("cache path: got %q, want %q", m.CachePath(), want)
	}
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[jit]
hot-threshold = 5
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Default()
	if m.Analysis.MaxCodeBytes != d.Analysis.MaxCodeBytes {
		t.Errorf("max-code-bytes default: got %d, want %d", m.Analysis.MaxCodeBytes, d.Analysis.MaxCodeBytes)
	}
	if m.Jit.HotThreshold != 5 {
		t.Errorf("hot-threshold: got %d, want 5", m.Jit.HotThreshold)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[jit]
hot-threshold = 0
`)
	if _, err := Load(dir); err == nil {
		t.Error("zero hot-threshold should be rejected")
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("missing alioth.toml should error")
	}
}

func TestFindAndLoad_WalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `
[jit]
hot-threshold = 7
`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m.Jit.HotThreshold != 7 {
		t.Errorf("hot-threshold: got %d, want 7", m.Jit.HotThreshold)
	}
}

func TestFindAndLoad_DefaultsWhenAbsent(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m.Jit.HotThreshold != Default().Jit.HotThreshold {
		t.Error("absent manifest should yield defaults")
	}
}
