package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writePolicyFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	return path
}

func TestFileSource_LoadOverridesDefaults(t *testing.T) {
	path := writePolicyFile(t, t.TempDir(), `
policy_id: team-strict
denied_modules: [os, pickle]
allow_recursion: true
limits:
  max_complexity: 25
reject_above: medium
`)

	s, err := NewFileSource(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer s.Close()

	p := s.Current()
	if p.PolicyID != "team-strict" {
		t.Errorf("PolicyID = %s, want team-strict", p.PolicyID)
	}
	if len(p.DeniedModules) != 2 {
		t.Errorf("DeniedModules = %v, want file list to replace defaults", p.DeniedModules)
	}
	if !p.AllowRecursion {
		t.Error("AllowRecursion = false, want true from file")
	}
	if p.Limits.MaxComplexity != 25 {
		t.Errorf("MaxComplexity = %d, want 25", p.Limits.MaxComplexity)
	}
	// Keys absent from the file keep their defaults.
	if p.Limits.MaxMemoryBytes != 512<<20 {
		t.Errorf("MaxMemoryBytes = %d, want default", p.Limits.MaxMemoryBytes)
	}
	if p.Version != 1 {
		t.Errorf("Version = %d, want 1 on first load", p.Version)
	}
}

func TestFileSource_ReloadBumpsVersion(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "policy_id: v1\n")

	s, err := NewFileSource(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer s.Close()

	writePolicyFile(t, dir, "policy_id: v2\n")
	s.reload()

	p := s.Current()
	if p.PolicyID != "v2" {
		t.Errorf("PolicyID = %s, want v2 after reload", p.PolicyID)
	}
	if p.Version != 2 {
		t.Errorf("Version = %d, want 2 after reload", p.Version)
	}
}

func TestFileSource_ReloadKeepsLastGoodPolicy(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "policy_id: good\n")

	s, err := NewFileSource(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer s.Close()

	writePolicyFile(t, dir, ":\nnot yaml: [\n")
	s.reload()

	if got := s.Current().PolicyID; got != "good" {
		t.Errorf("PolicyID = %s, want last good policy after broken reload", got)
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	if _, err := NewFileSource(filepath.Join(t.TempDir(), "absent.yaml"), zerolog.Nop()); err == nil {
		t.Fatal("NewFileSource on missing file = nil error, want error")
	}
}

func TestStaticSource(t *testing.T) {
	p := Permissive()
	if got := NewStaticSource(p).Current(); got.PolicyID != p.PolicyID {
		t.Errorf("Current().PolicyID = %s, want %s", got.PolicyID, p.PolicyID)
	}
}
