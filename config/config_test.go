package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsApplyWithNoYamlOrEnv(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxFileSizeBytes != 10485760 {
		t.Fatalf("expected default max file size, got %d", cfg.MaxFileSizeBytes)
	}
	if cfg.SessionDirName != ".nts" {
		t.Fatalf("expected default session dir .nts, got %q", cfg.SessionDirName)
	}
	if len(cfg.ProtectedNames) == 0 {
		t.Fatalf("expected default protected names to be populated")
	}
}

func TestLoad_YamlValuesAreLayeredIn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "roots:\n  - /proj\njournal_max_entries: 7\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Roots) != 1 || cfg.Roots[0] != "/proj" {
		t.Fatalf("expected roots from yaml, got %v", cfg.Roots)
	}
	if cfg.JournalMaxEntries != 7 {
		t.Fatalf("expected journal_max_entries from yaml, got %d", cfg.JournalMaxEntries)
	}
}

func TestLoad_EnvOverridesYaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("journal_max_entries: 7\n"), 0o644)

	t.Setenv("FILECORE_JOURNAL_MAX_ENTRIES", "99")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.JournalMaxEntries != 99 {
		t.Fatalf("expected env override to win, got %d", cfg.JournalMaxEntries)
	}
}

func TestLoad_MissingYamlPathIsNotAnError(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err != nil {
		t.Fatalf("expected a missing yaml file to be tolerated, got %v", err)
	}
}
