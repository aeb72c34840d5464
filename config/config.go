// Package config loads the sandbox, journal, and logging configuration
// that every other filecore package depends on. Environment variables
// are the primary source (caarlos0/env, following the pack's convention),
// with an optional YAML file layered underneath for defaults that are
// awkward to express as env vars (the protected-name list, in
// particular).
package config

import (
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"filecore/internal/logging"
)

// Config is the full set of tunables for a filecore process. Fields are
// populated first from a YAML file (if an explicit path is passed to
// Load) and then overridden by environment variables,
// matching the layering picoclaw's config loader uses.
type Config struct {
	// Roots is the initial sandbox root set. The first entry is primary.
	Roots []string `yaml:"roots" env:"FILECORE_ROOTS" envSeparator:","`

	// ProtectedNames are path segments the sandbox denies unless a caller
	// explicitly opts in with allowProtected=true.
	ProtectedNames []string `yaml:"protected_names" env:"FILECORE_PROTECTED_NAMES" envSeparator:","`

	// MaxFileSizeBytes bounds checkFileSize; default 10 MiB.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes" env:"FILECORE_MAX_FILE_SIZE_BYTES" envDefault:"10485760"`

	// JournalMaxEntries bounds each per-session UNDO/REDO stack.
	JournalMaxEntries int `yaml:"journal_max_entries" env:"FILECORE_JOURNAL_MAX_ENTRIES" envDefault:"50"`

	// SessionDirName is the directory segment under the primary root that
	// holds all session state, e.g. ".nts".
	SessionDirName string `yaml:"session_dir_name" env:"FILECORE_SESSION_DIR" envDefault:".nts"`

	// RefreshCooldownSeconds rate-limits the sandbox's root-refresh callback.
	RefreshCooldownSeconds int `yaml:"refresh_cooldown_seconds" env:"FILECORE_REFRESH_COOLDOWN_SECONDS" envDefault:"5"`

	// DeepSearchMaxFiles bounds lineage.deepSearchByContentHash.
	DeepSearchMaxFiles int `yaml:"deep_search_max_files" env:"FILECORE_DEEP_SEARCH_MAX_FILES" envDefault:"5000"`

	// LogLevel is one of debug|info|warn|error.
	LogLevel string `yaml:"log_level" env:"FILECORE_LOG_LEVEL" envDefault:"info"`
}

// DefaultProtectedNames mirrors the infrastructure directories/files the
// teacher's path-skip logic treats as non-project content.
func DefaultProtectedNames() []string {
	return []string{
		".git", ".hg", ".svn",
		"node_modules", "vendor", "__pycache__", ".venv", "venv",
		".nts",
	}
}

// Load reads yamlPath (if non-empty and present) then applies environment
// overrides. A missing yamlPath is not an error; a malformed one is.
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{ProtectedNames: DefaultProtectedNames()}

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	applyLogLevel(cfg.LogLevel)
	return cfg, nil
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		logging.SetDefaultLevel(logging.LevelDebug)
	case "warn":
		logging.SetDefaultLevel(logging.LevelWarn)
	case "error":
		logging.SetDefaultLevel(logging.LevelError)
	default:
		logging.SetDefaultLevel(logging.LevelInfo)
	}
}
