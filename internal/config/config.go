// Package config reads config.yaml directly from the broker's base
// directory, bypassing any process-wide configuration singleton. This
// mirrors the teacher's internal/config.LoadLocalConfigWithEnv rather
// than its primary viper-backed internal/config.Initialize()/Get*
// singleton: see DESIGN.md's "Dropped / not-wired dependencies" entry
// for why viper itself was not pulled in for a ~20s-lived, one-shot
// process. Proper YAML parsing handles comments and indentation that
// ad-hoc parsing would miss, and environment variables always take
// precedence over the file.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the subset of config.yaml the broker reads.
type Config struct {
	DeadlineMs                  int64   `yaml:"deadline_ms"`
	StalenessThresholdMinutes   float64 `yaml:"staleness_threshold_minutes"`
	TranscriptReadCeilingBytes  int64   `yaml:"transcript_read_ceiling_bytes"`
	NoColor                     bool    `yaml:"no_color"`
	NoEmoji                     bool    `yaml:"no_emoji"`
}

// defaults mirrors the values used when config.yaml is absent or a
// field is unset, so zero-value YAML fields don't silently disable a
// feature the operator never meant to touch.
func defaults() Config {
	return Config{
		DeadlineMs:                 20_000,
		StalenessThresholdMinutes:  10,
		TranscriptReadCeilingBytes: 8 << 20,
	}
}

// Load reads config.yaml from baseDir. A missing or unparsable file
// yields the defaults rather than an error: a corrupt config must never
// stop the broker from gathering.
func Load(baseDir string) *Config {
	cfg := defaults()

	data, err := os.ReadFile(filepath.Join(baseDir, "config.yaml")) // #nosec G304 - path derived from the operator-configured base dir
	if err != nil {
		return &cfg
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return &cfg
	}

	if fileCfg.DeadlineMs > 0 {
		cfg.DeadlineMs = fileCfg.DeadlineMs
	}
	if fileCfg.StalenessThresholdMinutes > 0 {
		cfg.StalenessThresholdMinutes = fileCfg.StalenessThresholdMinutes
	}
	if fileCfg.TranscriptReadCeilingBytes > 0 {
		cfg.TranscriptReadCeilingBytes = fileCfg.TranscriptReadCeilingBytes
	}
	cfg.NoColor = fileCfg.NoColor
	cfg.NoEmoji = fileCfg.NoEmoji

	return &cfg
}

// LoadWithEnv reads config.yaml via Load and applies environment
// overrides, which always win over the file.
//
// Supported environment variables:
//   - STATUSLINE_DEADLINE_MS
//   - STATUSLINE_STALENESS_THRESHOLD_MINUTES
//   - STATUSLINE_TRANSCRIPT_READ_CEILING_BYTES
//   - NO_COLOR (any value disables color; see internal/term)
//   - STATUSLINE_NO_EMOJI
func LoadWithEnv(baseDir string) *Config {
	cfg := Load(baseDir)

	if v := os.Getenv("STATUSLINE_DEADLINE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.DeadlineMs = n
		}
	}
	if v := os.Getenv("STATUSLINE_STALENESS_THRESHOLD_MINUTES"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.StalenessThresholdMinutes = n
		}
	}
	if v := os.Getenv("STATUSLINE_TRANSCRIPT_READ_CEILING_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.TranscriptReadCeilingBytes = n
		}
	}
	if _, set := os.LookupEnv("NO_COLOR"); set {
		cfg.NoColor = true
	}
	if os.Getenv("STATUSLINE_NO_EMOJI") == "1" {
		cfg.NoEmoji = true
	}

	return cfg
}
