package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the agent's settings. All fields are optional; zero values
// fall back to the defaults below.
type Config struct {
	// ListenAddr is the address the HTTP server listens on.
	ListenAddr string `yaml:"listenAddr"`

	// BaseDir is the default working directory for commands that don't
	// specify one.
	BaseDir string `yaml:"baseDir"`

	// WorkspaceDir is the default directory for browsing and uploads, and the
	// filesystem whose usage the disk endpoint reports.
	WorkspaceDir string `yaml:"workspaceDir"`

	// ArtifactsDir is the directory served by the files endpoints. Defaults
	// to <workspaceDir>/artifacts.
	ArtifactsDir string `yaml:"artifactsDir"`

	// JobTTLSeconds is how long terminal jobs are retained before eviction.
	JobTTLSeconds int `yaml:"jobTTLSeconds"`

	// DefaultTimeoutSeconds bounds commands that don't specify a timeout.
	DefaultTimeoutSeconds int `yaml:"defaultTimeoutSeconds"`

	// StreamPollIntervalMS is how often the output stream re-checks a job for
	// new lines.
	StreamPollIntervalMS int `yaml:"streamPollIntervalMS"`

	// DenyPatterns are extra regexp patterns appended to the built-in
	// command deny-list.
	DenyPatterns []string `yaml:"denyPatterns"`
}

// DefaultConfig returns the agent defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:            "0.0.0.0:8080",
		BaseDir:               "/",
		WorkspaceDir:          "/workspace",
		JobTTLSeconds:         3600,
		DefaultTimeoutSeconds: 1200,
		StreamPollIntervalMS:  300,
	}
}

// LoadConfig reads a YAML config file, applying defaults for absent fields.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.BaseDir == "" {
		c.BaseDir = def.BaseDir
	}
	if c.WorkspaceDir == "" {
		c.WorkspaceDir = def.WorkspaceDir
	}
	if c.ArtifactsDir == "" {
		c.ArtifactsDir = filepath.Join(c.WorkspaceDir, "artifacts")
	}
	if c.JobTTLSeconds <= 0 {
		c.JobTTLSeconds = def.JobTTLSeconds
	}
	if c.DefaultTimeoutSeconds <= 0 {
		c.DefaultTimeoutSeconds = def.DefaultTimeoutSeconds
	}
	if c.StreamPollIntervalMS <= 0 {
		c.StreamPollIntervalMS = def.StreamPollIntervalMS
	}
	return c
}
