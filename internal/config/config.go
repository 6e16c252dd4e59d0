// Package config loads vkclusterctl's YAML configuration file into the
// options internal/cluster needs to connect (spec.md §4.J), the way the
// teacher's internal/config package loads its migration configuration:
// Load -> ApplyDefaults -> Validate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is vkclusterctl's on-disk configuration, one-to-one with
// spec.md §4.J's option struct.
type Config struct {
	InitialNodes          []string `yaml:"initialNodes"`
	UseClusterNodes       bool     `yaml:"useClusterNodes"`
	UseReplicas           bool     `yaml:"useReplicas"`
	BlockingInitialUpdate bool     `yaml:"blockingInitialUpdate"`
	ConnectTimeout        Duration `yaml:"connectTimeout"`
	CommandTimeout        Duration `yaml:"commandTimeout"`
	Username              string   `yaml:"username"`
	Password              string   `yaml:"password"`
	SelectDB              int      `yaml:"selectDb"`
	MaxRetry              int      `yaml:"maxRetry"`

	path string
}

// Duration wraps time.Duration so the YAML file can spell out "5s"
// rather than a raw nanosecond integer.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Value() time.Duration { return time.Duration(d) }

// ValidationError collects configuration issues, reported together
// rather than failing on the first one (the teacher's config package
// does the same so a user fixes everything in one pass).
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("config validation failed")
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
	}
	for _, err := range e.Errors {
		b.WriteString("\n - ")
		b.WriteString(err)
	}
	return b.String()
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config: empty path")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", absPath, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", absPath, err)
	}
	cfg.path = absPath
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in spec.md §4.J's stated defaults (max_retry
// defaults to 5; timeouts default to 5s).
func (c *Config) ApplyDefaults() {
	if c.MaxRetry == 0 {
		c.MaxRetry = 5
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = Duration(5 * time.Second)
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = Duration(5 * time.Second)
	}
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	var errs []string
	if len(c.InitialNodes) == 0 {
		errs = append(errs, "initialNodes must list at least one host:port seed")
	}
	for _, addr := range c.InitialNodes {
		if !strings.Contains(addr, ":") {
			errs = append(errs, fmt.Sprintf("initialNodes entry %q is missing a port", addr))
		}
	}
	if c.MaxRetry < 0 {
		errs = append(errs, "maxRetry must be >= 0")
	}
	if c.SelectDB < 0 {
		errs = append(errs, "selectDb must be >= 0")
	}
	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}

// Summary returns a one-line overview of the loaded settings.
func (c *Config) Summary() string {
	return fmt.Sprintf("nodes=%v useClusterNodes=%t useReplicas=%t maxRetry=%d connectTimeout=%s commandTimeout=%s",
		c.InitialNodes, c.UseClusterNodes, c.UseReplicas, c.MaxRetry,
		c.ConnectTimeout.Value(), c.CommandTimeout.Value())
}
