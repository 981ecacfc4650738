// Package config provides configuration management for calcgraph.
//
// Config file locations (priority order):
//  1. $CALCGRAPH_CONFIG
//  2. ./calcgraph.yaml
//  3. ~/.config/calcgraph/config.yaml
//
// A missing file is not an error: defaults are used instead.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/calcgraph-go/internal/evaluator"
	"github.com/Benny93/calcgraph-go/internal/graph"
	"github.com/Benny93/calcgraph-go/internal/storage"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "CALCGRAPH_CONFIG"

// Config is the on-disk configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Layout    graph.Layout    `yaml:"layout"`
	Canvas    CanvasConfig    `yaml:"canvas"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
}

// StorageConfig selects where the canvas is persisted.
type StorageConfig struct {
	Backend storage.Kind `yaml:"backend"`
	DataDir string       `yaml:"data_dir"`
}

// CanvasConfig holds graph behavior settings.
type CanvasConfig struct {
	// Palette lists connection colors as ARGB integers.
	Palette []graph.Color `yaml:"palette"`

	// MatchTolerance is used when guessing the operator of a derived node.
	MatchTolerance string `yaml:"match_tolerance"`
}

// EvaluatorConfig mirrors evaluator.Options.
type EvaluatorConfig struct {
	GroupingSeparator string `yaml:"grouping_separator"`
	DecimalSeparator  string `yaml:"decimal_separator"`
	Precision         int    `yaml:"precision"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load finds and loads the config file, or returns defaults if none found.
// The returned path is empty when defaults are used.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	// Keys absent from the file keep their defaults.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// FindConfigPath returns the first existing config file, or "".
func FindConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}

	candidates := []string{"calcgraph.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "calcgraph", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Save writes config to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyDefaults fills in missing values with defaults.
func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = storage.KindBadger
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = ".calcgraph"
	}

	if c.Layout == (graph.Layout{}) {
		c.Layout = graph.DefaultLayout()
	}

	if len(c.Canvas.Palette) == 0 {
		c.Canvas.Palette = append([]graph.Color(nil), graph.DefaultPalette...)
	}
	if c.Canvas.MatchTolerance == "" {
		c.Canvas.MatchTolerance = graph.DefaultMatchTolerance.String()
	}

	if c.Evaluator.DecimalSeparator == "" {
		c.Evaluator.DecimalSeparator = "."
	}
	if c.Evaluator.Precision == 0 {
		c.Evaluator.Precision = evaluator.DefaultPrecision
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case storage.KindBadger, storage.KindSQLite, storage.KindMemory:
	default:
		return fmt.Errorf("invalid storage backend %q", c.Storage.Backend)
	}
	if c.Layout.Spacing <= 0 {
		return fmt.Errorf("layout spacing must be positive")
	}
	if c.Layout.ColumnTolerance < 0 {
		return fmt.Errorf("layout column tolerance must not be negative")
	}
	if _, err := c.Tolerance(); err != nil {
		return err
	}
	if c.Evaluator.GroupingSeparator != "" && c.Evaluator.GroupingSeparator == c.Evaluator.DecimalSeparator {
		return fmt.Errorf("grouping and decimal separators must differ")
	}
	for _, color := range c.Canvas.Palette {
		if color == 0 {
			return fmt.Errorf("palette colors must be non-zero")
		}
	}
	return nil
}

// Tolerance parses the operator match tolerance.
func (c *Config) Tolerance() (decimal.Decimal, error) {
	t, err := decimal.NewFromString(c.Canvas.MatchTolerance)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid match tolerance %q: %w", c.Canvas.MatchTolerance, err)
	}
	if t.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("match tolerance must not be negative")
	}
	return t, nil
}

// EvaluatorOptions converts the evaluator section.
func (c *Config) EvaluatorOptions() evaluator.Options {
	return evaluator.Options{
		GroupingSeparator: c.Evaluator.GroupingSeparator,
		DecimalSeparator:  c.Evaluator.DecimalSeparator,
		Precision:         c.Evaluator.Precision,
	}
}

// CanvasOptions converts the layout and canvas sections.
func (c *Config) CanvasOptions() ([]graph.Option, error) {
	tol, err := c.Tolerance()
	if err != nil {
		return nil, err
	}
	return []graph.Option{
		graph.WithLayout(c.Layout),
		graph.WithPalette(c.Canvas.Palette),
		graph.WithMatchTolerance(tol),
	}, nil
}
