// Package config loads the unfold configuration from YAML or TOML and maps
// it onto the options of each component.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mg52/unfold/internal/access"
	"github.com/mg52/unfold/internal/engine"
	"github.com/mg52/unfold/internal/logging"
	"github.com/mg52/unfold/internal/pkg/fuzzy"
	"github.com/mg52/unfold/internal/pkg/tokenize"
	"github.com/mg52/unfold/internal/ranking"
	"github.com/mg52/unfold/internal/updater"
	"github.com/mg52/unfold/internal/walker"
	"github.com/mg52/unfold/internal/watcher"
)

// Environment variables that override the file.
const (
	EnvDataDir  = "INDEX_DATA_DIR"
	EnvLogLevel = "UNFOLD_LOG_LEVEL"
	EnvRoots    = "UNFOLD_ROOTS" // list separated by os.PathListSeparator
	EnvAddr     = "UNFOLD_ADDR"
)

// Duration is a time.Duration written as a string such as "168h".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// IndexConfig selects what gets indexed and how names are tokenized.
type IndexConfig struct {
	Roots              []string `yaml:"roots" toml:"roots"`
	Recursive          bool     `yaml:"recursive" toml:"recursive"`
	IncludeHidden      bool     `yaml:"include_hidden" toml:"include_hidden"`
	IncludeDirs        bool     `yaml:"include_dirs" toml:"include_dirs"`
	ExcludedExtensions []string `yaml:"excluded_extensions" toml:"excluded_extensions"`
	ExcludedPaths      []string `yaml:"excluded_paths" toml:"excluded_paths"`

	Shards       int `yaml:"shards" toml:"shards"`
	BuildBatch   int `yaml:"build_batch" toml:"build_batch"`
	BuildWorkers int `yaml:"build_workers" toml:"build_workers"`

	CaseSensitive  bool     `yaml:"case_sensitive" toml:"case_sensitive"`
	NGramSize      int      `yaml:"ngram_size" toml:"ngram_size"`
	MinWordLength  int      `yaml:"min_word_length" toml:"min_word_length"`
	PathComponents bool     `yaml:"path_components" toml:"path_components"`
	StopExtensions []string `yaml:"stop_extensions" toml:"stop_extensions"`
}

// SearchConfig bounds query work and sets the fuzzy thresholds.
type SearchConfig struct {
	DefaultLimit   int     `yaml:"default_limit" toml:"default_limit"`
	CacheSize      int     `yaml:"cache_size" toml:"cache_size"`
	PrefixLimit    int     `yaml:"prefix_limit" toml:"prefix_limit"`
	FuzzyLimit     int     `yaml:"fuzzy_limit" toml:"fuzzy_limit"`
	MaxCandidates  int     `yaml:"max_candidates" toml:"max_candidates"`
	FuzzyHigh      float64 `yaml:"fuzzy_high" toml:"fuzzy_high"`
	FuzzyLow       float64 `yaml:"fuzzy_low" toml:"fuzzy_low"`
	MinFuzzyLength int     `yaml:"min_fuzzy_length" toml:"min_fuzzy_length"`
}

// RankingConfig holds the score coefficients.
type RankingConfig struct {
	Exact        float64            `yaml:"exact" toml:"exact"`
	StartsWith   float64            `yaml:"starts_with" toml:"starts_with"`
	Contains     float64            `yaml:"contains" toml:"contains"`
	FuzzyHigh    float64            `yaml:"fuzzy_high" toml:"fuzzy_high"`
	FuzzyLow     float64            `yaml:"fuzzy_low" toml:"fuzzy_low"`
	Alpha        float64            `yaml:"alpha" toml:"alpha"`
	Beta         float64            `yaml:"beta" toml:"beta"`
	DepthPenalty float64            `yaml:"depth_penalty" toml:"depth_penalty"`
	HalfLife     Duration           `yaml:"half_life" toml:"half_life"`
	Baseline     float64            `yaml:"baseline" toml:"baseline"`
	Extensions   map[string]float64 `yaml:"extension_bonus,omitempty" toml:"extension_bonus,omitempty"`
	Rules        []ranking.Rule     `yaml:"rules" toml:"rules"`
	// ContextRules adds ranking.ContextRules after Rules. Off by default,
	// leaving the type bonus at zero.
	ContextRules bool `yaml:"context_rules" toml:"context_rules"`
}

// WatchConfig configures live updates.
type WatchConfig struct {
	Enabled   bool     `yaml:"enabled" toml:"enabled"`
	Debounce  Duration `yaml:"debounce" toml:"debounce"`
	QueueSize int      `yaml:"queue_size" toml:"queue_size"`
	BatchSize int      `yaml:"batch_size" toml:"batch_size"`
	Window    Duration `yaml:"window" toml:"window"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string   `yaml:"addr" toml:"addr"`
	SearchRate   float64  `yaml:"search_rate" toml:"search_rate"` // searches per second
	SearchBurst  int      `yaml:"search_burst" toml:"search_burst"`
	ReadTimeout  Duration `yaml:"read_timeout" toml:"read_timeout"`
	SaveInterval Duration `yaml:"save_interval" toml:"save_interval"` // 0 saves only on shutdown
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text or json
}

// Config is the root configuration.
type Config struct {
	DataDir  string        `yaml:"data_dir" toml:"data_dir"`
	Snapshot string        `yaml:"snapshot" toml:"snapshot"` // file name under DataDir; .db selects SQLite
	Index    IndexConfig   `yaml:"index" toml:"index"`
	Search   SearchConfig  `yaml:"search" toml:"search"`
	Ranking  RankingConfig `yaml:"ranking" toml:"ranking"`
	Watch    WatchConfig   `yaml:"watch" toml:"watch"`
	Server   ServerConfig  `yaml:"server" toml:"server"`
	Log      LogConfig     `yaml:"log" toml:"log"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	w := ranking.DefaultWeights()
	th := fuzzy.DefaultThresholds()
	acc := access.DefaultOptions()
	tok := tokenize.DefaultOptions()
	wk := walker.DefaultOptions()
	up := updater.DefaultOptions()
	return &Config{
		DataDir:  "./data",
		Snapshot: "index.gob",
		Index: IndexConfig{
			Roots:              []string{"~"},
			Recursive:          wk.Recursive,
			IncludeDirs:        wk.IncludeDirs,
			ExcludedExtensions: wk.ExcludedExtensions,
			ExcludedPaths:      wk.ExcludedPaths,
			Shards:             8,
			BuildBatch:         1000,
			BuildWorkers:       runtime.NumCPU(),
			NGramSize:          tok.NGramSize,
			MinWordLength:      tok.MinWordLength,
		},
		Search: SearchConfig{
			DefaultLimit:   20,
			CacheSize:      1024,
			PrefixLimit:    64,
			FuzzyLimit:     32,
			MaxCandidates:  2000,
			FuzzyHigh:      th.High,
			FuzzyLow:       th.Low,
			MinFuzzyLength: th.MinLength,
		},
		Ranking: RankingConfig{
			Exact:        w.Exact,
			StartsWith:   w.StartsWith,
			Contains:     w.Contains,
			FuzzyHigh:    w.FuzzyHigh,
			FuzzyLow:     w.FuzzyLow,
			Alpha:        w.Alpha,
			Beta:         w.Beta,
			DepthPenalty: w.DepthPenalty,
			HalfLife:     Duration{acc.HalfLife},
			Baseline:     acc.Baseline,
		},
		Watch: WatchConfig{
			Enabled:   true,
			Debounce:  Duration{300 * time.Millisecond},
			QueueSize: up.QueueSize,
			BatchSize: up.BatchSize,
			Window:    Duration{up.Window},
		},
		Server: ServerConfig{
			Addr:        ":8080",
			SearchRate:  50,
			SearchBurst: 20,
			ReadTimeout: Duration{10 * time.Second},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the file at path over the defaults. The format follows the
// extension: .toml is TOML, anything else YAML. A missing file yields the
// defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	case isTOML(path):
		if err := decodeTOML(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./unfold.yaml, ./unfold.toml and then
// ~/.config/unfold/config.yaml. When none exists the defaults are written
// to the last location and returned.
func LoadDefault() (*Config, string, error) {
	for _, p := range []string{"unfold.yaml", "unfold.toml"} {
		if _, err := os.Stat(p); err == nil {
			cfg, err := Load(p)
			return cfg, p, err
		}
	}
	userPath, err := UserPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, Default()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// UserPath is the per-user configuration file.
func UserPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "unfold", "config.yaml"), nil
}

// Save writes cfg to path in the format its extension selects.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encode TOML config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("encode YAML config: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// decodeTOML decodes over cfg. The TOML decoder reuses the backing array of
// a slice it fills, so list fields start empty and get their default back
// only when the document leaves them out.
func decodeTOML(data string, cfg *Config) error {
	def := *cfg
	cfg.Index.Roots = nil
	cfg.Index.ExcludedExtensions = nil
	cfg.Index.ExcludedPaths = nil
	cfg.Index.StopExtensions = nil
	cfg.Ranking.Rules = nil

	md, err := toml.Decode(data, cfg)
	if err != nil {
		return err
	}
	restore(md, &cfg.Index.Roots, def.Index.Roots, "index", "roots")
	restore(md, &cfg.Index.ExcludedExtensions, def.Index.ExcludedExtensions, "index", "excluded_extensions")
	restore(md, &cfg.Index.ExcludedPaths, def.Index.ExcludedPaths, "index", "excluded_paths")
	restore(md, &cfg.Index.StopExtensions, def.Index.StopExtensions, "index", "stop_extensions")
	restore(md, &cfg.Ranking.Rules, def.Ranking.Rules, "ranking", "rules")
	return nil
}

func restore[T any](md toml.MetaData, dst *[]T, def []T, key ...string) {
	if !md.IsDefined(key...) {
		*dst = def
	}
}

func isTOML(path string) bool { return strings.EqualFold(filepath.Ext(path), ".toml") }

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvRoots); v != "" {
		c.Index.Roots = filepath.SplitList(v)
	}
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.Snapshot == "" {
		c.Snapshot = def.Snapshot
	}
	if c.Index.Shards == 0 {
		c.Index.Shards = def.Index.Shards
	}
	if c.Index.BuildBatch == 0 {
		c.Index.BuildBatch = def.Index.BuildBatch
	}
	if c.Index.BuildWorkers == 0 {
		c.Index.BuildWorkers = def.Index.BuildWorkers
	}
	if c.Search.DefaultLimit == 0 {
		c.Search.DefaultLimit = def.Search.DefaultLimit
	}
	if c.Search.PrefixLimit == 0 {
		c.Search.PrefixLimit = def.Search.PrefixLimit
	}
	if c.Search.FuzzyLimit == 0 {
		c.Search.FuzzyLimit = def.Search.FuzzyLimit
	}
	if c.Search.MaxCandidates == 0 {
		c.Search.MaxCandidates = def.Search.MaxCandidates
	}
	if c.Ranking.HalfLife.Duration == 0 {
		c.Ranking.HalfLife = def.Ranking.HalfLife
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.SearchBurst == 0 {
		c.Server.SearchBurst = def.Server.SearchBurst
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate checks the configuration, including everything the engine
// validates itself.
func (c *Config) Validate() error {
	if len(c.Index.Roots) == 0 {
		return errors.New("index.roots must list at least one directory")
	}
	if c.Search.DefaultLimit < 1 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Server.SearchRate < 0 {
		return fmt.Errorf("server.search_rate must not be negative, got %g", c.Server.SearchRate)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return c.Engine(nil).Validate()
}

// SnapshotPath is where the engine state is persisted.
func (c *Config) SnapshotPath() string {
	if filepath.IsAbs(c.Snapshot) {
		return c.Snapshot
	}
	return filepath.Join(c.DataDir, c.Snapshot)
}

// ExpandedRoots resolves a leading "~" in the configured roots.
func (c *Config) ExpandedRoots() []string {
	home, _ := os.UserHomeDir()
	out := make([]string, 0, len(c.Index.Roots))
	for _, r := range c.Index.Roots {
		if home != "" && (r == "~" || strings.HasPrefix(r, "~/")) {
			r = filepath.Join(home, strings.TrimPrefix(r, "~"))
		}
		out = append(out, r)
	}
	return out
}

// Engine maps the configuration onto engine.Config.
func (c *Config) Engine(logger *slog.Logger) engine.Config {
	ec := engine.DefaultConfig()
	ec.Shards = c.Index.Shards
	ec.BuildBatch = c.Index.BuildBatch
	ec.BuildWorkers = c.Index.BuildWorkers
	ec.Tokenizer = tokenize.Options{
		CaseSensitive:  c.Index.CaseSensitive,
		NGramSize:      c.Index.NGramSize,
		StopExtensions: c.Index.StopExtensions,
		MinWordLength:  c.Index.MinWordLength,
		PathComponents: c.Index.PathComponents,
	}
	ec.Thresholds = fuzzy.Thresholds{High: c.Search.FuzzyHigh, Low: c.Search.FuzzyLow, MinLength: c.Search.MinFuzzyLength}
	ec.CacheSize = c.Search.CacheSize
	ec.PrefixLimit = c.Search.PrefixLimit
	ec.FuzzyLimit = c.Search.FuzzyLimit
	ec.MaxCandidates = c.Search.MaxCandidates
	ec.Weights = ranking.Weights{
		Exact:        c.Ranking.Exact,
		StartsWith:   c.Ranking.StartsWith,
		Contains:     c.Ranking.Contains,
		FuzzyHigh:    c.Ranking.FuzzyHigh,
		FuzzyLow:     c.Ranking.FuzzyLow,
		Alpha:        c.Ranking.Alpha,
		Beta:         c.Ranking.Beta,
		DepthPenalty: c.Ranking.DepthPenalty,
	}
	rules := c.Ranking.Rules
	if c.Ranking.ContextRules {
		rules = append(slices.Clone(rules), ranking.ContextRules()...)
	}
	ec.Bonus = ranking.BonusTable{Extensions: c.Ranking.Extensions, Rules: rules}
	ec.Access = access.Options{HalfLife: c.Ranking.HalfLife.Duration, Baseline: c.Ranking.Baseline}
	ec.Logger = logger
	return ec
}

// Walker maps the configuration onto walker.Options.
func (c *Config) Walker(logger *slog.Logger) walker.Options {
	return walker.Options{
		Roots:              c.ExpandedRoots(),
		Recursive:          c.Index.Recursive,
		IncludeHidden:      c.Index.IncludeHidden,
		IncludeDirs:        c.Index.IncludeDirs,
		ExcludedExtensions: c.Index.ExcludedExtensions,
		ExcludedPaths:      c.Index.ExcludedPaths,
		Logger:             logger,
	}
}

// Updater maps the configuration onto updater.Options.
func (c *Config) Updater(logger *slog.Logger) updater.Options {
	return updater.Options{
		QueueSize: c.Watch.QueueSize,
		BatchSize: c.Watch.BatchSize,
		Window:    c.Watch.Window.Duration,
		Logger:    logger,
	}
}

// Watcher maps the configuration onto watcher.Options.
func (c *Config) Watcher(logger *slog.Logger) watcher.Options {
	return watcher.Options{
		Roots:     c.ExpandedRoots(),
		Recursive: c.Index.Recursive,
		Debounce:  c.Watch.Debounce.Duration,
		Logger:    logger,
	}
}
