package engine

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/mg52/unfold/internal/access"
	"github.com/mg52/unfold/internal/pkg/fuzzy"
	"github.com/mg52/unfold/internal/pkg/tokenize"
	"github.com/mg52/unfold/internal/ranking"
)

// Config holds every tunable of the engine. Start from DefaultConfig.
type Config struct {
	Shards     int // number of posting shards
	Tokenizer  tokenize.Options
	Thresholds fuzzy.Thresholds
	Weights    ranking.Weights
	Bonus      ranking.BonusTable
	Access     access.Options

	CacheSize     int // result cache entries, 0 disables the cache
	PrefixLimit   int // index terms expanded per query token by prefix
	FuzzyLimit    int // typo candidate terms per query token
	MaxCandidates int // n-gram candidates kept per query token

	BuildBatch   int // records per bulk build commit
	BuildWorkers int // tokenizing goroutines during a bulk build

	Logger *slog.Logger
	Clock  func() time.Time
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Shards:        8,
		Tokenizer:     tokenize.DefaultOptions(),
		Thresholds:    fuzzy.DefaultThresholds(),
		Weights:       ranking.DefaultWeights(),
		Access:        access.DefaultOptions(),
		CacheSize:     1024,
		PrefixLimit:   64,
		FuzzyLimit:    32,
		MaxCandidates: 2000,
		BuildBatch:    1000,
		BuildWorkers:  runtime.NumCPU(),
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Shards < 1:
		return fmt.Errorf("%w: shards must be positive, got %d", ErrInvalidArgument, c.Shards)
	case !c.Thresholds.Valid():
		return fmt.Errorf("%w: fuzzy thresholds %+v", ErrInvalidArgument, c.Thresholds)
	case c.Access.HalfLife <= 0:
		return fmt.Errorf("%w: access half-life must be positive", ErrInvalidArgument)
	case c.Access.Baseline < 0:
		return fmt.Errorf("%w: access baseline must not be negative", ErrInvalidArgument)
	case c.PrefixLimit < 1 || c.FuzzyLimit < 1 || c.MaxCandidates < 1:
		return fmt.Errorf("%w: candidate limits must be positive", ErrInvalidArgument)
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.BuildBatch < 1 {
		c.BuildBatch = 1000
	}
	if c.BuildWorkers < 1 {
		c.BuildWorkers = 1
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}
