// Package config loads iselfuzz.toml, the optional file holding target,
// mutator and driver settings. Command-line flags override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"iselfuzz/internal/mutate"
	"iselfuzz/internal/target"
)

// FileName is the name searched for by Find.
const FileName = "iselfuzz.toml"

// Config is the decoded file.
type Config struct {
	Target  TargetConfig  `toml:"target"`
	Mutator MutatorConfig `toml:"mutator"`
	Run     RunConfig     `toml:"run"`
}

type TargetConfig struct {
	Triple   string `toml:"triple"`
	Arch     string `toml:"arch"`
	CPU      string `toml:"cpu"`
	Features string `toml:"features"`
	Opt      string `toml:"opt"`
}

type MutatorConfig struct {
	Types      []string `toml:"types"`
	Strategies []string `toml:"strategies"`
}

type RunConfig struct {
	Workers     int    `toml:"workers"`
	MaxLen      int    `toml:"max_len"`
	Runs        int64  `toml:"runs"`
	Seed        int64  `toml:"seed"`
	Corpus      string `toml:"corpus"`
	Crashers    string `toml:"crashers"`
	MetricsAddr string `toml:"metrics_addr"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Target: TargetConfig{Opt: "2"},
		Mutator: MutatorConfig{
			Types:      append([]string(nil), mutate.DefaultTypeNames...),
			Strategies: []string{mutate.StrategyInject, mutate.StrategyDelete},
		},
		Run: RunConfig{
			Workers:  4,
			MaxLen:   4096,
			Corpus:   "corpus",
			Crashers: "crashers",
		},
	}
}

// Load decodes path on top of Default. Unknown keys are errors.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("mutator", "types") && len(cfg.Mutator.Types) == 0 {
		return Config{}, fmt.Errorf("%s: [mutator].types is empty", path)
	}
	if meta.IsDefined("mutator", "strategies") && len(cfg.Mutator.Strategies) == 0 {
		return Config{}, fmt.Errorf("%s: [mutator].strategies is empty", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Find walks up from startDir looking for FileName.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Validate checks value ranges and names. All problems are reported.
func (c Config) Validate() error {
	var errs []error
	if c.Target.Opt != "" {
		if _, err := target.ParseOptLevel(c.Target.Opt); err != nil {
			errs = append(errs, fmt.Errorf("[target].opt: %w", err))
		}
	}
	if _, err := target.ParseFeatures(c.Target.Features); err != nil {
		errs = append(errs, fmt.Errorf("[target].features: %w", err))
	}
	types, err := mutate.ParseTypes(c.Mutator.Types)
	if err != nil {
		errs = append(errs, fmt.Errorf("[mutator].types: %w", err))
	}
	if _, err := mutate.ParseStrategies(c.Mutator.Strategies, types); err != nil {
		errs = append(errs, fmt.Errorf("[mutator].strategies: %w", err))
	}
	if c.Run.Workers < 1 {
		errs = append(errs, fmt.Errorf("[run].workers must be positive, got %d", c.Run.Workers))
	}
	if c.Run.MaxLen < 2 {
		errs = append(errs, fmt.Errorf("[run].max_len must be at least 2, got %d", c.Run.MaxLen))
	}
	if c.Run.Runs < 0 {
		errs = append(errs, fmt.Errorf("[run].runs must not be negative, got %d", c.Run.Runs))
	}
	return errors.Join(errs...)
}
