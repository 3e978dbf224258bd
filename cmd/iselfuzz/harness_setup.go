package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"iselfuzz/internal/config"
	"iselfuzz/internal/harness"
)

// loadConfig reads --config, or the nearest iselfuzz.toml when the flag is
// unset. Without a file the defaults apply.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return config.Config{}, "", fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		found, ok, err := config.Find(".")
		if err != nil {
			return config.Config{}, "", err
		}
		if !ok {
			return config.Default(), "", nil
		}
		path = found
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, "", err
	}
	return cfg, path, nil
}

// harnessArgv builds the argv handed to harness.Initialize: the harness
// options after "--" on the command line plus the persistent trace flags.
func harnessArgv(cmd *cobra.Command, args []string) ([]string, error) {
	argv := []string{cmd.Root().Name(), "--"}
	if at := cmd.ArgsLenAtDash(); at >= 0 {
		argv = append(argv, args[at:]...)
	}
	pf := cmd.Root().PersistentFlags()
	for _, name := range []string{"trace", "trace-level", "trace-format", "trace-mode"} {
		if !pf.Changed(name) {
			continue
		}
		v, err := pf.GetString(name)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s flag: %w", name, err)
		}
		argv = append(argv, "-"+name+"="+v)
	}
	return argv, nil
}

// positional returns the arguments before "--".
func positional(cmd *cobra.Command, args []string) []string {
	if at := cmd.ArgsLenAtDash(); at >= 0 {
		return args[:at]
	}
	return args
}

// openHarness initializes the harness for a command. Harness errors are
// already printed by Initialize.
func openHarness(cmd *cobra.Command, args []string, opts ...harness.Option) (*harness.Harness, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	argv, err := harnessArgv(cmd, args)
	if err != nil {
		return nil, err
	}
	opts = append([]harness.Option{harness.WithConfig(cfg)}, opts...)
	return harness.Initialize(argv, os.Stderr, opts...)
}
