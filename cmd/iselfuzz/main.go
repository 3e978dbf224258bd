package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"iselfuzz/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "iselfuzz",
	Short: "Structure-aware fuzzer for instruction selection",
	Long: `iselfuzz mutates IR modules and compiles them for a target to find
code generator defects. Harness options follow a "--", for example:

  iselfuzz run --runs 10000 -- -mtriple=aarch64-linux-gnu -O2`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := applyColorMode(cmd); err != nil {
			return err
		}
		cleanup, err := setupProfiling(cmd)
		if err != nil {
			return err
		}
		profileCleanup = cleanup
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if profileCleanup != nil {
			profileCleanup()
		}
	},
}

var profileCleanup func()

// main registers the subcommands and global flags and executes the root
// command. A command error exits with status 1.
func main() {
	rootCmd.Version = version.String()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(mutateCmd)
	rootCmd.AddCommand(printCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(versionCmd)

	pf := rootCmd.PersistentFlags()
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.String("config", "", "path to iselfuzz.toml (searched upwards from the working directory when unset)")
	pf.String("trace", "", "stream trace events to a file (\"-\" for stderr)")
	pf.String("trace-level", "", "trace level (off|error|phase|detail|debug)")
	pf.String("trace-format", "", "trace output format (auto|text|ndjson|chrome)")
	pf.String("trace-mode", "", "trace storage (stream|ring|both)")
	pf.Duration("trace-heartbeat", 0, "heartbeat interval for long runs (0 disables)")
	pf.String("cpu-profile", "", "write a CPU profile to file")
	pf.String("mem-profile", "", "write a heap profile to file on exit")
	pf.String("runtime-trace", "", "write a Go runtime trace to file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func applyColorMode(cmd *cobra.Command) error {
	mode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		color.NoColor = !isTerminal(os.Stdout)
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
	}
	return nil
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
