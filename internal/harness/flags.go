package harness

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// IgnoreRemainingArgs separates libFuzzer's own options from the harness
// options.
const IgnoreRemainingArgs = "-ignore_remaining_args=1"

// flagValues holds the harness command line.
type flagValues struct {
	triple     string
	opt        string
	cpu        string
	attr       string
	march      string
	config     string
	traceLevel  string
	tracePath   string
	traceFormat string
	traceMode   string
}

// harnessArgs returns the arguments after IgnoreRemainingArgs or, when it
// is absent, after a literal "--". Without either separator nothing is
// parsed.
func harnessArgs(args []string) []string {
	for i, a := range args {
		if a == IgnoreRemainingArgs {
			return args[i+1:]
		}
	}
	for i, a := range args {
		if a == "--" {
			return args[i+1:]
		}
	}
	return nil
}

// normalizeArgs rewrites the single dash spelling used by libFuzzer and
// llc ("-mtriple=x", "-O2") into the double dash form pflag expects.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case a == "-" || !strings.HasPrefix(a, "-") || strings.HasPrefix(a, "--"):
			out = append(out, a)
		case strings.HasPrefix(a, "-O") && len(a) > 2 && a[2] != '=':
			out = append(out, "--O="+a[2:])
		default:
			out = append(out, "-"+a)
		}
	}
	return out
}

func newFlagSet(name string, v *flagValues) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	fs.StringVar(&v.triple, "mtriple", "", "target triple to generate code for (required)")
	fs.StringVar(&v.opt, "O", "2", "optimization level: 0, 1, 2 or 3")
	fs.StringVar(&v.cpu, "mcpu", "", "target CPU")
	fs.StringVar(&v.attr, "mattr", "", "target features, e.g. +sse4.2,-avx")
	fs.StringVar(&v.march, "march", "", "architecture overriding the triple")
	fs.StringVar(&v.config, "config", "", "path to an iselfuzz.toml file")
	fs.StringVar(&v.traceLevel, "trace-level", "phase", "trace level: off|error|phase|detail|debug")
	fs.StringVar(&v.tracePath, "trace", "", "stream trace events to a file (\"-\" for stderr)")
	fs.StringVar(&v.traceFormat, "trace-format", "auto", "trace output format: auto|text|ndjson|chrome")
	fs.StringVar(&v.traceMode, "trace-mode", "", "trace storage: stream|ring|both (default ring, both with -trace)")
	return fs
}

// parseFlags parses the harness portion of argv.
func parseFlags(name string, args []string) (*flagValues, *pflag.FlagSet, error) {
	v := &flagValues{}
	fs := newFlagSet(name, v)
	if err := fs.Parse(normalizeArgs(args)); err != nil {
		return nil, nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return nil, nil, fmt.Errorf("unexpected argument %q", rest[0])
	}
	return v, fs, nil
}

// Usage returns the harness option summary.
func Usage() string {
	return newFlagSet("iselfuzz", &flagValues{}).FlagUsages()
}
