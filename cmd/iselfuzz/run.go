package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"iselfuzz/internal/config"
	"iselfuzz/internal/driver"
	"iselfuzz/internal/harness"
	"iselfuzz/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <harness options>",
	Short: "Fuzz the code generator with the built-in driver",
	Long: `run mutates corpus entries with the harness and compiles every result.
Accepted inputs are added to the corpus; inputs that crash the code
generator are written to the crash directory before the process aborts.`,
	RunE: runFuzz,
}

func init() {
	f := runCmd.Flags()
	f.Int("workers", 0, "parallel workers (default from config)")
	f.Int64("runs", 0, "iterations before stopping, 0 runs until interrupted")
	f.Int("max-len", 0, "maximum input size in bytes")
	f.Int64("seed", 0, "seed of the worker random sources")
	f.String("corpus", "", "corpus directory")
	f.String("crashers", "", "crash directory")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.String("ui", "auto", "progress UI (auto|on|off)")
}

// runOptions merges the run flags over the [run] section.
func runOptions(cmd *cobra.Command, rc config.RunConfig) (driver.Options, error) {
	f := cmd.Flags()
	var err error
	get := func(name string, into any) {
		if err != nil || !f.Changed(name) {
			return
		}
		switch p := into.(type) {
		case *int:
			*p, err = f.GetInt(name)
		case *int64:
			*p, err = f.GetInt64(name)
		case *string:
			*p, err = f.GetString(name)
		}
	}
	get("workers", &rc.Workers)
	get("runs", &rc.Runs)
	get("max-len", &rc.MaxLen)
	get("seed", &rc.Seed)
	get("corpus", &rc.Corpus)
	get("crashers", &rc.Crashers)
	get("metrics-addr", &rc.MetricsAddr)
	if err != nil {
		return driver.Options{}, err
	}
	hb, err := cmd.Root().PersistentFlags().GetDuration("trace-heartbeat")
	if err != nil {
		return driver.Options{}, err
	}
	return driver.Options{
		Workers:     rc.Workers,
		Runs:        rc.Runs,
		MaxLen:      rc.MaxLen,
		Seed:        rc.Seed,
		CorpusDir:   rc.Corpus,
		CrashDir:    rc.Crashers,
		MetricsAddr: rc.MetricsAddr,
		Heartbeat:   hb,
	}, nil
}

func useTUI(cmd *cobra.Command) (bool, error) {
	mode, err := cmd.Flags().GetString("ui")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		return isTerminal(os.Stdout), nil
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid --ui value %q (expected auto|on|off)", mode)
	}
}

func runFuzz(cmd *cobra.Command, args []string) error {
	if rest := positional(cmd, args); len(rest) > 0 {
		return fmt.Errorf("unexpected argument %q (harness options go after --)", rest[0])
	}
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := runOptions(cmd, cfg.Run)
	if err != nil {
		return err
	}
	tui, err := useTUI(cmd)
	if err != nil {
		return err
	}

	var progress chan driver.Stats
	if tui {
		progress = make(chan driver.Stats, 16)
		opts.Progress = progress
	}
	d, err := driver.New(opts)
	if err != nil {
		return err
	}
	h, err := openHarness(cmd, args, harness.WithOnFatal(d.HandleFatal))
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	title := fmt.Sprintf("fuzzing %s", h.Target())
	var stats driver.Stats
	if tui {
		stats, err = runWithUI(ctx, title, opts.Runs, d, h, progress)
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s (session %s)\n", title, d.Session())
		stats, err = d.Run(ctx, h)
	}
	printSummary(cmd.OutOrStdout(), stats)
	return err
}

type runOutcome struct {
	stats driver.Stats
	err   error
}

// runWithUI runs the driver while a Bubble Tea program renders progress.
// Quitting the UI stops the run.
func runWithUI(ctx context.Context, title string, runs int64, d *driver.Driver, h *harness.Harness, progress chan driver.Stats) (driver.Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	outcomeCh := make(chan runOutcome, 1)
	go func() {
		s, err := d.Run(ctx, h)
		outcomeCh <- runOutcome{stats: s, err: err}
		close(progress)
	}()

	program := tea.NewProgram(ui.NewProgressModel(title, runs, progress), tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	cancel()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.stats, uiErr
	}
	return outcome.stats, outcome.err
}

var (
	summaryLabel = color.New(color.Bold)
	summaryCrash = color.New(color.FgRed, color.Bold)
)

func printSummary(out io.Writer, s driver.Stats) {
	rows := [][2]string{
		{"session", s.Session},
		{"iterations", fmt.Sprintf("%d in %s (%.0f/s)", s.Execs, s.Elapsed.Round(1e6), s.ExecsPerSec())},
		{"accepted", fmt.Sprint(s.Accepted)},
		{"rejected", fmt.Sprint(s.Rejected)},
		{"oversize", fmt.Sprint(s.Empty)},
		{"corpus", fmt.Sprint(s.Corpus)},
		{"crashes", fmt.Sprint(s.Crashes)},
	}
	width := 0
	for _, r := range rows {
		width = max(width, runewidth.StringWidth(r[0]))
	}
	for _, r := range rows {
		label := runewidth.FillRight(r[0], width)
		if r[0] == "crashes" && s.Crashes > 0 {
			fmt.Fprintf(out, "%s  %s\n", summaryLabel.Sprint(label), summaryCrash.Sprint(r[1]))
			continue
		}
		fmt.Fprintf(out, "%s  %s\n", summaryLabel.Sprint(label), r[1])
	}
}
