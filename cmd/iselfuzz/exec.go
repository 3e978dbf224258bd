package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"iselfuzz/internal/codegen"
	"iselfuzz/internal/driver"
	"iselfuzz/internal/ir"
	"iselfuzz/internal/irpack"
	"iselfuzz/internal/observ"
)

var execCmd = &cobra.Command{
	Use:   "exec <input>... -- <harness options>",
	Short: "Run TestOneInput on saved inputs",
	Long: `exec feeds each file to TestOneInput, the way libFuzzer replays a
crash. An input that triggers a code generator defect aborts the process.
With --meta the crash record saved by "iselfuzz run" is printed first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := positional(cmd, args)
		if len(files) == 0 {
			return fmt.Errorf("no inputs given")
		}
		showMeta, err := cmd.Flags().GetBool("meta")
		if err != nil {
			return fmt.Errorf("failed to get meta flag: %w", err)
		}
		h, err := openHarness(cmd, args)
		if err != nil {
			return err
		}
		defer h.Close()

		out := cmd.OutOrStdout()
		rejected := 0
		for _, path := range files {
			if showMeta {
				if err := printCrashMeta(out, path); err != nil {
					return err
				}
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			status := "ok"
			if h.TestOneInput(data) != 0 {
				status = "rejected"
				rejected++
			}
			fmt.Fprintf(out, "%s: %s (%d bytes)\n", path, status, len(data))
		}
		if rejected > 0 {
			return fmt.Errorf("%d of %d inputs rejected", rejected, len(files))
		}
		return nil
	},
}

var compileCmd = &cobra.Command{
	Use:   "compile <input> -- <harness options>",
	Short: "Print the assembly generated for an input",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := positional(cmd, args)
		if len(files) != 1 {
			return fmt.Errorf("expected exactly one input, got %d", len(files))
		}
		timings, err := cmd.Flags().GetBool("timings")
		if err != nil {
			return err
		}
		h, err := openHarness(cmd, args)
		if err != nil {
			return err
		}
		defer h.Close()

		m, err := readModule(files[0])
		if err != nil {
			return err
		}
		if err := ir.Verify(m); err != nil {
			return fmt.Errorf("%s: input module is broken: %w", files[0], err)
		}
		m.TargetTriple = h.Target().Triple
		m.DataLayout = h.Target().DataLayout

		timer := observ.NewTimer()
		p := codegen.New(h.Target(), cmd.OutOrStdout(), codegen.WithTimer(timer), codegen.WithTracer(h.Tracer(), 0))
		if err := p.Run(m); err != nil {
			return err
		}
		if timings {
			fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
			s := p.Stats()
			fmt.Fprintf(cmd.ErrOrStderr(), "functions %d, machine instructions %d, libcalls %d, spills %d, frame bytes %d\n",
				s.Funcs, s.MInstrs, s.Libcalls, s.Spills, s.FrameBytes)
		}
		return nil
	},
}

func init() {
	execCmd.Flags().Bool("meta", false, "print the crash record saved next to each input")
	compileCmd.Flags().Bool("timings", false, "print pass timings to stderr")
}

// printCrashMeta prints the record saved next to a crashing input. Inputs
// without a record are reported as such.
func printCrashMeta(w io.Writer, path string) error {
	meta, err := driver.LoadCrashMeta(path)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(w, "%s: no crash record\n", path)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: crashed %s\n", path, meta.Time.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  session %s, worker %d, seed %d\n", meta.Session, meta.Worker, meta.Seed)
	fmt.Fprintf(w, "  target  %s cpu=%s -%s\n", meta.Triple, meta.CPU, meta.Opt)
	fmt.Fprintf(w, "  message %s\n", meta.Message)
	return nil
}

// readModule decodes a file without verifying it.
func readModule(path string) (*ir.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := irpack.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
