package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"iselfuzz/internal/target"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List registered targets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		verbose, err := cmd.Flags().GetBool("verbose")
		if err != nil {
			return err
		}
		printTargets(cmd.OutOrStdout(), target.Archs(), verbose)
		return nil
	},
}

func init() {
	targetsCmd.Flags().BoolP("verbose", "v", false, "also list CPUs and features")
}

func printTargets(out io.Writer, archs []*target.Arch, verbose bool) {
	width := 0
	for _, a := range archs {
		width = max(width, runewidth.StringWidth(a.Name))
	}
	fmt.Fprintln(out, "Registered Targets:")
	for _, a := range archs {
		fmt.Fprintf(out, "  %s - %s\n", runewidth.FillRight(a.Name, width), a.Desc)
		if !verbose {
			continue
		}
		pad := strings.Repeat(" ", width+5)
		if len(a.Aliases) > 0 {
			fmt.Fprintf(out, "%saliases:  %s\n", pad, strings.Join(a.Aliases, ", "))
		}
		fmt.Fprintf(out, "%spointer:  %d bits, stack align %d\n", pad, a.PtrBits, a.StackAlign)
		fmt.Fprintf(out, "%scpus:     %s\n", pad, strings.Join(a.CPUNames(), ", "))
		if len(a.Features) > 0 {
			fmt.Fprintf(out, "%sfeatures: %s\n", pad, strings.Join(a.Features, ", "))
		}
	}
}
