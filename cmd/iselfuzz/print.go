package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"iselfuzz/internal/ir"
)

var printCmd = &cobra.Command{
	Use:   "print <input>...",
	Short: "Print inputs as textual IR",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verify, err := cmd.Flags().GetBool("verify")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, path := range args {
			m, err := readModule(path)
			if err != nil {
				return err
			}
			if len(args) > 1 {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "; %s\n", path)
			}
			if err := ir.Print(out, m); err != nil {
				return err
			}
			if verify {
				if err := ir.Verify(m); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
		}
		return nil
	},
}

func init() {
	printCmd.Flags().Bool("verify", false, "fail when a module does not verify")
}
