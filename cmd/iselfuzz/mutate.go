package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"iselfuzz/internal/irpack"
)

var mutateCmd = &cobra.Command{
	Use:   "mutate [input] -- <harness options>",
	Short: "Apply CustomMutate to an input and write the result",
	Long: `mutate runs CustomMutate --count times with consecutive seeds starting
at --seed. Without an input it starts from an empty module. The result is
written to --out, or printed as IR when --out is not set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files := positional(cmd, args)
		if len(files) > 1 {
			return fmt.Errorf("expected at most one input, got %d", len(files))
		}
		f := cmd.Flags()
		seed, err := f.GetUint32("seed")
		if err != nil {
			return err
		}
		count, err := f.GetInt("count")
		if err != nil {
			return err
		}
		maxLen, err := f.GetInt("max-len")
		if err != nil {
			return err
		}
		outPath, err := f.GetString("out")
		if err != nil {
			return err
		}

		h, err := openHarness(cmd, args)
		if err != nil {
			return err
		}
		defer h.Close()

		buf := make([]byte, maxLen)
		size := 0
		if len(files) == 1 {
			data, err := os.ReadFile(files[0])
			if err != nil {
				return err
			}
			if len(data) > maxLen {
				return fmt.Errorf("%s: %d bytes exceed --max-len %d", files[0], len(data), maxLen)
			}
			size = copy(buf, data)
		}
		for i := 0; i < count; i++ {
			n := h.CustomMutate(buf, size, maxLen, seed+uint32(i))
			if n == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "seed %d: result exceeds %d bytes, keeping the previous input\n", seed+uint32(i), maxLen)
				continue
			}
			size = n
		}

		if outPath != "" {
			return os.WriteFile(outPath, buf[:size], 0o644)
		}
		m, err := irpack.Decode(buf[:size])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), m)
		return nil
	},
}

func init() {
	f := mutateCmd.Flags()
	f.Uint32("seed", 0, "first mutation seed")
	f.Int("count", 1, "number of mutations")
	f.Int("max-len", 4096, "maximum result size in bytes")
	f.StringP("out", "o", "", "write the encoded result to file")
}
