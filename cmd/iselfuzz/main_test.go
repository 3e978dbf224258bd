package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"iselfuzz/internal/driver"
	"iselfuzz/internal/target"
)

func TestHarnessArgvForwardsArgsAfterDash(t *testing.T) {
	root := &cobra.Command{Use: "iselfuzz"}
	root.PersistentFlags().String("trace", "", "")
	root.PersistentFlags().String("trace-level", "", "")
	var gotArgv, gotPos []string
	sub := &cobra.Command{
		Use: "exec",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			gotArgv, err = harnessArgv(cmd, args)
			gotPos = positional(cmd, args)
			return err
		},
	}
	root.AddCommand(sub)
	root.SetArgs([]string{"--trace-level=debug", "exec", "a.bin", "b.bin", "--", "-mtriple=aarch64", "-O1"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(gotArgv, " "); got != "iselfuzz -- -mtriple=aarch64 -O1 -trace-level=debug" {
		t.Fatalf("argv = %q", got)
	}
	if strings.Join(gotPos, ",") != "a.bin,b.bin" {
		t.Fatalf("positional = %v", gotPos)
	}
}

func TestPrintTargets(t *testing.T) {
	var out bytes.Buffer
	printTargets(&out, target.Archs(), true)
	text := out.String()
	for _, want := range []string{"Registered Targets:", "x86_64", "aarch64", "riscv64", "cpus:", "generic"} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
}

func TestPrintCrashMeta(t *testing.T) {
	dir := t.TempDir()
	store, err := driver.OpenCrashStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	path, err := store.Save([]byte("ISL\x01crash"), driver.CrashMeta{
		Session: "run-1",
		Worker:  2,
		Seed:    77,
		Triple:  "aarch64-unknown-linux-gnu",
		CPU:     "generic",
		Opt:     "O3",
		Message: "Cannot select: frem double",
	})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := printCrashMeta(&out, path); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"session run-1, worker 2, seed 77", "aarch64-unknown-linux-gnu cpu=generic -O3", "Cannot select: frem double"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := printCrashMeta(&out, filepath.Join(dir, "missing")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no crash record") {
		t.Fatalf("output = %q", out.String())
	}
}
