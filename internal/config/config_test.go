package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
[target]
triple = "riscv64-unknown-elf"
cpu = "sifive-u74"
opt = "O3"

[mutator]
types = ["i32", "double"]

[run]
workers = 2
metrics_addr = "127.0.0.1:9100"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Target.Triple != "riscv64-unknown-elf" || cfg.Target.CPU != "sifive-u74" || cfg.Target.Opt != "O3" {
		t.Errorf("target = %+v", cfg.Target)
	}
	if strings.Join(cfg.Mutator.Types, ",") != "i32,double" {
		t.Errorf("types = %v", cfg.Mutator.Types)
	}
	if len(cfg.Mutator.Strategies) != 2 {
		t.Errorf("strategies lost their default: %v", cfg.Mutator.Strategies)
	}
	if cfg.Run.Workers != 2 || cfg.Run.MaxLen != 4096 || cfg.Run.MetricsAddr != "127.0.0.1:9100" {
		t.Errorf("run = %+v", cfg.Run)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"syntax", "[target\n", "failed to parse TOML"},
		{"unknown key", "[target]\ntripel = \"x\"\n", "unknown keys: target.tripel"},
		{"opt level", "[target]\nopt = \"5\"\n", "[target].opt"},
		{"features", "[target]\nfeatures = \"sse2\"\n", "[target].features"},
		{"type", "[mutator]\ntypes = [\"i128\"]\n", "[mutator].types"},
		{"empty types", "[mutator]\ntypes = []\n", "[mutator].types is empty"},
		{"strategy", "[mutator]\nstrategies = [\"splice\"]\n", "[mutator].strategies"},
		{"workers", "[run]\nworkers = 0\n", "[run].workers"},
		{"max_len", "[run]\nmax_len = 1\n", "[run].max_len"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, t.TempDir(), tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Run.Workers = 0
	cfg.Run.Runs = -1
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "workers") || !strings.Contains(err.Error(), "runs") {
		t.Fatalf("Validate = %v", err)
	}
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	want := writeFile(t, root, "")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	got, ok, err := Find(nested)
	if err != nil || !ok || got != want {
		t.Fatalf("Find = %q, %v, %v; want %q", got, ok, err, want)
	}
}
