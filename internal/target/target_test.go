package target

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"x86_64-unknown-linux-gnu", "x86_64-unknown-linux-gnu"},
		{"x86_64-linux-gnu", "x86_64-unknown-linux-gnu"},
		{"AArch64-Linux", "aarch64-unknown-linux"},
		{"riscv64-unknown-elf", "riscv64-unknown-unknown-elf"},
		{"armv7-none-eabihf", "armv7-unknown-none-eabihf"},
		{"i686-pc-windows-msvc", "i686-pc-windows-msvc"},
		{"arm64-apple-macos", "arm64-apple-macos"},
		{"riscv32", "riscv32-unknown-unknown"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseOptLevel(t *testing.T) {
	for in, want := range map[string]OptLevel{"0": OptNone, "O1": OptLess, "-O2": OptDefault, "3": OptAggressive} {
		got, err := ParseOptLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseOptLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, in := range []string{"4", "", "fast", "-O", "22"} {
		if _, err := ParseOptLevel(in); !errors.Is(err, ErrBadOptLevel) {
			t.Errorf("ParseOptLevel(%q) error = %v, want ErrBadOptLevel", in, err)
		}
	}
}

func TestParseFeatures(t *testing.T) {
	got, err := ParseFeatures("+avx2, -sse4.2,,+soft-float")
	if err != nil {
		t.Fatal(err)
	}
	want := []Feature{{"avx2", true}, {"sse4.2", false}, {"soft-float", true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("features mismatch (-want +got):\n%s", diff)
	}
	if _, err := ParseFeatures("avx"); !errors.Is(err, ErrBadFeature) {
		t.Fatalf("expected ErrBadFeature, got %v", err)
	}
}

func TestNewResolvesTarget(t *testing.T) {
	tgt, err := New(Config{Triple: "x86_64-linux-gnu", CPU: "haswell", Features: "-avx2,+bogus", OptLevel: OptAggressive})
	if err != nil {
		t.Fatal(err)
	}
	if tgt.Triple != "x86_64-unknown-linux-gnu" {
		t.Errorf("Triple = %q", tgt.Triple)
	}
	if tgt.Arch.Name != "x86_64" || tgt.PtrBits() != 64 {
		t.Errorf("unexpected arch %s/%d", tgt.Arch.Name, tgt.PtrBits())
	}
	if !tgt.HasFeature("avx") || tgt.HasFeature("avx2") {
		t.Errorf("feature set = %v", tgt.EnabledFeatures())
	}
	if len(tgt.Warnings) != 1 || !strings.Contains(tgt.Warnings[0], "bogus") {
		t.Errorf("warnings = %v", tgt.Warnings)
	}
	if tgt.DataLayout == "" {
		t.Errorf("missing data layout")
	}
	if got := tgt.String(); !strings.Contains(got, "cpu=haswell") || !strings.HasSuffix(got, "O3") {
		t.Errorf("String() = %q", got)
	}
}

func TestNewMArchOverride(t *testing.T) {
	tgt, err := New(Config{Triple: "x86_64-unknown-linux-gnu", Arch: "arm64"})
	if err != nil {
		t.Fatal(err)
	}
	if tgt.Arch.Name != "aarch64" || tgt.Triple != "aarch64-unknown-linux-gnu" {
		t.Fatalf("override produced %s / %s", tgt.Arch.Name, tgt.Triple)
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"empty triple", Config{}, ErrUnknownTarget},
		{"unknown arch", Config{Triple: "z80-unknown-none"}, ErrUnknownTarget},
		{"unknown march", Config{Triple: "x86_64-linux-gnu", Arch: "vax"}, ErrUnknownTarget},
		{"opt level", Config{Triple: "x86_64-linux-gnu", OptLevel: 7}, ErrBadOptLevel},
		{"feature syntax", Config{Triple: "x86_64-linux-gnu", Features: "sse2"}, ErrBadFeature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, tt.want) {
				t.Fatalf("New error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		cfg                        Config
		hardFloat, hardDouble, div bool
	}{
		{Config{Triple: "x86_64-linux-gnu"}, true, true, true},
		{Config{Triple: "x86_64-linux-gnu", Features: "+soft-float"}, false, false, true},
		{Config{Triple: "riscv64-unknown-elf"}, false, false, false},
		{Config{Triple: "riscv32-unknown-elf", CPU: "sifive-e76"}, true, false, true},
		{Config{Triple: "armv7-none-eabi", CPU: "cortex-a9"}, true, true, false},
	}
	for _, tt := range tests {
		tgt, err := New(tt.cfg)
		if err != nil {
			t.Fatalf("%+v: %v", tt.cfg, err)
		}
		if tgt.HardFloat() != tt.hardFloat || tgt.HardDouble() != tt.hardDouble || tgt.HardDiv() != tt.div {
			t.Errorf("%s: float=%v double=%v div=%v", tgt, tgt.HardFloat(), tgt.HardDouble(), tgt.HardDiv())
		}
	}
}

func TestArchsSorted(t *testing.T) {
	archs := Archs()
	for i := 1; i < len(archs); i++ {
		if archs[i-1].Name >= archs[i].Name {
			t.Fatalf("archs not sorted: %s before %s", archs[i-1].Name, archs[i].Name)
		}
	}
	for _, a := range archs {
		if len(a.LegalInts) == 0 || a.DataLayout == "" {
			t.Errorf("%s: incomplete description", a.Name)
		}
		if names := a.CPUNames(); names[0] != "generic" {
			t.Errorf("%s: CPUNames()[0] = %s", a.Name, names[0])
		}
	}
}
