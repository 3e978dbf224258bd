package target

import (
	"sort"
	"strings"
)

// Arch describes one registered backend.
type Arch struct {
	Name    string   // canonical triple arch, e.g. "x86_64"
	Aliases []string // other spellings accepted in triples and -march
	Desc    string

	PtrBits    int
	BigEndian  bool
	StackAlign int // bytes

	// LegalInts lists the integer widths held natively in registers,
	// ascending. Narrower integers are promoted, wider ones expanded.
	LegalInts []int

	NumGPR int // allocatable general purpose registers
	NumFPR int // allocatable floating point registers

	// ImmBits is the width of signed immediates accepted by arithmetic
	// instructions.
	ImmBits int
	// HasCondSelect reports a conditional select instruction; without it
	// selects are lowered to mask arithmetic.
	HasCondSelect bool

	// FloatFeature and DoubleFeature gate hardware floating point;
	// empty means always available.
	FloatFeature  string
	DoubleFeature string
	// DivFeature gates hardware integer division; empty means always
	// available.
	DivFeature string

	Features        []string            // recognized subtarget features
	DefaultFeatures []string            // enabled for every CPU
	CPUs            map[string][]string // cpu -> implied features
	DataLayout      string
}

// Matches reports whether name spells this arch.
func (a *Arch) Matches(name string) bool {
	name = strings.ToLower(name)
	if name == a.Name {
		return true
	}
	for _, alias := range a.Aliases {
		if name == alias {
			return true
		}
	}
	return false
}

// KnownFeature reports whether f is a recognized subtarget feature.
func (a *Arch) KnownFeature(f string) bool {
	for _, k := range a.Features {
		if k == f {
			return true
		}
	}
	return false
}

// KnownCPU reports whether cpu names a processor of this arch.
func (a *Arch) KnownCPU(cpu string) bool {
	if cpu == "" || cpu == "generic" {
		return true
	}
	_, ok := a.CPUs[cpu]
	return ok
}

// CPUNames returns the processors of this arch in sorted order.
func (a *Arch) CPUNames() []string {
	names := make([]string, 0, len(a.CPUs)+1)
	names = append(names, "generic")
	for name := range a.CPUs {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names
}

var registry = []*Arch{
	{
		Name:          "x86_64",
		Aliases:       []string{"amd64", "x86-64"},
		Desc:          "64-bit X86: EM64T and AMD64",
		PtrBits:       64,
		StackAlign:    16,
		LegalInts:     []int{8, 16, 32, 64},
		NumGPR:        14,
		NumFPR:        16,
		ImmBits:       32,
		HasCondSelect: true,

		FloatFeature:    "sse2",
		DoubleFeature:   "sse2",
		Features:        []string{"sse2", "sse4.2", "avx", "avx2", "soft-float"},
		DefaultFeatures: []string{"sse2"},
		CPUs: map[string][]string{
			"x86-64":      nil,
			"nehalem":     {"sse4.2"},
			"sandybridge": {"sse4.2", "avx"},
			"haswell":     {"sse4.2", "avx", "avx2"},
			"znver3":      {"sse4.2", "avx", "avx2"},
		},
		DataLayout: "e-m:e-p270:32:32-p271:32:32-p272:64:64-i64:64-i128:128-f80:128-n8:16:32:64-S128",
	},
	{
		Name:          "i686",
		Aliases:       []string{"i386", "i486", "i586", "x86"},
		Desc:          "32-bit X86: Pentium-Pro and above",
		PtrBits:       32,
		StackAlign:    16,
		LegalInts:     []int{8, 16, 32},
		NumGPR:        6,
		NumFPR:        8,
		ImmBits:       32,
		HasCondSelect: true,

		FloatFeature:    "x87",
		DoubleFeature:   "x87",
		Features:        []string{"x87", "sse", "sse2", "soft-float"},
		DefaultFeatures: []string{"x87"},
		CPUs: map[string][]string{
			"pentium-m": {"sse", "sse2"},
			"pentium4":  {"sse", "sse2"},
			"i686":      nil,
		},
		DataLayout: "e-m:e-p:32:32-p270:32:32-p271:32:32-p272:64:64-i128:128-f64:32:64-f80:32-n8:16:32-S128",
	},
	{
		Name:          "aarch64",
		Aliases:       []string{"arm64"},
		Desc:          "AArch64 (little endian)",
		PtrBits:       64,
		StackAlign:    16,
		LegalInts:     []int{32, 64},
		NumGPR:        28,
		NumFPR:        32,
		ImmBits:       12,
		HasCondSelect: true,

		FloatFeature:    "fp-armv8",
		DoubleFeature:   "fp-armv8",
		Features:        []string{"fp-armv8", "neon", "crc", "lse", "soft-float"},
		DefaultFeatures: []string{"fp-armv8", "neon"},
		CPUs: map[string][]string{
			"cortex-a53":  {"crc"},
			"cortex-a72":  {"crc"},
			"neoverse-n1": {"crc", "lse"},
			"apple-m1":    {"crc", "lse"},
		},
		DataLayout: "e-m:e-i8:8:32-i16:16:32-i64:64-i128:128-n32:64-S128-Fn32",
	},
	{
		Name:          "armv7",
		Aliases:       []string{"arm", "armv7a", "thumbv7"},
		Desc:          "ARMv7 (little endian)",
		PtrBits:       32,
		StackAlign:    8,
		LegalInts:     []int{32},
		NumGPR:        12,
		NumFPR:        16,
		ImmBits:       8,
		HasCondSelect: true,

		FloatFeature:    "vfp2",
		DoubleFeature:   "vfp2",
		DivFeature:      "hwdiv",
		Features:        []string{"vfp2", "vfp3", "neon", "hwdiv", "soft-float"},
		DefaultFeatures: nil,
		CPUs: map[string][]string{
			"cortex-a7":  {"vfp2", "vfp3", "neon", "hwdiv"},
			"cortex-a9":  {"vfp2", "vfp3", "neon"},
			"cortex-a15": {"vfp2", "vfp3", "neon", "hwdiv"},
		},
		DataLayout: "e-m:e-p:32:32-Fi8-i64:64-v128:64:128-a:0:32-n32-S64",
	},
	{
		Name:          "riscv64",
		Desc:          "64-bit RISC-V",
		PtrBits:       64,
		StackAlign:    16,
		LegalInts:     []int{64},
		NumGPR:        27,
		NumFPR:        32,
		ImmBits:       12,
		HasCondSelect: false,

		FloatFeature:    "f",
		DoubleFeature:   "d",
		DivFeature:      "m",
		Features:        []string{"m", "a", "f", "d", "c", "soft-float"},
		DefaultFeatures: nil,
		CPUs: map[string][]string{
			"generic-rv64": nil,
			"rocket-rv64":  {"m", "a", "f", "d", "c"},
			"sifive-u74":   {"m", "a", "f", "d", "c"},
		},
		DataLayout: "e-m:e-p:64:64-i64:64-i128:128-n32:64-S128",
	},
	{
		Name:          "riscv32",
		Desc:          "32-bit RISC-V",
		PtrBits:       32,
		StackAlign:    16,
		LegalInts:     []int{32},
		NumGPR:        27,
		NumFPR:        32,
		ImmBits:       12,
		HasCondSelect: false,

		FloatFeature:    "f",
		DoubleFeature:   "d",
		DivFeature:      "m",
		Features:        []string{"m", "a", "f", "d", "c", "soft-float"},
		DefaultFeatures: nil,
		CPUs: map[string][]string{
			"generic-rv32": nil,
			"sifive-e31":   {"m", "a", "c"},
			"sifive-e76":   {"m", "a", "f", "c"},
		},
		DataLayout: "e-m:e-p:32:32-i64:64-n32-S128",
	},
}

// Archs returns the registered backends sorted by name.
func Archs() []*Arch {
	out := append([]*Arch(nil), registry...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupArch finds a backend by canonical name or alias.
func LookupArch(name string) (*Arch, bool) {
	for _, a := range registry {
		if a.Matches(name) {
			return a, true
		}
	}
	return nil, false
}
