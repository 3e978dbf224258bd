package fuzztests

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"iselfuzz/internal/ir"
	"iselfuzz/internal/irpack"
	"iselfuzz/internal/mutate"
)

const maxSeedBytes = 64 << 10

// seedModules returns modules grown from an empty module with fixed seeds.
func seedModules() []*ir.Module {
	engine, err := mutate.NewEngine(mutate.DefaultTypes(), mutate.DefaultStrategies(mutate.DefaultTypes()))
	if err != nil {
		panic(err)
	}
	var out []*ir.Module
	for _, steps := range []int{1, 4, 16, 64} {
		m := ir.NewModule("M")
		for i := 0; i < steps; i++ {
			engine.Mutate(m, uint32(steps*1000+i), irpack.EncodedSize(m), maxSeedBytes)
		}
		out = append(out, m)
	}
	return out
}

func addCorpusSeeds(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0})
	f.Add([]byte(irpack.Magic))
	for _, m := range seedModules() {
		data, err := irpack.Encode(m)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(data)
	}
	addTestdataSeeds(f)
}

// addTestdataSeeds adds saved crashers and corpus entries from testdata.
func addTestdataSeeds(f *testing.F) {
	paths, err := filepath.Glob(filepath.Join("testdata", "seeds", "*"))
	if err != nil {
		return
	}
	sort.Strings(paths)
	for _, path := range paths {
		// #nosec G304 -- path comes from the package testdata
		data, err := os.ReadFile(path)
		if err != nil || len(data) > maxSeedBytes {
			continue
		}
		f.Add(data)
	}
}
