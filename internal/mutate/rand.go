package mutate

import (
	"math"
	"math/rand"
	"sort"

	"iselfuzz/internal/ir"
)

// RandGen is the single source of randomness of one Mutate call. Every
// strategy, operand and constant choice is drawn from it so that a seed
// reproduces the whole mutation.
type RandGen struct {
	*rand.Rand
}

// NewRandGen returns a generator seeded with seed.
func NewRandGen(seed uint32) *RandGen {
	return &RandGen{Rand: rand.New(rand.NewSource(int64(seed)))}
}

func (r *RandGen) rand(n int) int {
	if n <= 1 {
		return 0
	}
	return r.Intn(n)
}

func (r *RandGen) bin() bool {
	return r.Intn(2) == 0
}

func (r *RandGen) oneOf(n int) bool {
	return r.Intn(n) == 0
}

// nOutOf returns true n out of outOf times.
func (r *RandGen) nOutOf(n, outOf int) bool {
	if n <= 0 || n >= outOf {
		panic("bad probability")
	}
	return r.Intn(outOf) < n
}

func (r *RandGen) rand64() uint64 {
	v := uint64(r.Int63())
	if r.bin() {
		v |= 1 << 63
	}
	return v
}

var (
	// Integers that tend to hit boundary handling in legalization and
	// immediate folding.
	specialInts = []uint64{
		0, 1, 2, 3, 4, 5, 6, 7, 8, 15, 16, 31, 32, 63, 64,
		127, 128, 255, 256, 2047, 2048, 4095, 4096,
		(1 << 15) - 1, 1 << 15, (1 << 16) - 1, 1 << 16,
		(1 << 31) - 1, 1 << 31, (1 << 32) - 1, 1 << 32,
		(1 << 63) - 1, 1 << 63, (1 << 64) - 1,
	}
	// specialIntIndex[i] is the number of specialInts that fit in i bytes.
	specialIntIndex [9]int

	specialFloats = []float64{
		0, math.Copysign(0, -1), 1, -1, 0.5, 2, 1e-7, 1e10,
		math.MaxFloat32, math.SmallestNonzeroFloat64, math.MaxFloat64,
		math.Inf(1), math.Inf(-1), math.NaN(),
	}
)

func init() {
	sort.Slice(specialInts, func(i, j int) bool { return specialInts[i] < specialInts[j] })
	for i := range specialIntIndex {
		bits := uint(8 * i)
		specialIntIndex[i] = sort.Search(len(specialInts), func(j int) bool {
			return i < 8 && specialInts[j]>>bits != 0
		})
	}
}

// randInt returns an integer biased toward small and boundary values,
// truncated to bits.
func (r *RandGen) randInt(bits int) uint64 {
	v := r.rand64()
	switch {
	case r.nOutOf(100, 182):
		v %= 10
	case bits >= 8 && r.nOutOf(50, 82):
		v = specialInts[r.rand(specialIntIndex[bits/8])]
	case r.nOutOf(10, 32):
		v %= 256
	case r.nOutOf(10, 22):
		v %= 4 << 10
	}
	if r.oneOf(10) {
		v = -v
	}
	return ir.TruncBits(v, bits)
}

func (r *RandGen) randFloat() float64 {
	if r.nOutOf(2, 3) {
		return specialFloats[r.rand(len(specialFloats))]
	}
	return (r.Float64() - 0.5) * math.Pow(10, float64(r.rand(20)-10))
}

// Const returns a random constant of the scalar type t.
func (r *RandGen) Const(t ir.Type) ir.Const {
	if t.IsFloat() {
		return ir.FloatConst(t, r.randFloat())
	}
	return ir.IntConst(t, r.randInt(int(t.Bits)))
}

// pick returns a random element index weighted by w. It returns -1 when
// every weight is zero.
func (r *RandGen) pick(w []uint64) int {
	var total uint64
	chosen := -1
	for i, wi := range w {
		if wi == 0 {
			continue
		}
		total += wi
		if uint64(r.Int63n(int64(total))) < wi {
			chosen = i
		}
	}
	return chosen
}
