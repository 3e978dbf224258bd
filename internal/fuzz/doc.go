// Package fuzztests holds native Go fuzz targets for the harness entry
// points, so the code generator can be fuzzed with "go test -fuzz" when
// libFuzzer is not available.
//
// The target triple defaults to x86_64-unknown-linux-gnu and can be changed
// with ISELFUZZ_TRIPLE.
package fuzztests
