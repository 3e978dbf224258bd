// Package testkit holds invariant checks shared by tests and fuzz targets.
package testkit

import (
	"bytes"
	"fmt"

	"github.com/google/go-cmp/cmp"

	"iselfuzz/internal/ir"
	"iselfuzz/internal/irpack"
)

// CheckVerifies reports a verifier failure together with the module text.
func CheckVerifies(m *ir.Module) error {
	if err := ir.Verify(m); err != nil {
		return fmt.Errorf("%w\n%s", err, m)
	}
	return nil
}

// CheckRoundTrip encodes m, decodes the result and checks that nothing
// changed: the printed forms must match and the second encoding must be
// byte-identical to the first.
func CheckRoundTrip(m *ir.Module) error {
	data, err := irpack.Encode(m)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	back, err := irpack.Decode(data)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if diff := cmp.Diff(m.String(), back.String()); diff != "" {
		return fmt.Errorf("module changed across round trip (-want +got):\n%s", diff)
	}
	again, err := irpack.Encode(back)
	if err != nil {
		return fmt.Errorf("re-encode: %w", err)
	}
	if !bytes.Equal(data, again) {
		return fmt.Errorf("encoding is not stable: %d bytes, then %d", len(data), len(again))
	}
	return nil
}
