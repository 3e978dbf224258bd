// Package irpack implements the byte encoding of ir modules used for fuzzer
// inputs. An input is a four byte magic followed by a msgpack body.
package irpack

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"iselfuzz/internal/ir"
)

// Magic prefixes every encoded module.
const Magic = "ISL\x01"

var (
	// ErrBadMagic reports input that does not start with Magic.
	ErrBadMagic = errors.New("irpack: bad magic")
	// ErrSchema reports an input written with another wire layout.
	ErrSchema = errors.New("irpack: unsupported schema version")
	// ErrTooLarge reports that an encoding does not fit the caller's limit.
	ErrTooLarge = errors.New("irpack: encoded module exceeds size limit")
	// ErrTrailingData reports bytes left after the module body.
	ErrTrailingData = errors.New("irpack: trailing data after module")
)

// Decode parses data into a module. It never panics on malformed input;
// the result is not verified.
func Decode(data []byte) (*ir.Module, error) {
	if len(data) < len(Magic) || string(data[:len(Magic)]) != Magic {
		return nil, ErrBadMagic
	}
	r := bytes.NewReader(data[len(Magic):])
	dec := msgpack.NewDecoder(r)
	var w wireModule
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("irpack: %w", err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, r.Len())
	}
	m, err := wireToModule(&w)
	if err != nil {
		return nil, fmt.Errorf("irpack: %w", err)
	}
	return m, nil
}

// Encode serializes m. The encoding is deterministic.
func Encode(m *ir.Module) ([]byte, error) {
	if m == nil {
		return nil, errors.New("irpack: nil module")
	}
	w, err := moduleToWire(m)
	if err != nil {
		return nil, fmt.Errorf("irpack: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(Magic)
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("irpack: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBounded serializes m and fails with ErrTooLarge when the result is
// longer than maxSize bytes.
func EncodeBounded(m *ir.Module, maxSize int) ([]byte, error) {
	data, err := Encode(m)
	if err != nil {
		return nil, err
	}
	if len(data) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(data), maxSize)
	}
	return data, nil
}

// EncodeInto serializes m into buf and returns the number of bytes written,
// or ErrTooLarge when the encoding does not fit into buf[:maxSize].
func EncodeInto(buf []byte, m *ir.Module, maxSize int) (int, error) {
	if maxSize > len(buf) {
		maxSize = len(buf)
	}
	data, err := EncodeBounded(m, maxSize)
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}

// EncodedSize returns the length of the encoding of m, or -1 when m cannot
// be encoded.
func EncodedSize(m *ir.Module) int {
	data, err := Encode(m)
	if err != nil {
		return -1
	}
	return len(data)
}
