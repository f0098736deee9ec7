// Package typed layers a typed message Transport over an encrypted
// socket.Socket: each value is encoded, length-prefixed, and written as one
// outer pack; each read decodes exactly one record.
package typed

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Codec encodes and decodes values of type T to and from the wire. An
// implementation must be deterministic; self-delimiting is not required,
// since Transport supplies its own length prefix around whatever Encode
// returns.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// GobCodec is a reference Codec built on the standard library's
// encoding/gob. It requires no external schema and is a reasonable default
// for callers who have not brought their own wire format; production
// callers with cross-language or schema-evolution needs should supply
// their own Codec.
type GobCodec[T any] struct{}

// Encode gob-encodes v.
func (GobCodec[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("typed: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes data into a value of type T.
func (GobCodec[T]) Decode(data []byte) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, fmt.Errorf("typed: gob decode: %w", err)
	}
	return v, nil
}
