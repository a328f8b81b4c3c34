// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

// Package secret provides the cryptographically secure randomness used for
// session keys and recovery phrase dice rolls.
package secret

import (
	"crypto/rand"
	"io"

	"github.com/samber/oops"
)

// DieSides is the number of faces on a simulated die.
const DieSides = 6

// dieRejectThreshold is the largest multiple of DieSides that fits in a byte.
// Bytes at or above it are discarded so every face stays equally likely.
const dieRejectThreshold = 256 - (256 % DieSides) // 252

// Generator draws fresh entropy for every call.
type Generator interface {
	// RandomBytes returns n bytes from a secure source.
	RandomBytes(n int) ([]byte, error)

	// RandomDie returns a uniformly distributed roll in [1, DieSides].
	RandomDie() (int, error)
}

// CryptoGenerator implements Generator on top of crypto/rand.
type CryptoGenerator struct {
	source io.Reader
}

// NewCryptoGenerator creates a Generator backed by the operating system's
// secure random source.
func NewCryptoGenerator() *CryptoGenerator {
	return &CryptoGenerator{source: rand.Reader}
}

// newGeneratorFromReader lets tests substitute the entropy source.
func newGeneratorFromReader(r io.Reader) *CryptoGenerator {
	return &CryptoGenerator{source: r}
}

// RandomBytes returns n bytes read from the secure source.
func (g *CryptoGenerator) RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, oops.Code("SECRET_INVALID_LENGTH").
			With("requested_bytes", n).
			Errorf("requested byte count must be positive")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return nil, oops.Code("SECRET_READ_FAILED").
			With("operation", "read random bytes").
			With("requested_bytes", n).
			Wrap(err)
	}
	return buf, nil
}

// RandomDie rolls a fair six-sided die using rejection sampling.
func (g *CryptoGenerator) RandomDie() (int, error) {
	var b [1]byte
	for {
		if _, err := io.ReadFull(g.source, b[:]); err != nil {
			return 0, oops.Code("SECRET_READ_FAILED").
				With("operation", "roll die").
				Wrap(err)
		}
		if int(b[0]) < dieRejectThreshold {
			return int(b[0])%DieSides + 1, nil
		}
	}
}

// Compile-time interface check.
var _ Generator = (*CryptoGenerator)(nil)
