// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"

	"github.com/collectconnect/ccserver/internal/secret"
)

// Argon2Params are the argon2id cost parameters used for new hashes.
type Argon2Params struct {
	Time      uint32 // iterations
	MemoryKiB uint32
	Threads   uint8
	SaltLen   int
	KeyLen    uint32
}

// DefaultArgon2Params follows the OWASP argon2id recommendation.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:      1,
		MemoryKiB: 64 * 1024,
		Threads:   4,
		SaltLen:   16,
		KeyLen:    32,
	}
}

// maxVerifyMemoryKiB caps the memory a stored hash may demand during Verify.
const maxVerifyMemoryKiB = 1024 * 1024

// Validate checks the parameters are usable.
func (p Argon2Params) Validate() error {
	switch {
	case p.Time == 0:
		return oops.Code("ARGON2_INVALID_PARAMS").Errorf("time must be at least 1")
	case p.MemoryKiB < 8*uint32(p.Threads) || p.MemoryKiB > maxVerifyMemoryKiB:
		return oops.Code("ARGON2_INVALID_PARAMS").
			With("memory_kib", p.MemoryKiB).
			Errorf("memory must be between 8*threads and %d KiB", maxVerifyMemoryKiB)
	case p.Threads == 0:
		return oops.Code("ARGON2_INVALID_PARAMS").Errorf("threads must be at least 1")
	case p.SaltLen < 8:
		return oops.Code("ARGON2_INVALID_PARAMS").Errorf("salt must be at least 8 bytes")
	case p.KeyLen < 16:
		return oops.Code("ARGON2_INVALID_PARAMS").Errorf("key must be at least 16 bytes")
	}
	return nil
}

// PhraseHasher produces and checks salted hashes of recovery phrases.
type PhraseHasher interface {
	// Hash returns an encoded argon2id hash of phrase.
	Hash(phrase string) (string, error)

	// Verify reports whether phrase matches encodedHash.
	// Returns (false, nil) on mismatch and an error only for malformed hashes.
	Verify(phrase, encodedHash string) (bool, error)
}

// Argon2idHasher implements PhraseHasher with argon2id in PHC string format.
type Argon2idHasher struct {
	params  Argon2Params
	secrets secret.Generator
}

// NewArgon2idHasher creates a hasher. Salts are drawn from secrets.
func NewArgon2idHasher(params Argon2Params, secrets secret.Generator) (*Argon2idHasher, error) {
	if secrets == nil {
		return nil, oops.Code("ARGON2_INVALID_PARAMS").Errorf("secret generator is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{params: params, secrets: secrets}, nil
}

// Hash produces "$argon2id$v=19$m=<kib>,t=<time>,p=<threads>$<salt>$<key>".
func (h *Argon2idHasher) Hash(phrase string) (string, error) {
	if phrase == "" {
		return "", oops.Code("ARGON2_EMPTY_INPUT").Errorf("phrase cannot be empty")
	}

	salt, err := h.secrets.RandomBytes(h.params.SaltLen)
	if err != nil {
		return "", oops.Code("ARGON2_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(phrase), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the parameters embedded in encodedHash and
// compares in constant time.
func (h *Argon2idHasher) Verify(phrase, encodedHash string) (bool, error) {
	parsed, err := parseArgon2idHash(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(phrase), parsed.salt, parsed.time, parsed.memory, parsed.threads, uint32(len(parsed.key))) //nolint:gosec // length bounded by parse
	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

type argon2idHash struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	key     []byte
}

func parseArgon2idHash(encoded string) (*argon2idHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, oops.Code("ARGON2_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return nil, oops.Code("ARGON2_INVALID_HASH").
			With("algorithm", parts[1]).
			Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, oops.Code("ARGON2_INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return nil, oops.Code("ARGON2_INVALID_HASH").
			With("version", version).
			Errorf("unsupported argon2 version %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, oops.Code("ARGON2_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return nil, oops.Code("ARGON2_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}
	if time == 0 || memory == 0 || memory > maxVerifyMemoryKiB {
		return nil, oops.Code("ARGON2_INVALID_HASH").
			With("memory_kib", memory).
			With("time", time).
			Errorf("cost parameters out of range")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, oops.Code("ARGON2_INVALID_HASH").Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, oops.Code("ARGON2_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > 1024 {
		return nil, oops.Code("ARGON2_INVALID_HASH").Errorf("invalid hash key length: %d", len(key))
	}

	return &argon2idHash{
		time:    time,
		memory:  memory,
		threads: uint8(threads),
		salt:    salt,
		key:     key,
	}, nil
}

// Compile-time interface check.
var _ PhraseHasher = (*Argon2idHasher)(nil)
