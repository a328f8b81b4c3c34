// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package auth

import (
	"crypto/hmac"
	"crypto/subtle"
	"encoding/hex"

	"github.com/samber/oops"
	"golang.org/x/crypto/sha3"

	"github.com/collectconnect/ccserver/internal/secret"
)

// SessionKeySecretBytes is the size of the random HMAC key each session key
// is derived under.
const SessionKeySecretBytes = 64

// SessionKeyLength is the length of an issued session key in hex characters.
const SessionKeyLength = 2 * 32

// HashDeviceID returns the fingerprint stored for a device id: lowercase hex
// SHA3-256.
func HashDeviceID(deviceID string) string {
	sum := sha3.Sum256([]byte(deviceID))
	return hex.EncodeToString(sum[:])
}

// HashSessionKey returns the digest stored for a session key.
func HashSessionKey(key string) string {
	sum := sha3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// digestsEqual compares two hex digests in constant time. An empty stored
// digest never matches.
func digestsEqual(computed, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}

// newSessionKey derives a session key as HMAC-SHA3-256(username) under
// SessionKeySecretBytes of fresh randomness. It returns the plaintext key
// and the digest to store.
func newSessionKey(secrets secret.Generator, username string) (key, digest string, err error) {
	hmacKey, err := secrets.RandomBytes(SessionKeySecretBytes)
	if err != nil {
		return "", "", oops.Code(string(KindSecretGenerationFailed)).
			With("operation", "generate session key").
			With("requested_bytes", SessionKeySecretBytes).
			Wrap(&kindError{kind: KindSecretGenerationFailed, cause: err})
	}

	mac := hmac.New(sha3.New256, hmacKey)
	mac.Write([]byte(username))
	key = hex.EncodeToString(mac.Sum(nil))

	return key, HashSessionKey(key), nil
}
