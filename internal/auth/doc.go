// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

// Package auth implements CollectConnect account identity: device-bound
// login, session keys, and diceware recovery phrases.
//
// # Credentials
//
// An account holds three credentials, none of them in plaintext:
//   - DeviceFingerprint - SHA3-256 of the device id the account is bound to
//   - SessionKeyHash - SHA3-256 of the live session key, empty when logged out
//   - RecoveryKeyHash - argon2id hash of the current recovery phrase
//
// Session keys and recovery phrases are returned to the caller exactly once,
// by the operation that created them.
//
// # Service
//
// Service coordinates the operations (Register, Login, Logout,
// ResetRecoveryKey, RecoverDevice) and exposes RequireSession for code that
// must authenticate a request before acting for a user. Every operation
// validates input, then checks credentials, then writes. Nothing is written
// once a check fails.
//
// Per-account atomicity is delegated to the CredentialStore: Update applies
// its changes only if the AccountUpdate preconditions still hold.
//
// # Errors
//
// Failures carry a Kind, retrievable with KindOf. PublicMessage maps an
// error to text safe for untrusted callers; credential failures of every
// kind map to the same message.
package auth
