// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

// Package diceware generates human-typable recovery phrases.
//
// Each word is chosen by rolling DieCount fair dice and using the
// concatenated faces (for example "3514") as a key into a Wordlist of
// 6^DieCount entries. Phrases are generate-only: verification happens by
// comparing against a stored password hash, never by decoding the phrase.
//
// A Wordlist is immutable once parsed. A malformed list is a startup error.
package diceware
