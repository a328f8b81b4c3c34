// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package diceware

import (
	"math"
	"strconv"
	"strings"

	"github.com/samber/oops"

	"github.com/collectconnect/ccserver/internal/secret"
)

// MaxWordCount bounds phrase length.
const MaxWordCount = 16

// DieRoller supplies uniform die rolls in [1, 6].
type DieRoller interface {
	RandomDie() (int, error)
}

// Codec renders recovery phrases from dice rolls.
type Codec struct {
	wordlist  *Wordlist
	roller    DieRoller
	wordCount int
}

// NewCodec creates a Codec that produces wordCount-word phrases.
func NewCodec(wordlist *Wordlist, roller DieRoller, wordCount int) (*Codec, error) {
	if wordlist == nil {
		return nil, oops.Code("CODEC_INVALID_CONFIG").Errorf("wordlist is required")
	}
	if roller == nil {
		return nil, oops.Code("CODEC_INVALID_CONFIG").Errorf("die roller is required")
	}
	if wordCount < 1 || wordCount > MaxWordCount {
		return nil, oops.Code("CODEC_INVALID_CONFIG").
			With("word_count", wordCount).
			Errorf("word count must be between 1 and %d", MaxWordCount)
	}
	return &Codec{wordlist: wordlist, roller: roller, wordCount: wordCount}, nil
}

// WordCount returns the number of words per phrase.
func (c *Codec) WordCount() int {
	return c.wordCount
}

// Wordlist returns the list phrases are drawn from.
func (c *Codec) Wordlist() *Wordlist {
	return c.wordlist
}

// EntropyBits is the strength of a generated phrase in bits.
func (c *Codec) EntropyBits() float64 {
	return float64(c.wordCount*c.wordlist.DieCount()) * math.Log2(secret.DieSides)
}

// Generate returns a fresh phrase of WordCount words joined by single spaces.
func (c *Codec) Generate() (string, error) {
	words := make([]string, 0, c.wordCount)
	var key strings.Builder
	for i := range c.wordCount {
		key.Reset()
		for range c.wordlist.DieCount() {
			roll, err := c.roller.RandomDie()
			if err != nil {
				return "", oops.Code("CODEC_ROLL_FAILED").
					With("word_index", i).
					Wrap(err)
			}
			if roll < 1 || roll > secret.DieSides {
				return "", oops.Code("CODEC_ROLL_FAILED").
					With("word_index", i).
					With("roll", roll).
					Errorf("die roll out of range")
			}
			key.WriteString(strconv.Itoa(roll))
		}
		word, ok := c.wordlist.Lookup(key.String())
		if !ok {
			return "", oops.Code("CODEC_LOOKUP_FAILED").
				With("key", key.String()).
				Errorf("dice key missing from wordlist")
		}
		words = append(words, word)
	}
	return strings.Join(words, " "), nil
}

// Normalize canonicalises user input: lowercase, trimmed, single-spaced.
func Normalize(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}
