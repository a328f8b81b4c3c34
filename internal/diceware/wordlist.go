// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package diceware

import (
	"bufio"
	"bytes"
	"embed"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/collectconnect/ccserver/internal/secret"
)

// Defaults for the embedded short list.
const (
	DefaultDieCount  = 4
	DefaultWordCount = 6
	MaxDieCount      = 6
)

//go:embed wordlists/short.txt
var wordlistFS embed.FS

var (
	defaultOnce     sync.Once
	defaultWordlist *Wordlist
	defaultErr      error
)

// Wordlist maps dice keys to words.
type Wordlist struct {
	dieCount int
	words    map[string]string
}

// DefaultWordlist returns the embedded 1296-word list keyed by four dice.
// The list is parsed on first use and shared afterwards.
func DefaultWordlist() (*Wordlist, error) {
	defaultOnce.Do(func() {
		data, err := wordlistFS.ReadFile("wordlists/short.txt")
		if err != nil {
			defaultErr = oops.Code("WORDLIST_LOAD_FAILED").
				With("operation", "read embedded wordlist").
				Wrap(err)
			return
		}
		defaultWordlist, defaultErr = ParseWordlist(bytes.NewReader(data), DefaultDieCount)
	})
	return defaultWordlist, defaultErr
}

// LoadWordlist reads and validates a wordlist file from disk.
func LoadWordlist(path string, dieCount int) (*Wordlist, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.Code("WORDLIST_LOAD_FAILED").
			With("path", path).
			Wrap(err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	wl, err := ParseWordlist(f, dieCount)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return wl, nil
}

// ParseWordlist reads "<dice>\t<word>" lines. Blank lines are ignored and
// any run of whitespace separates the key from the word. The list must
// contain exactly 6^dieCount distinct keys and distinct words.
func ParseWordlist(r io.Reader, dieCount int) (*Wordlist, error) {
	if dieCount < 1 || dieCount > MaxDieCount {
		return nil, oops.Code("WORDLIST_INVALID").
			With("die_count", dieCount).
			Errorf("die count must be between 1 and %d", MaxDieCount)
	}

	words := make(map[string]string, expectedSize(dieCount))
	seenWords := make(map[string]string, expectedSize(dieCount))

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, oops.Code("WORDLIST_INVALID").
				With("line", lineNo).
				Errorf("expected a dice key and a single word")
		}
		key, word := fields[0], strings.ToLower(fields[1])

		if !validKey(key, dieCount) {
			return nil, oops.Code("WORDLIST_INVALID").
				With("line", lineNo).
				With("key", key).
				Errorf("key must be %d digits between 1 and 6", dieCount)
		}
		if _, dup := words[key]; dup {
			return nil, oops.Code("WORDLIST_INVALID").
				With("line", lineNo).
				With("key", key).
				Errorf("duplicate dice key")
		}
		if prev, dup := seenWords[word]; dup {
			return nil, oops.Code("WORDLIST_INVALID").
				With("line", lineNo).
				With("word", word).
				With("first_key", prev).
				Errorf("duplicate word")
		}
		words[key] = word
		seenWords[word] = key
	}
	if err := scanner.Err(); err != nil {
		return nil, oops.Code("WORDLIST_LOAD_FAILED").
			With("operation", "scan wordlist").
			Wrap(err)
	}

	if want := expectedSize(dieCount); len(words) != want {
		return nil, oops.Code("WORDLIST_INVALID").
			With("entries", len(words)).
			With("expected", want).
			Errorf("wordlist must have exactly %d entries for %d dice", want, dieCount)
	}

	return &Wordlist{dieCount: dieCount, words: words}, nil
}

// DieCount returns the number of dice rolled per word.
func (w *Wordlist) DieCount() int {
	return w.dieCount
}

// Len returns the number of entries.
func (w *Wordlist) Len() int {
	return len(w.words)
}

// Lookup returns the word for a dice key.
func (w *Wordlist) Lookup(key string) (string, bool) {
	word, ok := w.words[key]
	return word, ok
}

// Contains reports whether word is in the list.
func (w *Wordlist) Contains(word string) bool {
	for _, candidate := range w.words {
		if candidate == word {
			return true
		}
	}
	return false
}

func expectedSize(dieCount int) int {
	n := 1
	for range dieCount {
		n *= secret.DieSides
	}
	return n
}

func validKey(key string, dieCount int) bool {
	if len(key) != dieCount {
		return false
	}
	for _, c := range key {
		if c < '1' || c > '0'+secret.DieSides {
			return false
		}
	}
	return true
}
