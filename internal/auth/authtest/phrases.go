// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package authtest

import (
	"sync"

	"github.com/samber/oops"
)

// ScriptedPhrases returns queued phrases in order, then fails.
type ScriptedPhrases struct {
	mu      sync.Mutex
	phrases []string
}

// NewScriptedPhrases queues phrases for Generate.
func NewScriptedPhrases(phrases ...string) *ScriptedPhrases {
	return &ScriptedPhrases{phrases: phrases}
}

// Generate pops the next queued phrase.
func (s *ScriptedPhrases) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.phrases) == 0 {
		return "", oops.Code("AUTHTEST_PHRASES_EXHAUSTED").Errorf("no scripted phrases left")
	}
	p := s.phrases[0]
	s.phrases = s.phrases[1:]
	return p, nil
}
