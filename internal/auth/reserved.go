// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package auth

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// reservedNames rejects usernames matching operator-configured glob patterns
// such as "admin*" or "mod?rator". Matching ignores case.
type reservedNames struct {
	patterns []string
	globs    []glob.Glob
}

func compileReserved(patterns []string) (*reservedNames, error) {
	r := &reservedNames{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, oops.Code("AUTH_INVALID_RESERVED_PATTERN").
				With("pattern", p).
				Wrap(err)
		}
		r.patterns = append(r.patterns, p)
		r.globs = append(r.globs, g)
	}
	return r, nil
}

// match returns the first pattern that matches username.
func (r *reservedNames) match(username string) (string, bool) {
	if r == nil {
		return "", false
	}
	lower := strings.ToLower(username)
	for i, g := range r.globs {
		if g.Match(lower) {
			return r.patterns[i], true
		}
	}
	return "", false
}
