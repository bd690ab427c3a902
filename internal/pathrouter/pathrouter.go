// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package pathrouter implements the Path Router: given a
// request path, selects a Storage Profile (the default, or the first
// matching pattern, with field-level inheritance from the default) and
// rewrites a path per origin kind.
//
// No single file in this codebase's origin owns a path-routing concern
// (the upstream gateway has no storage-origin layer); the ordered-list,
// first-match-wins matching
// strategy plus field-level inheritance is grounded on
// internal/filterapi/mcpconfig.go's MCPRoute/MCPBackend list-and-fallback
// shape, generalized from "route name selects a backend list" to "path
// pattern selects (and partially overrides) a profile."
package pathrouter

import (
	"regexp"
	"strings"

	"github.com/imgedge/proxy/internal/config"
)

// Router matches request paths against configured patterns and resolves
// the winning Storage Profile, merging in the default profile's fields
// wherever the pattern-specific profile leaves them unset.
type Router struct {
	defaultProfile config.StorageProfile
	patterns       []compiledPattern
}

type compiledPattern struct {
	literal string
	re      *regexp.Regexp
	profile config.StorageProfile
}

// New compiles cfg's patterns in declaration order. A malformed regex
// pattern is an invalid configuration, surfaced immediately rather than
// failing unpredictably per-request.
func New(cfg *config.Config) (*Router, error) {
	r := &Router{defaultProfile: cfg.DefaultProfile}
	for _, p := range cfg.Patterns {
		cp := compiledPattern{profile: p.Profile}
		if p.Regex {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return nil, err
			}
			cp.re = re
		} else {
			cp.literal = p.Pattern
		}
		r.patterns = append(r.patterns, cp)
	}
	return r, nil
}

// Resolve returns the Storage Profile that applies to path: the first
// pattern whose literal substring or regex matches, falling back to the
// default profile, with inheritance applied.
func (r *Router) Resolve(path string) config.StorageProfile {
	for _, p := range r.patterns {
		matched := false
		if p.re != nil {
			matched = p.re.MatchString(path)
		} else {
			matched = strings.Contains(path, p.literal)
		}
		if matched {
			return mergeProfile(p.profile, r.defaultProfile)
		}
	}
	return r.defaultProfile
}

// mergeProfile fills every field pattern leaves unset from def.
func mergeProfile(pattern, def config.StorageProfile) config.StorageProfile {
	merged := config.StorageProfile{Priority: pattern.Priority}
	if len(merged.Priority) == 0 {
		merged.Priority = def.Priority
	}
	if len(merged.Priority) == 0 {
		merged.Priority = config.DefaultPriority
	}

	merged.Origins = make(map[config.OriginKind]*config.OriginConfig, len(merged.Priority))
	for _, kind := range merged.Priority {
		merged.Origins[kind] = mergeOrigin(pattern.Origins[kind], def.Origins[kind])
	}
	return merged
}

// mergeOrigin merges one origin-kind's configuration field-by-field:
// every field the pattern-specific entry leaves at its zero value is
// taken from the default entry.
func mergeOrigin(pattern, def *config.OriginConfig) *config.OriginConfig {
	if pattern == nil {
		return def
	}
	if def == nil {
		return pattern
	}
	merged := *pattern
	if merged.Binding == "" {
		merged.Binding = def.Binding
	}
	if merged.URLTemplate == "" {
		merged.URLTemplate = def.URLTemplate
	}
	if merged.Auth == nil {
		merged.Auth = def.Auth
	}
	if merged.FetchOptions == nil {
		merged.FetchOptions = def.FetchOptions
	}
	if merged.PathTransform == nil {
		merged.PathTransform = def.PathTransform
	}
	return &merged
}

// RewritePath applies a single origin's path transform:
// "if the path's first segment equals a configured key, and
// remove_prefix is true, strip that segment; then prepend the
// origin-specific prefix."
func RewritePath(path string, transform *config.PathTransform) string {
	if transform == nil {
		return path
	}
	rewritten := path
	if transform.Segment != "" {
		trimmed := strings.TrimPrefix(path, "/")
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) > 0 && parts[0] == transform.Segment && transform.RemovePrefix {
			if len(parts) == 2 {
				rewritten = "/" + parts[1]
			} else {
				rewritten = "/"
			}
		}
	}
	return transform.Prefix + rewritten
}
