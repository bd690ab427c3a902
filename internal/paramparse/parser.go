// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package paramparse implements the four parallel URL encodings a
// transform request may arrive in: canonical query, compact query, path
// segment, and legacy third-party. Each parser has the contract "given a
// request, emit a (possibly empty) list of tuples" — none of them merge
// or prioritize; that is the Parameter Processor's job
// (internal/paramprocess).
//
// The per-variant-implementation-of-one-interface shape is grounded on
// internal/translator/translator.go's Translator[ReqT, SpanT] pattern:
// one small, stateless type per source, assembled by a factory rather
// than a single monolithic parse function.
package paramparse

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/imgedge/proxy/internal/paramregistry"
)

// Result is what a Parser produces: the uniform tagged tuple stream, plus
// any legacy conditionals pending evaluation against intrinsic
// dimensions. Every parser but LegacyParser leaves Conditionals empty.
type Result struct {
	Tuples       []paramregistry.Tuple
	Conditionals []Conditional
}

// Parser is the contract every source-specific extractor satisfies.
type Parser interface {
	// Parse extracts tuples (and, for the legacy parser, pending
	// conditionals) from the request. It must not mutate r.
	Parse(r Request) (Result, error)
}

// Request bundles the pieces a Parser needs: the incoming URL/headers
// plus the registry to canonicalize against. Kept distinct from
// *http.Request so parsers can be exercised without constructing one.
type Request struct {
	Path      string
	RawQuery  string
	Query     url.Values
	Header    http.Header
	Registry  *paramregistry.Registry
}

// FromHTTP builds a Request from a live *http.Request.
func FromHTTP(req *http.Request, reg *paramregistry.Registry) Request {
	return Request{
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Query:    req.URL.Query(),
		Header:   req.Header,
		Registry: reg,
	}
}

// Factory inspects the request once and returns only the parsers whose
// triggers are present, avoiding wasted work parsing encodings the
// request doesn't use.
func Factory(r Request) []Parser {
	var parsers []Parser

	if hasCanonicalTrigger(r) {
		parsers = append(parsers, CanonicalQueryParser{})
	}
	if hasCompactTrigger(r) {
		parsers = append(parsers, CompactQueryParser{})
	}
	if hasPathSegmentTrigger(r) {
		parsers = append(parsers, PathSegmentParser{})
	}
	if hasLegacyTrigger(r) {
		parsers = append(parsers, LegacyParser{})
	}
	return parsers
}

func hasCanonicalTrigger(r Request) bool {
	for _, name := range r.Registry.Names() {
		if _, ok := r.Query[name]; ok {
			return true
		}
	}
	// Unknown query params still trigger the canonical parser, since it is
	// also responsible for the low-priority pass-through of unrecognized
	// names.
	return len(r.Query) > 0
}

var compactKeys = []string{"w", "h", "r", "p", "f", "s", "smart"}

func hasCompactTrigger(r Request) bool {
	for _, k := range compactKeys {
		if _, ok := r.Query[k]; ok {
			return true
		}
	}
	return false
}

// hasPathSegmentTrigger tests segment by segment: pathSegmentRE is
// anchored to a whole segment, so matching the raw path (leading slash,
// embedded separators) would never fire.
func hasPathSegmentTrigger(r Request) bool {
	for _, seg := range strings.Split(r.Path, "/") {
		if pathSegmentRE.MatchString(seg) {
			return true
		}
	}
	return false
}

func hasLegacyTrigger(r Request) bool {
	for k := range r.Query {
		if k == "imwidth" || k == "imheight" || k == "impolicy" || k == "im" {
			return true
		}
		if len(k) > 3 && k[:3] == "im." {
			return true
		}
	}
	return false
}
