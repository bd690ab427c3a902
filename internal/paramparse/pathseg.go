// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package paramparse

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/imgedge/proxy/internal/paramregistry"
)

// pathSegmentRE matches one underscore-prefixed "_key=value" path
// segment.
var pathSegmentRE = regexp.MustCompile(`^_([A-Za-z][A-Za-z0-9_]*)=([^/]*)$`)

// PathSegmentParser recognizes underscore-prefixed path segments.
type PathSegmentParser struct{}

func (PathSegmentParser) Parse(r Request) (Result, error) {
	tuples, err := ParsePathSegments(r)
	return Result{Tuples: tuples}, err
}

// ParsePathSegments implements PathSegmentParser.Parse.
func ParsePathSegments(r Request) ([]paramregistry.Tuple, error) {
	var tuples []paramregistry.Tuple
	for _, seg := range strings.Split(r.Path, "/") {
		if seg == "" {
			continue
		}
		m := pathSegmentRE.FindStringSubmatch(seg)
		if m == nil {
			continue
		}
		key, rawVal := m[1], m[2]
		unescaped, err := url.QueryUnescape(rawVal)
		if err != nil {
			unescaped = rawVal
		}

		canonical, known := key, false
		if r.Registry != nil {
			canonical, known = r.Registry.Canonicalize(key)
		}
		if !known {
			continue // not a recognized parameter name: not a path param segment at all.
		}
		var def paramregistry.Definition
		if r.Registry != nil {
			def, _ = r.Registry.Lookup(canonical)
		}
		v, ok := coerce(def, unescaped)
		if !ok {
			continue
		}
		// Path segments outrank the same name arriving via query.
		tuples = append(tuples, paramregistry.Tuple{
			Name:     canonical,
			Value:    v,
			Source:   paramregistry.SourcePath,
			Priority: paramregistry.PriorityPath,
			Explicit: canonical == "width" || canonical == "height",
		})
	}
	return tuples, nil
}

// StripRecognizedSegments removes every "_key=value" segment that
// resolves to a known registry name from path, returning the cleaned
// path used for storage lookups. Segments for unrecognized names are left
// in place, since they are not parameter segments at all (e.g. a literal
// directory named "_foo=bar" in the source tree).
func StripRecognizedSegments(path string, reg *paramregistry.Registry) string {
	parts := strings.Split(path, "/")
	kept := make([]string, 0, len(parts))
	for _, seg := range parts {
		if seg == "" {
			kept = append(kept, seg)
			continue
		}
		m := pathSegmentRE.FindStringSubmatch(seg)
		if m == nil {
			kept = append(kept, seg)
			continue
		}
		if reg != nil {
			if _, known := reg.Canonicalize(m[1]); known {
				continue // drop: this was a parameter segment.
			}
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, "/")
}
