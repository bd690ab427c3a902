// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package paramparse

import (
	"strconv"
	"strings"

	"github.com/imgedge/proxy/internal/paramregistry"
	"github.com/imgedge/proxy/internal/paramvalue"
)

// CanonicalQueryParser recognizes full parameter names as query
// parameters.
type CanonicalQueryParser struct{}

func (CanonicalQueryParser) Parse(r Request) (Result, error) {
	tuples, err := ParseCanonical(r)
	return Result{Tuples: tuples}, err
}

// ParseCanonical is the Request-based entry point, usable without a live
// *http.Request in tests.
func ParseCanonical(r Request) ([]paramregistry.Tuple, error) {
	var tuples []paramregistry.Tuple
	for key, vals := range r.Query {
		if len(vals) == 0 {
			continue
		}
		raw := vals[0]

		canonical, known := "", false
		if r.Registry != nil {
			canonical, known = r.Registry.Canonicalize(key)
		}
		if !known {
			// Unknown names pass through with a low priority marker so they
			// can be preserved if downstream wants them.
			tuples = append(tuples, paramregistry.Tuple{
				Name:     key,
				Value:    paramvalue.String(raw),
				Source:   paramregistry.SourceCanonical,
				Priority: -1,
			})
			continue
		}

		// Only accept the *full* canonical name here; short aliases belong
		// to the Compact parser even when they show up as bare query keys,
		// keeping the priority band aligned with that division of
		// responsibility.
		if key != canonical {
			continue
		}

		var def paramregistry.Definition
		if r.Registry != nil {
			def, _ = r.Registry.Lookup(canonical)
		}
		v, ok := coerce(def, raw)
		if !ok {
			continue
		}
		tuples = append(tuples, paramregistry.Tuple{
			Name:     canonical,
			Value:    v,
			Source:   paramregistry.SourceCanonical,
			Priority: paramregistry.PriorityCanonical,
			Explicit: canonical == "width" || canonical == "height",
		})
	}
	return tuples, nil
}

// coerce converts a raw query string into the Value shape implied by def's
// Type. Parse (not validate) failures here simply drop the tuple; the
// Processor's validation pass is for value-range/enum failures, not
// type-shape failures, but an unparseable number is effectively the same
// failure class and is likewise dropped, silently (no warning is
// logged), rather than rejecting the whole request.
func coerce(def paramregistry.Definition, raw string) (paramvalue.Value, bool) {
	switch def.Type {
	case paramregistry.TypeNumber, paramregistry.TypeSizeCode:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return paramvalue.Number(f), true
		}
		if def.Type == paramregistry.TypeSizeCode {
			return paramvalue.String(raw), true
		}
		return paramvalue.Value{}, false
	case paramregistry.TypeAutoOrNumber:
		if raw == "auto" {
			return paramvalue.String(raw), true
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return paramvalue.Number(f), true
		}
		return paramvalue.Value{}, false
	case paramregistry.TypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return paramvalue.Value{}, false
		}
		return paramvalue.Bool(b), true
	case paramregistry.TypeCoordinate:
		parts := strings.SplitN(raw, ",", 2)
		if len(parts) != 2 {
			return paramvalue.Value{}, false
		}
		x, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		y, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return paramvalue.Value{}, false
		}
		return paramvalue.CoordinatePair(x, y), true
	default:
		return paramvalue.String(raw), true
	}
}
