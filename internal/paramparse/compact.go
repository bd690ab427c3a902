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

// CompactQueryParser recognizes short aliases:
// w/h (dimensions), r (aspect ratio), p (focal point), f (size code,
// producing a derived explicit width), s/smart (ctx synonym).
type CompactQueryParser struct{}

func (CompactQueryParser) Parse(r Request) (Result, error) {
	tuples, err := ParseCompact(r)
	return Result{Tuples: tuples}, err
}

// ParseCompact implements CompactQueryParser.Parse.
func ParseCompact(r Request) ([]paramregistry.Tuple, error) {
	var tuples []paramregistry.Tuple

	if raw := r.Query.Get("w"); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			tuples = append(tuples, paramregistry.Tuple{
				Name: "width", Value: paramvalue.Number(f),
				Source: paramregistry.SourceCompact, Priority: paramregistry.PriorityCompact, Explicit: true,
			})
		}
	}
	if raw := r.Query.Get("h"); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			tuples = append(tuples, paramregistry.Tuple{
				Name: "height", Value: paramvalue.Number(f),
				Source: paramregistry.SourceCompact, Priority: paramregistry.PriorityCompact, Explicit: true,
			})
		}
	}

	if raw := r.Query.Get("r"); raw != "" {
		// Accepts "16:9" or "16-9"; normalization to colon form happens
		// via the registry's formatter during the Processor's formatting
		// pass, not here. This parser only extracts.
		tuples = append(tuples, paramregistry.Tuple{
			Name: "r", Value: paramvalue.String(raw),
			Source: paramregistry.SourceCompact, Priority: paramregistry.PriorityCompact,
		})
	}

	if raw := r.Query.Get("p"); raw != "" {
		parts := strings.SplitN(raw, ",", 2)
		if len(parts) == 2 {
			x, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			y, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if err1 == nil && err2 == nil {
				tuples = append(tuples, paramregistry.Tuple{
					Name: "p", Value: paramvalue.CoordinatePair(x, y),
					Source: paramregistry.SourceCompact, Priority: paramregistry.PriorityCompact,
				})
			}
		}
	}

	if raw := r.Query.Get("f"); raw != "" {
		// Resolved against the Size Code Table by the Processor's size-code
		// strategy; the parser just carries the code.
		tuples = append(tuples, paramregistry.Tuple{
			Name: "f", Value: paramvalue.String(raw),
			Source: paramregistry.SourceCompact, Priority: paramregistry.PrioritySizeCode,
		})
	}

	for _, key := range []string{"s", "smart"} {
		if raw, ok := r.Query[key]; ok {
			b := true
			if len(raw) > 0 && raw[0] != "" {
				if parsed, err := strconv.ParseBool(raw[0]); err == nil {
					b = parsed
				}
			}
			tuples = append(tuples, paramregistry.Tuple{
				Name: "ctx", Value: paramvalue.Bool(b),
				Source: paramregistry.SourceCompact, Priority: paramregistry.PriorityCompact,
			})
		}
	}

	return tuples, nil
}
