// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package paramprocess

import (
	"encoding/json"

	"github.com/imgedge/proxy/internal/paramregistry"
	"github.com/imgedge/proxy/internal/paramvalue"
)

// Strategy is a special-case processor run against the grouped tuple
// map. Adding a new special case means registering a new Strategy, with
// no change to the Processor's core loop.
type Strategy interface {
	// Trigger is the canonical name whose presence in grouped invokes this
	// strategy (can_process, specialized to a name check since every
	// built-in strategy here triggers on exactly one name).
	Trigger() string
	// Process mutates grouped in place: it may delete its own trigger
	// entry and set/overwrite others.
	Process(reg *paramregistry.Registry, grouped map[string]paramregistry.Tuple)
}

// setIfHigherPriority installs candidate under name unless an existing
// entry already outranks it, implementing the width/height tie-break
// chain (derivative template > explicit > size code > derived)
// uniformly across every strategy that proposes a value for a name some
// other source may already occupy.
func setIfHigherPriority(grouped map[string]paramregistry.Tuple, name string, candidate paramregistry.Tuple) {
	existing, ok := grouped[name]
	if !ok || candidate.Priority >= existing.Priority {
		grouped[name] = candidate
	}
}

// sizeCodeStrategy handles the `f` size-code parameter: look up width,
// emit a new `width` tuple marked explicit, and remove `f`.
type sizeCodeStrategy struct{}

func (sizeCodeStrategy) Trigger() string { return "f" }

func (sizeCodeStrategy) Process(reg *paramregistry.Registry, grouped map[string]paramregistry.Tuple) {
	t, ok := grouped["f"]
	delete(grouped, "f")
	if !ok {
		return
	}
	code, ok := t.Value.AsString()
	if !ok {
		return
	}
	width, ok := paramregistry.ResolveSizeCode(code)
	if !ok {
		// Unknown codes are dropped; no warning is logged or recorded.
		return
	}
	setIfHigherPriority(grouped, "width", paramregistry.Tuple{
		Name: "width", Value: paramvalue.Number(float64(width)),
		Source: t.Source, Priority: paramregistry.PrioritySizeCode, Explicit: true,
	})
}

// aspectStrategy handles the `aspect` parameter: if ctx is not already
// set, set ctx=true (aspect crop implies context awareness). Dash
// to colon normalization is handled by the registry formatter for "aspect" in
// the Processor's formatting pass (step 5), since it only transforms the
// value in place and doesn't interact with other names.
type aspectStrategy struct{}

func (aspectStrategy) Trigger() string { return "aspect" }

func (aspectStrategy) Process(reg *paramregistry.Registry, grouped map[string]paramregistry.Tuple) {
	if _, ok := grouped["aspect"]; !ok {
		return
	}
	if _, ok := grouped["ctx"]; ok {
		return
	}
	grouped["ctx"] = paramregistry.Tuple{
		Name: "ctx", Value: paramvalue.Bool(true),
		Source: paramregistry.SourceDerived, Priority: paramregistry.PriorityCompact,
	}
}

// legacyDimensionStrategy maps the legacy imwidth/imheight parameters
// onto width/height, overriding unless
// already explicitly set. Unlike sizeCodeStrategy this is NOT a priority
// comparison: an explicit width/height from any source wins outright,
// regardless of imwidth's nominal priority.
type legacyDimensionStrategy struct {
	legacyName, canonicalName string
}

func (s legacyDimensionStrategy) Trigger() string { return s.legacyName }

func (s legacyDimensionStrategy) Process(reg *paramregistry.Registry, grouped map[string]paramregistry.Tuple) {
	t, ok := grouped[s.legacyName]
	delete(grouped, s.legacyName)
	if !ok {
		return
	}
	if existing, ok := grouped[s.canonicalName]; ok && existing.Explicit {
		return // already explicitly set: imwidth/imheight never override it.
	}
	width := t.Value
	if code, ok := t.Value.AsString(); ok {
		if w, ok := paramregistry.ResolveSizeCode(code); ok {
			width = paramvalue.Number(float64(w))
		} else {
			return // unknown size code: dropped, with no warning logged or recorded.
		}
	}
	grouped[s.canonicalName] = paramregistry.Tuple{
		Name: s.canonicalName, Value: width,
		Source: t.Source, Priority: t.Priority, Explicit: true,
	}
}

// drawStrategy handles the `draw` overlay parameter: parse JSON (or
// accept an already-parsed list), validate each entry against the
// Overlay Descriptor invariants.
type drawStrategy struct{}

func (drawStrategy) Trigger() string { return "draw" }

func (drawStrategy) Process(reg *paramregistry.Registry, grouped map[string]paramregistry.Tuple) {
	t, ok := grouped["draw"]
	if !ok {
		return
	}
	var overlays []paramvalue.Overlay
	if list, ok := t.Value.AsOverlayList(); ok {
		overlays = list
	} else if raw, ok := t.Value.AsString(); ok {
		if err := json.Unmarshal([]byte(raw), &overlays); err != nil {
			delete(grouped, "draw")
			return
		}
	} else {
		delete(grouped, "draw")
		return
	}

	valid := overlays[:0]
	for _, o := range overlays {
		if err := o.Validate(); err != nil {
			continue // dropped silently (no warning is logged) rather than failing the whole request.
		}
		valid = append(valid, o)
	}
	if len(valid) == 0 {
		delete(grouped, "draw")
		return
	}
	grouped["draw"] = paramregistry.Tuple{
		Name: "draw", Value: paramvalue.OverlayList(valid),
		Source: t.Source, Priority: t.Priority,
	}
}

// defaultStrategies returns the built-in strategy set, in the order the
// Processor applies them.
func defaultStrategies() []Strategy {
	return []Strategy{
		sizeCodeStrategy{},
		aspectStrategy{},
		drawStrategy{},
		legacyDimensionStrategy{legacyName: "imwidth", canonicalName: "width"},
		legacyDimensionStrategy{legacyName: "imheight", canonicalName: "height"},
	}
}
