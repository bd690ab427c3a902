// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package paramprocess

import (
	"github.com/imgedge/proxy/internal/paramparse"
	"github.com/imgedge/proxy/internal/paramregistry"
	"github.com/imgedge/proxy/internal/paramvalue"
)

// Derivative is a named preset bundling several transform options. It
// is treated as a single high-priority parameter that expands into its
// components.
type Derivative struct {
	Name   string
	Values map[string]paramvalue.Value
}

// Processor merges a tuple stream by priority, validates it against a
// Registry, runs special-case Strategies, and emits the final Option Map.
type Processor struct {
	registry    *paramregistry.Registry
	strategies  []Strategy
	derivatives map[string]Derivative
}

// Option configures a Processor at construction.
type Option func(*Processor)

// WithDerivatives registers the named derivative presets.
func WithDerivatives(derivatives map[string]Derivative) Option {
	return func(p *Processor) { p.derivatives = derivatives }
}

// WithStrategies overrides the default strategy set — used by tests that
// want to exercise the core loop with a reduced or synthetic strategy.
func WithStrategies(strategies []Strategy) Option {
	return func(p *Processor) { p.strategies = strategies }
}

// New builds a Processor bound to reg. The Registry → Strategies →
// Processor dependency order is enforced by construction: strategies
// only ever receive the Registry, never the Processor.
func New(reg *paramregistry.Registry, opts ...Option) *Processor {
	p := &Processor{registry: reg, strategies: defaultStrategies()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the five-step merge algorithm: expand derivatives, group
// by priority, validate, run special-case strategies, then format.
func (p *Processor) Process(tuples []paramregistry.Tuple, conditionals []paramparse.Conditional) *OptionMap {
	om := &OptionMap{PendingConditionals: conditionals}

	tuples = p.expandDerivatives(tuples, om)

	grouped, passthrough := p.group(tuples, om)

	p.validate(grouped, om)

	for _, s := range p.strategies {
		s.Process(p.registry, grouped)
	}

	p.format(grouped, om)

	for name, t := range passthrough {
		om.Set(name, t.Value)
	}

	if w, ok := grouped["width"]; ok {
		om.ExplicitWidth = w.Explicit
	}
	if h, ok := grouped["height"]; ok {
		om.ExplicitHeight = h.Explicit
	}

	return om
}

// expandDerivatives resolves a named derivative template: a
// `derivative` tuple is looked up and its components injected as tuples
// with source=derivative and the highest priority band, ahead of the
// normal grouping pass.
func (p *Processor) expandDerivatives(tuples []paramregistry.Tuple, om *OptionMap) []paramregistry.Tuple {
	var name string
	for _, t := range tuples {
		if t.Name == "derivative" {
			if s, ok := t.Value.AsString(); ok {
				name = s
			}
		}
	}
	if name == "" {
		return tuples
	}
	d, ok := p.derivatives[name]
	if !ok {
		om.discard("derivative", "unknown derivative "+name)
		return tuples
	}
	for k, v := range d.Values {
		tuples = append(tuples, paramregistry.Tuple{
			Name: k, Value: v, Source: paramregistry.SourceDerivative,
			Priority: paramregistry.PriorityDerivative,
			Explicit: k == "width" || k == "height",
		})
	}
	return tuples
}

// group merges by priority: for each name with multiple tuples, retain
// the one with highest priority, recording discarded tuples for debug.
// Names the Registry does not recognize are treated as pass-through and
// returned separately, bypassing validation/strategies/formatting
// entirely.
func (p *Processor) group(tuples []paramregistry.Tuple, om *OptionMap) (map[string]paramregistry.Tuple, map[string]paramregistry.Tuple) {
	grouped := make(map[string]paramregistry.Tuple)
	passthrough := make(map[string]paramregistry.Tuple)

	for _, t := range tuples {
		name := t.Name
		if canonical, ok := p.registry.Canonicalize(t.Name); ok {
			name = canonical
		} else if t.Priority < 0 {
			// Unrecognized name from the canonical query parser's
			// low-priority pass-through.
			if existing, ok := passthrough[name]; !ok || t.Priority >= existing.Priority {
				passthrough[name] = t
			}
			continue
		}

		existing, ok := grouped[name]
		if !ok {
			grouped[name] = t
			continue
		}
		if t.Priority > existing.Priority {
			om.discard(name, "lower priority: "+existing.Source.String())
			grouped[name] = t
		} else {
			om.discard(name, "lower priority: "+t.Source.String())
		}
	}
	return grouped, passthrough
}

// validate checks each retained tuple; on failure substitute the
// registered default if one exists, otherwise drop the tuple.
func (p *Processor) validate(grouped map[string]paramregistry.Tuple, om *OptionMap) {
	for name, t := range grouped {
		def, ok := p.registry.Lookup(name)
		if !ok {
			continue // unrecognized after canonicalization: shouldn't happen, grouped only holds canonical names.
		}
		if def.Validator == nil && len(def.AllowedValues) == 0 {
			continue // structural entries like "draw", "f", "imwidth" are validated by their strategy instead.
		}
		if err := def.Validate(t.Value); err != nil {
			om.discard(name, err.Error())
			if def.Default != nil {
				t.Value = *def.Default
				grouped[name] = t
			} else {
				delete(grouped, name)
			}
		}
	}
}

// format applies registry formatters for final value coercion, then
// emits into the Option Map.
func (p *Processor) format(grouped map[string]paramregistry.Tuple, om *OptionMap) {
	for name, t := range grouped {
		v := t.Value
		if def, ok := p.registry.Lookup(name); ok {
			v = def.Format(v)
		}
		om.Set(name, v)
	}
}
