// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package paramregistry implements the Parameter Registry:
// the compile-time catalog of every recognized transform option, its
// aliases, type, validator, default, formatter and base priority. Parsers
// never invent a canonical name absent from this table; the Processor
// resolves every tuple against it.
package paramregistry

import (
	"fmt"

	"github.com/imgedge/proxy/internal/paramvalue"
)

// Source identifies which parser (or downstream rewrite) produced a
// tuple.
type Source int

const (
	SourceCanonical Source = iota
	SourceCompact
	SourcePath
	SourceLegacy
	SourceDerived
	SourceDerivative
)

func (s Source) String() string {
	switch s {
	case SourceCanonical:
		return "canonical"
	case SourceCompact:
		return "compact"
	case SourcePath:
		return "path"
	case SourceLegacy:
		return "legacy"
	case SourceDerived:
		return "derived"
	case SourceDerivative:
		return "derivative"
	default:
		return "unknown"
	}
}

// Type is the declared shape of a registry entry's value.
type Type int

const (
	TypeNumber Type = iota
	TypeAutoOrNumber
	TypeBoolean
	TypeString
	TypeEnum
	TypeSizeCode
	TypeCoordinate
	TypeOverlayList
)

// Tuple is a single (name, value, source, priority) transform option
// observation.
type Tuple struct {
	Name     string
	Value    paramvalue.Value
	Source   Source
	Priority int
	// Explicit marks a tuple that should set the corresponding
	// explicit_width/explicit_height sentinel, preventing the Client
	// Signal Detector from overriding it.
	Explicit bool
}

// Validator checks a candidate Value against a Definition's constraints.
// It returns an error describing the failure; the Processor substitutes
// the registered default (or drops the tuple) on failure, never surfacing
// the error to the client.
type Validator func(v paramvalue.Value) error

// Formatter coerces a validated Value into its final canonical form (for
// example, normalizing "16-9" to "16:9").
type Formatter func(v paramvalue.Value) paramvalue.Value

// Definition is a single Parameter Registry entry.
type Definition struct {
	// Name is the canonical parameter name.
	Name string
	// Aliases are alternate spellings that resolve to Name (e.g. compact
	// "w" for "width"). Invariant: every alias resolves to exactly one
	// canonical name (enforced by Registry construction, see New).
	Aliases []string
	Type    Type
	// AllowedValues is the enum membership set, when Type == TypeEnum.
	AllowedValues []string
	Default       *paramvalue.Value
	Validator     Validator
	Formatter     Formatter
	// Priority is the entry's nominal priority band. The Processor's
	// tie-break compares Tuple.Priority, which each parser sets directly
	// from the band constants in default.go; this field is not read
	// when tuples are merged.
	Priority int
}

func (d Definition) validate(v paramvalue.Value) error {
	if d.Type == TypeEnum && len(d.AllowedValues) > 0 {
		s, ok := v.AsString()
		if !ok {
			return fmt.Errorf("%s: expected string for enum, got %s", d.Name, v.Kind())
		}
		for _, allowed := range d.AllowedValues {
			if allowed == s {
				if d.Validator != nil {
					return d.Validator(v)
				}
				return nil
			}
		}
		return fmt.Errorf("%s: %q is not one of %v", d.Name, s, d.AllowedValues)
	}
	if d.Validator != nil {
		return d.Validator(v)
	}
	return nil
}

// Validate runs d's type/enum/custom validation against v.
func (d Definition) Validate(v paramvalue.Value) error { return d.validate(v) }

// Format applies d's formatter, if any, returning v unchanged otherwise.
func (d Definition) Format(v paramvalue.Value) paramvalue.Value {
	if d.Formatter == nil {
		return v
	}
	return d.Formatter(v)
}

// Registry is the immutable, process-wide table of Definitions, indexed
// by canonical name and alias.
type Registry struct {
	byName map[string]Definition
	// aliasToName maps every alias (and the canonical name itself) to its
	// canonical name.
	aliasToName map[string]string
	order       []string // canonical names, declaration order, for deterministic iteration.
}

// New builds a Registry from defs, validating the "every alias resolves
// to exactly one canonical name" invariant. It panics on a duplicate
// alias/name, since the registry is compile-time data: a collision is a
// programming error caught long before any request is served.
func New(defs []Definition) *Registry {
	r := &Registry{
		byName:      make(map[string]Definition, len(defs)),
		aliasToName: make(map[string]string, len(defs)*2),
	}
	for _, d := range defs {
		if _, exists := r.byName[d.Name]; exists {
			panic(fmt.Sprintf("paramregistry: duplicate canonical name %q", d.Name))
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
		r.addAlias(d.Name, d.Name)
		for _, a := range d.Aliases {
			r.addAlias(d.Name, a)
		}
	}
	return r
}

func (r *Registry) addAlias(canonical, alias string) {
	if existing, ok := r.aliasToName[alias]; ok && existing != canonical {
		panic(fmt.Sprintf("paramregistry: alias %q already resolves to %q, cannot also resolve to %q", alias, existing, canonical))
	}
	r.aliasToName[alias] = canonical
}

// Canonicalize resolves any alias (or canonical name) to its canonical
// name. The second return is false if name is not recognized at all: the
// Canonical Query Parser preserves unknown names with a low priority
// marker rather than dropping them outright, so callers must handle the
// "not found" case explicitly rather than treating it as an error.
func (r *Registry) Canonicalize(name string) (string, bool) {
	canonical, ok := r.aliasToName[name]
	return canonical, ok
}

// Lookup returns the Definition for a canonical name.
func (r *Registry) Lookup(canonical string) (Definition, bool) {
	d, ok := r.byName[canonical]
	return d, ok
}

// Names returns every canonical name, in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
