// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package paramprocess implements the Parameter Processor:
// merges the tuple stream produced by internal/paramparse by priority,
// validates against internal/paramregistry, runs special-case strategies,
// and emits the final Option Map.
//
// The strategy-registry shape (a processor registry indexed by parameter
// name; each strategy exposes can-process and process, with no
// modification of the core loop) is grounded on
// internal/translator/translator.go's Translator[ReqT, SpanT] interface:
// one small stateless implementation per concern, assembled by the
// Processor at construction rather than discovered via dynamic dispatch.
package paramprocess

import (
	"github.com/imgedge/proxy/internal/paramparse"
	"github.com/imgedge/proxy/internal/paramvalue"
)

// Discarded records a tuple that lost a priority tie-break or failed
// validation, kept for debug headers.
type Discarded struct {
	Name   string
	Reason string
}

// OptionMap is the Processor's output: canonical-name -> concrete typed
// value, plus the explicit-dimension sentinels used to distinguish a
// user-specified width/height from one inferred downstream.
type OptionMap struct {
	Values         map[string]paramvalue.Value
	ExplicitWidth  bool
	ExplicitHeight bool
	Discarded      []Discarded
	// PendingConditionals carries any `im.if-dimension` conditionals
	// through, unevaluated, for internal/transform to resolve once
	// intrinsic dimensions are known.
	PendingConditionals []paramparse.Conditional
}

// Get returns a value by canonical name.
func (m *OptionMap) Get(name string) (paramvalue.Value, bool) {
	v, ok := m.Values[name]
	return v, ok
}

// Set installs a value by canonical name, overwriting any existing entry.
func (m *OptionMap) Set(name string, v paramvalue.Value) {
	if m.Values == nil {
		m.Values = make(map[string]paramvalue.Value)
	}
	m.Values[name] = v
}

// Delete removes a canonical name from the map, if present.
func (m *OptionMap) Delete(name string) {
	delete(m.Values, name)
}

func (m *OptionMap) discard(name, reason string) {
	m.Discarded = append(m.Discarded, Discarded{Name: name, Reason: reason})
}
