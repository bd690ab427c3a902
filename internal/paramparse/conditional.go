// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package paramparse

// Conditional is a pending `im.if-dimension` legacy conditional: it cannot be evaluated
// until intrinsic source dimensions are known, so the parser only records
// it; internal/transform evaluates it after the metadata pre-fetch and
// merges the "then" tuples into the Option Map, or drops it silently on
// pre-fetch failure.
type Conditional struct {
	// Prop is the intrinsic property being tested: "width", "height", or
	// "aspect-ratio".
	Prop string
	// Op is the comparison operator: one of "<", "<=", ">", ">=", "==", "!=".
	Op string
	// Val is the right-hand side of the comparison.
	Val float64
	// Then is the raw `im.*`-style sub-parameter string to parse into
	// tuples if the condition holds (e.g. "width:400,height:300,mode:fit").
	Then string
}
