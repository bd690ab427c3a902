// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package mathx holds small generic numeric helpers shared by the
// parameter-resolution and transform pipeline: DPR capping and
// quality-range budget math both bound a float64 to a range rather than
// reject an out-of-range value outright.
package mathx

import "golang.org/x/exp/constraints"

// Clamp returns v bounded to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
