// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package paramregistry

// SizeCodeTable is the fixed mapping of symbolic size codes to pixel
// widths. It is a closed enumeration:
// unknown codes are dropped (no warning is logged or recorded),
// never synthesized or extrapolated.
var SizeCodeTable = map[string]int{
	"xxu":  80,
	"xu":   120,
	"u":    160,
	"xxxs": 200,
	"xxs":  260,
	"xs":   320,
	"s":    460,
	"m":    640,
	"l":    750,
	"xl":   900,
	"xxl":  1100,
	"xxxl": 1300,
	"xxg":  1600,
	"xg":   2000,
	"g":    2400,
}

// ResolveSizeCode looks up a size code. The second return is false for
// any code outside the closed enumeration above.
func ResolveSizeCode(code string) (int, bool) {
	w, ok := SizeCodeTable[code]
	return w, ok
}
