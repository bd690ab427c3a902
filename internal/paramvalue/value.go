// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package paramvalue defines the sum type over transform option values:
// a value is one of number, string, boolean, ordered list (for overlay
// arrays), or coordinate pair, replacing the dynamic typing of a
// string-keyed map with a tagged variant.
package paramvalue

import "fmt"

// Kind tags which field of a Value is populated.
type Kind int

const (
	// KindNumber holds a float64 (widths, quality, blur, opacity, ...).
	KindNumber Kind = iota
	// KindBool holds a boolean (ctx, allowExpansion, ...).
	KindBool
	// KindString holds a string (format, fit, gravity, background, ...).
	KindString
	// KindCoordinate holds a normalized (x, y) pair (focal point).
	KindCoordinate
	// KindOverlayList holds an ordered list of Overlay descriptors (draw).
	KindOverlayList
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindCoordinate:
		return "coordinate"
	case KindOverlayList:
		return "overlay-list"
	default:
		return "unknown"
	}
}

// Coordinate is a normalized (x, y) pair in [0,1]^2, used for the focal
// point parameter.
type Coordinate struct {
	X, Y float64
}

// Overlay is the Overlay Descriptor record for a `draw` entry.
type Overlay struct {
	URL        string  `json:"url"`
	Width      float64 `json:"width,omitempty"`
	Height     float64 `json:"height,omitempty"`
	Fit        string  `json:"fit,omitempty"`
	Gravity    string  `json:"gravity,omitempty"`
	Opacity    float64 `json:"opacity,omitempty"`
	Repeat     string  `json:"repeat,omitempty"` // "", "false", "true", "x", "y"
	Top        *float64 `json:"top,omitempty"`
	Right      *float64 `json:"right,omitempty"`
	Bottom     *float64 `json:"bottom,omitempty"`
	Left       *float64 `json:"left,omitempty"`
	Background string   `json:"background,omitempty"`
	Rotate     int      `json:"rotate,omitempty"` // 0, 90, 180, 270
}

// Validate checks the mutual-exclusion invariants: top and bottom are
// mutually exclusive, and so are left and right.
func (o Overlay) Validate() error {
	if o.URL == "" {
		return fmt.Errorf("overlay: url is required")
	}
	if o.Top != nil && o.Bottom != nil {
		return fmt.Errorf("overlay: top and bottom are mutually exclusive")
	}
	if o.Left != nil && o.Right != nil {
		return fmt.Errorf("overlay: left and right are mutually exclusive")
	}
	if o.Opacity < 0 || o.Opacity > 1 {
		return fmt.Errorf("overlay: opacity %v out of range [0,1]", o.Opacity)
	}
	switch o.Rotate {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("overlay: rotate %d not one of 0,90,180,270", o.Rotate)
	}
	return nil
}

// Value is a sum type over the possible concrete values a transform
// option tuple can carry. Exactly one field identified by Kind is
// meaningful; callers should use the accessor methods rather than reading
// fields directly.
type Value struct {
	kind       Kind
	number     float64
	boolean    bool
	str        string
	coordinate Coordinate
	overlays   []Overlay
}

// Kind reports which accessor is valid.
func (v Value) Kind() Kind { return v.kind }

// Number constructs a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, number: n} }

// Bool constructs a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// String constructs a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// CoordinatePair constructs a coordinate Value.
func CoordinatePair(x, y float64) Value {
	return Value{kind: KindCoordinate, coordinate: Coordinate{X: x, Y: y}}
}

// OverlayList constructs an overlay-list Value.
func OverlayList(overlays []Overlay) Value {
	return Value{kind: KindOverlayList, overlays: overlays}
}

// AsNumber returns the numeric value and whether v holds one.
func (v Value) AsNumber() (float64, bool) { return v.number, v.kind == KindNumber }

// AsBool returns the boolean value and whether v holds one.
func (v Value) AsBool() (bool, bool) { return v.boolean, v.kind == KindBool }

// AsString returns the string value and whether v holds one.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsCoordinate returns the coordinate value and whether v holds one.
func (v Value) AsCoordinate() (Coordinate, bool) { return v.coordinate, v.kind == KindCoordinate }

// AsOverlayList returns the overlay list and whether v holds one.
func (v Value) AsOverlayList() ([]Overlay, bool) { return v.overlays, v.kind == KindOverlayList }

// String renders v for logging/debug headers.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return fmt.Sprintf("%g", v.number)
	case KindBool:
		return fmt.Sprintf("%t", v.boolean)
	case KindString:
		return v.str
	case KindCoordinate:
		return fmt.Sprintf("%g,%g", v.coordinate.X, v.coordinate.Y)
	case KindOverlayList:
		return fmt.Sprintf("overlay[%d]", len(v.overlays))
	default:
		return "<invalid>"
	}
}
