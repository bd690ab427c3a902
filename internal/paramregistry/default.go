// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package paramregistry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/imgedge/proxy/internal/paramvalue"
)

// fitValues are the allowed `fit` enum members.
var fitValues = []string{"scale-down", "contain", "cover", "crop", "pad"}

// formatValues are the allowed `format` enum members.
var formatValues = []string{"auto", "webp", "avif", "jpeg", "png", "gif", "json", "baseline-jpeg"}

// metadataValues are the allowed `metadata` enum members.
var metadataValues = []string{"none", "copyright", "keep"}

func numberBetween(min, max float64) Validator {
	return func(v paramvalue.Value) error {
		n, ok := v.AsNumber()
		if !ok {
			return fmt.Errorf("expected number, got %s", v.Kind())
		}
		if n < min || n > max {
			return fmt.Errorf("%g out of range [%g,%g]", n, min, max)
		}
		return nil
	}
}

func rotateValidator(v paramvalue.Value) error {
	n, ok := v.AsNumber()
	if !ok {
		return fmt.Errorf("expected number, got %s", v.Kind())
	}
	switch n {
	case 0, 90, 180, 270:
		return nil
	default:
		return fmt.Errorf("rotate %g must be one of 0,90,180,270", n)
	}
}

func boolValidator(v paramvalue.Value) error {
	if _, ok := v.AsBool(); !ok {
		return fmt.Errorf("expected bool, got %s", v.Kind())
	}
	return nil
}

func anyStringValidator(v paramvalue.Value) error {
	if _, ok := v.AsString(); !ok {
		return fmt.Errorf("expected string, got %s", v.Kind())
	}
	return nil
}

// coordinateValidator checks the focal-point invariant: both components in
// [0,1].
func coordinateValidator(v paramvalue.Value) error {
	c, ok := v.AsCoordinate()
	if !ok {
		return fmt.Errorf("expected coordinate, got %s", v.Kind())
	}
	if c.X < 0 || c.X > 1 || c.Y < 0 || c.Y > 1 {
		return fmt.Errorf("focal point (%g,%g) out of [0,1]^2", c.X, c.Y)
	}
	return nil
}

// aspectFormatter normalizes dash form ("16-9") to colon form ("16:9").
func aspectFormatter(v paramvalue.Value) paramvalue.Value {
	s, ok := v.AsString()
	if !ok {
		return v
	}
	if strings.Contains(s, "-") && !strings.Contains(s, ":") {
		parts := strings.SplitN(s, "-", 2)
		if len(parts) == 2 {
			return paramvalue.String(parts[0] + ":" + parts[1])
		}
	}
	return v
}

func floatDefault(f float64) *paramvalue.Value {
	v := paramvalue.Number(f)
	return &v
}

func stringDefault(s string) *paramvalue.Value {
	v := paramvalue.String(s)
	return &v
}

func boolDefault(b bool) *paramvalue.Value {
	v := paramvalue.Bool(b)
	return &v
}

// Priority bands. Higher wins ties in the Processor. The same
// scale doubles as the general cross-source priority used for every other
// parameter, since
// size-code's band sits below every explicit-value source and derived sits
// at the bottom for both uses.
const (
	PriorityDerived    = 0
	PrioritySizeCode   = 5
	PriorityLegacy     = 10
	PriorityCompact    = 20
	PriorityCanonical  = 20 // canonical and compact share a band; ties broken by arrival/explicit order downstream.
	PriorityPath       = 30
	PriorityDerivative = 50
)

// Default returns the process-wide Parameter Registry used by this
// module's pipeline. It is built once at startup and never mutated.
func Default() *Registry {
	return New([]Definition{
		{Name: "width", Aliases: []string{"w"}, Type: TypeNumber, Validator: numberBetween(1, 16384), Priority: PriorityCanonical},
		{Name: "height", Aliases: []string{"h"}, Type: TypeNumber, Validator: numberBetween(1, 16384), Priority: PriorityCanonical},
		{Name: "fit", Type: TypeEnum, AllowedValues: fitValues, Default: stringDefault("scale-down"), Priority: PriorityCanonical},
		{Name: "gravity", Type: TypeString, Validator: anyStringValidator, Default: stringDefault("auto"), Priority: PriorityCanonical},
		{Name: "format", Type: TypeEnum, AllowedValues: formatValues, Default: stringDefault("auto"), Priority: PriorityCanonical},
		{Name: "quality", Type: TypeAutoOrNumber, Validator: func(v paramvalue.Value) error {
			if s, ok := v.AsString(); ok {
				if s == "auto" {
					return nil
				}
				return fmt.Errorf("quality string must be \"auto\", got %q", s)
			}
			return numberBetween(1, 100)(v)
		}, Priority: PriorityCanonical},
		{Name: "dpr", Type: TypeNumber, Validator: numberBetween(0.1, 3), Default: floatDefault(1), Priority: PriorityCanonical},
		{Name: "blur", Type: TypeNumber, Validator: numberBetween(1, 250), Priority: PriorityCanonical},
		{Name: "brightness", Type: TypeNumber, Priority: PriorityCanonical},
		{Name: "contrast", Type: TypeNumber, Priority: PriorityCanonical},
		{Name: "saturation", Type: TypeNumber, Priority: PriorityCanonical},
		{Name: "sharpen", Type: TypeNumber, Priority: PriorityCanonical},
		{Name: "rotate", Type: TypeNumber, Validator: rotateValidator, Priority: PriorityCanonical},
		{Name: "flip", Type: TypeBoolean, Validator: boolValidator, Priority: PriorityCanonical},
		{Name: "flop", Type: TypeBoolean, Validator: boolValidator, Priority: PriorityCanonical},
		{Name: "trim", Type: TypeString, Validator: anyStringValidator, Priority: PriorityCanonical},
		{Name: "background", Type: TypeString, Validator: anyStringValidator, Priority: PriorityCanonical},
		{Name: "metadata", Type: TypeEnum, AllowedValues: metadataValues, Default: stringDefault("none"), Priority: PriorityCanonical},
		{Name: "anim", Type: TypeBoolean, Validator: boolValidator, Default: boolDefault(true), Priority: PriorityCanonical},
		{Name: "compression", Type: TypeString, Validator: anyStringValidator, Priority: PriorityCanonical},
		{Name: "onerror", Type: TypeString, Validator: anyStringValidator, Priority: PriorityCanonical},

		// Compact-origin composite parameters. The
		// canonical names are "aspect"/"focal"; `r`
		// and `p` are the compact query aliases that resolve to them.
		{Name: "aspect", Aliases: []string{"r"}, Type: TypeString, Formatter: aspectFormatter, Priority: PriorityCompact},
		{Name: "focal", Aliases: []string{"p"}, Type: TypeCoordinate, Validator: coordinateValidator, Priority: PriorityCompact},
		{Name: "f", Type: TypeSizeCode, Priority: PriorityCompact},
		{Name: "ctx", Aliases: []string{"s", "smart"}, Type: TypeBoolean, Validator: boolValidator, Default: boolDefault(false), Priority: PriorityCompact},

		// Legacy-only / cross-cutting.
		{Name: "draw", Type: TypeOverlayList, Priority: PriorityLegacy},
		{Name: "allowExpansion", Type: TypeBoolean, Validator: boolValidator, Priority: PriorityLegacy},
		// imwidth/imheight are intentionally NOT aliases of width/height:
		// their width/height mapping is a Processor strategy
		// ("overriding unless already explicitly set"), a rule distinct
		// from ordinary priority tie-break, so they need their own slot
		// in the grouped tuple map rather than colliding with width/
		// height during the group pass.
		{Name: "imwidth", Type: TypeSizeCode, Priority: PriorityLegacy},
		{Name: "imheight", Type: TypeSizeCode, Priority: PriorityLegacy},

		// Fifth, supplemented source: derivative expansion.
		{Name: "derivative", Type: TypeString, Validator: anyStringValidator, Priority: PriorityDerivative},
	})
}

// ParseNumber is a small helper shared by parsers for turning a raw query
// string into a number Value, used for every TypeNumber/TypeAutoOrNumber
// parameter that isn't a size code.
func ParseNumber(raw string) (paramvalue.Value, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return paramvalue.Value{}, fmt.Errorf("not a number: %w", err)
	}
	return paramvalue.Number(f), nil
}
