// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package paramparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/imgedge/proxy/internal/paramregistry"
	"github.com/imgedge/proxy/internal/paramvalue"
)

// LegacyParser translates parameters from the named precursor system
// (prefix "im." plus a handful of bare names) into canonical tuples.
type LegacyParser struct{}

func (LegacyParser) Parse(r Request) (Result, error) {
	return ParseLegacy(r)
}

// resizeModeToFit maps im.resize's "mode" values to the canonical `fit`
// enum.
var resizeModeToFit = map[string]string{
	"fit":     "contain",
	"stretch": "scale-down",
	"fill":    "cover",
	"crop":    "crop",
	"pad":     "pad",
}

// placementOffsets maps Akamai-style placement keywords (and their
// synonyms) to which edges get the configured default offset.
var placementOffsets = map[string][2]string{
	// primary compass directions
	"north": {"top", ""},
	"south": {"bottom", ""},
	"east":  {"", "right"},
	"west":  {"", "left"},
	// composites
	"northeast": {"top", "right"},
	"northwest": {"top", "left"},
	"southeast": {"bottom", "right"},
	"southwest": {"bottom", "left"},
	// synonyms
	"top":       {"top", ""},
	"bottom":    {"bottom", ""},
	"left":      {"", "left"},
	"right":     {"", "right"},
	"topright":  {"top", "right"},
	"topleft":   {"top", "left"},
	"bottomright": {"bottom", "right"},
	"bottomleft":  {"bottom", "left"},
	"center":    {"", ""},
}

// ParseLegacy implements LegacyParser.Parse.
func ParseLegacy(r Request) (Result, error) {
	var res Result

	for key, vals := range r.Query {
		if len(vals) == 0 {
			continue
		}
		raw := vals[0]
		switch {
		case key == "im.resize":
			res.Tuples = append(res.Tuples, parseImResize(raw)...)
		case key == "im.aspectCrop":
			res.Tuples = append(res.Tuples, parseImAspectCrop(raw)...)
		case key == "im.composite", key == "im.watermark":
			if t, ok := parseImComposite(raw); ok {
				res.Tuples = append(res.Tuples, t)
			}
		case key == "im.quality":
			if raw == "auto" {
				res.Tuples = append(res.Tuples, paramregistry.Tuple{
					Name: "quality", Value: paramvalue.String(raw),
					Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
				})
			} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
				res.Tuples = append(res.Tuples, paramregistry.Tuple{
					Name: "quality", Value: paramvalue.Number(f),
					Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
				})
			}
		case key == "im.blur":
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				res.Tuples = append(res.Tuples, paramregistry.Tuple{
					Name: "blur", Value: paramvalue.Number(scaleBlur(f)),
					Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
				})
			}
		case key == "im.mirror":
			if name, ok := mirrorToFlipFlop(raw); ok {
				res.Tuples = append(res.Tuples, paramregistry.Tuple{
					Name: name, Value: paramvalue.Bool(true),
					Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
				})
			}
		case key == "im.if-dimension":
			if c, ok := parseIfDimension(raw); ok {
				res.Conditionals = append(res.Conditionals, c)
			}
		case key == "imwidth":
			if t, ok := sizeOrNumberTuple("imwidth", raw); ok {
				res.Tuples = append(res.Tuples, t)
			}
		case key == "imheight":
			if t, ok := sizeOrNumberTuple("imheight", raw); ok {
				res.Tuples = append(res.Tuples, t)
			}
		case key == "im":
			sub, conds := parseImBundle(raw, r.Registry)
			res.Tuples = append(res.Tuples, sub...)
			res.Conditionals = append(res.Conditionals, conds...)
		}
	}
	return res, nil
}

// scaleBlur maps im.blur's [0,100] domain to the transform primitive's
// [1,250] blur range.
func scaleBlur(n float64) float64 {
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return 1 + (n/100)*(250-1)
}

func mirrorToFlipFlop(v string) (string, bool) {
	switch strings.ToLower(v) {
	case "horizontal", "h":
		return "flop", true
	case "vertical", "v":
		return "flip", true
	default:
		return "", false
	}
}

// sizeOrNumberTuple parses imwidth/imheight's value, which accepts either
// a numeric pixel value or a size code. The
// resulting tuple is named "imwidth"/"imheight", not "width"/"height":
// the Processor's legacy-dimension strategy decides whether it wins.
func sizeOrNumberTuple(name, raw string) (paramregistry.Tuple, bool) {
	if w, ok := paramregistry.ResolveSizeCode(raw); ok {
		return paramregistry.Tuple{
			Name: name, Value: paramvalue.Number(float64(w)),
			Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
		}, true
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return paramregistry.Tuple{
			Name: name, Value: paramvalue.Number(f),
			Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
		}, true
	}
	return paramregistry.Tuple{}, false
}

// splitTopLevel splits s on sep, ignoring separators inside parens, so
// "(800,600),xPosition=10" splits into ["(800,600)", "xPosition=10"].
func splitTopLevel(s string, sep rune) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// parseKV splits "key<delim>value" pairs out of a splitTopLevel part list,
// using the first occurrence of any of the given delimiters.
func parseKV(parts []string, delims string) map[string]string {
	out := make(map[string]string, len(parts))
	for _, p := range parts {
		idx := strings.IndexAny(p, delims)
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(p[:idx])
		val := strings.TrimSpace(p[idx+1:])
		out[key] = val
	}
	return out
}

func parseImResize(raw string) []paramregistry.Tuple {
	kv := parseKV(splitTopLevel(raw, ','), ":")
	var tuples []paramregistry.Tuple
	if w, err := strconv.ParseFloat(kv["width"], 64); err == nil {
		tuples = append(tuples, paramregistry.Tuple{
			Name: "width", Value: paramvalue.Number(w),
			Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy, Explicit: true,
		})
	}
	if h, err := strconv.ParseFloat(kv["height"], 64); err == nil {
		tuples = append(tuples, paramregistry.Tuple{
			Name: "height", Value: paramvalue.Number(h),
			Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy, Explicit: true,
		})
	}
	if mode, ok := kv["mode"]; ok {
		if fit, ok := resizeModeToFit[mode]; ok {
			tuples = append(tuples, paramregistry.Tuple{
				Name: "fit", Value: paramvalue.String(fit),
				Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
			})
		}
	}
	return tuples
}

var aspectCropPositionalRE = regexp.MustCompile(`^\((\d+(?:\.\d+)?),(\d+(?:\.\d+)?)\)$`)

func parseImAspectCrop(raw string) []paramregistry.Tuple {
	parts := splitTopLevel(raw, ',')
	if len(parts) == 0 {
		return nil
	}
	var tuples []paramregistry.Tuple
	m := aspectCropPositionalRE.FindStringSubmatch(strings.TrimSpace(parts[0]))
	if m == nil {
		return nil
	}
	tuples = append(tuples, paramregistry.Tuple{
		Name: "aspect", Value: paramvalue.String(m[1] + ":" + m[2]),
		Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
	})
	// aspect crop implies context-aware cropping.
	tuples = append(tuples, paramregistry.Tuple{
		Name: "ctx", Value: paramvalue.Bool(true),
		Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
	})

	kv := parseKV(parts[1:], "=")
	if xs, xok := kv["xPosition"]; xok {
		if ys, yok := kv["yPosition"]; yok {
			x, err1 := strconv.ParseFloat(xs, 64)
			y, err2 := strconv.ParseFloat(ys, 64)
			if err1 == nil && err2 == nil {
				tuples = append(tuples, paramregistry.Tuple{
					Name: "focal", Value: paramvalue.CoordinatePair(x, y),
					Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
				})
			}
		}
	}
	if allow, ok := kv["AllowExpansion"]; ok {
		if b, err := strconv.ParseBool(allow); err == nil {
			tuples = append(tuples, paramregistry.Tuple{
				Name: "allowExpansion", Value: paramvalue.Bool(b),
				Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
			})
		}
	}
	return tuples
}

// defaultPlacementOffset is used when im.composite/im.watermark specify a
// placement keyword but no explicit offset.
const defaultPlacementOffset = 5.0

func parseImComposite(raw string) (paramregistry.Tuple, bool) {
	kv := parseKV(splitTopLevel(raw, ','), ":")
	url, ok := kv["url"]
	if !ok || url == "" {
		return paramregistry.Tuple{}, false
	}
	overlay := paramvalue.Overlay{URL: url}

	offset := defaultPlacementOffset
	if o, ok := kv["offset"]; ok {
		if f, err := strconv.ParseFloat(o, 64); err == nil {
			offset = f
		}
	}
	if placement, ok := kv["placement"]; ok {
		if edges, ok := placementOffsets[strings.ToLower(placement)]; ok {
			top, right := edges[0], edges[1]
			applyEdge(&overlay, top, offset)
			applyEdge(&overlay, right, offset)
		}
	}
	if o, ok := kv["opacity"]; ok {
		if f, err := strconv.ParseFloat(o, 64); err == nil {
			overlay.Opacity = f / 100 // opacity in [0,100] scales to [0,1]
		}
	}
	if err := overlay.Validate(); err != nil {
		return paramregistry.Tuple{}, false
	}
	return paramregistry.Tuple{
		Name: "draw", Value: paramvalue.OverlayList([]paramvalue.Overlay{overlay}),
		Source: paramregistry.SourceLegacy, Priority: paramregistry.PriorityLegacy,
	}, true
}

func applyEdge(o *paramvalue.Overlay, edge string, v float64) {
	val := v
	switch edge {
	case "top":
		o.Top = &val
	case "bottom":
		o.Bottom = &val
	case "left":
		o.Left = &val
	case "right":
		o.Right = &val
	}
}

var ifDimensionRE = regexp.MustCompile(`^(width|height|aspect-ratio)\s*(<=|>=|==|!=|<|>)\s*([0-9.]+)\s*,\s*then(.*)$`)

// ResolveConditionalThen parses a fired Conditional's Then string into
// tuples, once internal/transform has determined the condition holds.
// Then carries the same `width:W,height:H,mode:M` shape as `im.resize`,
// so it reuses that parser directly.
func ResolveConditionalThen(then string) []paramregistry.Tuple {
	return parseImResize(then)
}

func parseIfDimension(raw string) (Conditional, bool) {
	m := ifDimensionRE.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Conditional{}, false
	}
	val, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Conditional{}, false
	}
	then := strings.TrimPrefix(m[4], "=")
	then = strings.TrimPrefix(then, " ")
	return Conditional{Prop: m[1], Op: m[2], Val: val, Then: then}, true
}

// parseImBundle handles `im=` which may bundle sub-parameters (including
// f=, r=, p=) extracted recursively.
func parseImBundle(raw string, reg *paramregistry.Registry) ([]paramregistry.Tuple, []Conditional) {
	kv := parseKV(splitTopLevel(raw, ','), "=")
	fakeQuery := make(map[string][]string, len(kv))
	for k, v := range kv {
		fakeQuery[k] = []string{v}
	}
	sub := Request{Query: fakeQuery, Registry: reg}

	var tuples []paramregistry.Tuple
	if t, err := ParseCompact(sub); err == nil {
		tuples = append(tuples, t...)
	}
	if t, err := ParseCanonical(sub); err == nil {
		for _, tup := range t {
			if tup.Priority >= 0 { // drop the pass-through-unknown noise from the synthetic query.
				tuples = append(tuples, tup)
			}
		}
	}
	return tuples, nil
}
