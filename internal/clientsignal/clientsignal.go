// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package clientsignal implements the Client Signal Detector: parses request headers into a Capability Record and a
// performance budget the Transform Orchestrator may use to enrich an
// Option Map, unless the user already supplied explicit values.
//
// No other package in this codebase's origin owns a client-capability
// concept (the upstream gateway never inspects a browser's rendering
// capabilities); the plain struct-plus-constructor shape and the
// bounded-LRU static table follow this repo's general idiom
// (`hashicorp/golang-lru/v2`, already used by internal/storage's path
// cache) rather than any single existing file.
package clientsignal

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/imgedge/proxy/internal/mathx"
	"github.com/imgedge/proxy/internal/reqcontext"
)

// DeviceClass buckets the requesting device's rendering capacity.
type DeviceClass string

const (
	DeviceHighEnd DeviceClass = "high-end"
	DeviceMidRange DeviceClass = "mid-range"
	DeviceLowEnd  DeviceClass = "low-end"
)

// NetworkClass buckets effective connection quality.
type NetworkClass string

const (
	NetworkFast   NetworkClass = "fast"
	NetworkMedium NetworkClass = "medium"
	NetworkSlow   NetworkClass = "slow"
)

// Capability is the Client Capability Record derived from request
// headers: device class, network class, and the image formats/pixel
// density the client can render.
type Capability struct {
	DeviceClass   DeviceClass
	Network       NetworkClass
	AcceptsWebP   bool
	AcceptsAVIF   bool
	DPR           float64
	ViewportWidth float64
	SaveData      bool
}

// Budget is the performance budget the detector derives from a
// Capability: "quality range {min,max,target}, max_width,
// max_height, preferred_format, effective DPR (capped at 3)."
type Budget struct {
	QualityMin, QualityMax, QualityTarget float64
	// MaxWidth/MaxHeight are the device-class bound regardless of viewport.
	MaxWidth, MaxHeight float64
	// SuggestedWidth is the viewport×DPR-derived, breakpoint-snapped width,
	// or 0 when no viewport hint was present. Only this field — never
	// MaxWidth — is written into an Option Map that doesn't already carry
	// an explicit width.
	SuggestedWidth  float64
	PreferredFormat string
	EffectiveDPR    float64
}

// maxDPR is the cap applied to the effective device pixel ratio
// regardless of what Sec-CH-DPR reports.
const maxDPR = 3.0

// Detector produces Capability records and Budgets from requests,
// consulting a bounded, build-time format-support table for legacy
// User-Agent-only clients.
type Detector struct {
	formatSupport *lru.Cache[string, uaSupport]
	responsiveWidths []float64
}

// uaSupport is the cached {webp, avif} support outcome for one User-Agent
// string.
type uaSupport struct {
	webp, avif bool
}

// formatSupportCacheSize bounds the per-process UA support cache.
const formatSupportCacheSize = 4096

// New builds a Detector. responsiveWidths are the configured breakpoints
// used to round a viewport-derived width up to the next supported size.
func New(responsiveWidths []float64) *Detector {
	cache, _ := lru.New[string, uaSupport](formatSupportCacheSize)
	return &Detector{formatSupport: cache, responsiveWidths: responsiveWidths}
}

// Detect parses req's headers into a Capability, memoizing the result on
// rc for the lifetime of the request.
func (d *Detector) Detect(req *http.Request, rc *reqcontext.Context) Capability {
	if rc != nil {
		if memo, ok := rc.ClientSignalMemo(); ok {
			if cap, ok := memo.(Capability); ok {
				return cap
			}
		}
	}

	h := req.Header
	cap := Capability{
		DeviceClass: DeviceMidRange,
		Network:     NetworkFast,
		DPR:         1,
		SaveData:    parseBool(h.Get("Save-Data")) || h.Get("Save-Data") == "on",
	}

	cap.AcceptsWebP, cap.AcceptsAVIF = d.acceptedFormats(h)

	if dpr := firstNonEmpty(h.Get("Sec-CH-DPR"), h.Get("DPR")); dpr != "" {
		if f, err := strconv.ParseFloat(dpr, 64); err == nil && f > 0 {
			cap.DPR = f
		}
	}
	cap.DPR = mathx.Clamp(cap.DPR, 0, maxDPR)

	if vw := firstNonEmpty(h.Get("Sec-CH-Viewport-Width"), h.Get("Viewport-Width")); vw != "" {
		if f, err := strconv.ParseFloat(vw, 64); err == nil && f > 0 {
			cap.ViewportWidth = f
		}
	}

	cap.Network = classifyNetwork(h)
	cap.DeviceClass = classifyDevice(h, cap.Network)

	if rc != nil {
		rc.SetClientSignalMemo(cap)
	}
	return cap
}

// Budget derives a performance budget from cap. Save-Data caps quality
// and disables large formats (AVIF).
func (d *Detector) Budget(cap Capability) Budget {
	b := Budget{EffectiveDPR: cap.DPR, PreferredFormat: "jpeg"}

	switch {
	case cap.AcceptsAVIF && !cap.SaveData:
		b.PreferredFormat = "avif"
	case cap.AcceptsWebP:
		b.PreferredFormat = "webp"
	}

	switch cap.Network {
	case NetworkSlow:
		b.QualityMin, b.QualityMax, b.QualityTarget = 30, 60, 45
	case NetworkMedium:
		b.QualityMin, b.QualityMax, b.QualityTarget = 50, 80, 65
	default:
		b.QualityMin, b.QualityMax, b.QualityTarget = 60, 90, 80
	}
	if cap.SaveData {
		b.QualityMax = mathx.Clamp(b.QualityMax, 0, 50)
		b.QualityTarget = mathx.Clamp(b.QualityTarget, 0, 40)
	}

	switch cap.DeviceClass {
	case DeviceLowEnd:
		b.MaxWidth, b.MaxHeight = 1024, 1024
	case DeviceMidRange:
		b.MaxWidth, b.MaxHeight = 2048, 2048
	default:
		b.MaxWidth, b.MaxHeight = 4096, 4096
	}

	if cap.ViewportWidth > 0 {
		target := cap.ViewportWidth * cap.DPR
		if snapped := d.snapResponsiveWidth(target); snapped > 0 {
			b.SuggestedWidth = snapped
			b.MaxWidth = min(b.MaxWidth, snapped)
		}
	}
	return b
}

// snapResponsiveWidth rounds target up to the next configured responsive
// breakpoint, falling back to the largest breakpoint if target exceeds
// them all. Returns 0 if no breakpoint is configured.
func (d *Detector) snapResponsiveWidth(target float64) float64 {
	if len(d.responsiveWidths) == 0 {
		return 0
	}
	best := 0.0
	largest := d.responsiveWidths[0]
	for _, w := range d.responsiveWidths {
		if w > largest {
			largest = w
		}
		if w >= target && (best == 0 || w < best) {
			best = w
		}
	}
	if best == 0 {
		return largest
	}
	return best
}

func (d *Detector) acceptedFormats(h http.Header) (webp, avif bool) {
	accept := h.Get("Accept")
	if strings.Contains(accept, "image/webp") {
		webp = true
	}
	if strings.Contains(accept, "image/avif") {
		avif = true
	}
	if webp || avif {
		return webp, avif
	}
	// No explicit Accept image negotiation: fall back to the static
	// browser+version support table (legacy clients predating Accept
	// image negotiation).
	return d.legacyFormatSupport(h.Get("User-Agent"))
}

func (d *Detector) legacyFormatSupport(ua string) (webp, avif bool) {
	if ua == "" {
		return false, false
	}
	if cached, ok := d.formatSupport.Get(ua); ok {
		return cached.webp, cached.avif
	}
	s := lookupStaticFormatSupport(ua)
	d.formatSupport.Add(ua, s)
	return s.webp, s.avif
}

var browserVersionRE = regexp.MustCompile(`(Chrome|Chromium|Firefox|OPR|Edg|Version)/(\d+)`)

// staticFormatSupportTable is the build-time {webp, avif} support table
// keyed by browser family, derived from each family's
// documented minimum version.
var staticFormatSupportTable = map[string]struct{ webpMin, avifMin int }{
	"Chrome":   {webpMin: 32, avifMin: 85},
	"Chromium": {webpMin: 32, avifMin: 85},
	"OPR":      {webpMin: 19, avifMin: 71},
	"Edg":      {webpMin: 18, avifMin: 93},
	"Firefox":  {webpMin: 65, avifMin: 93},
	"Version":  {webpMin: 14, avifMin: 16}, // Safari identifies itself via "Version/N Safari".
}

// lookupStaticFormatSupport resolves a raw User-Agent string against
// staticFormatSupportTable using a minimal brand+major-version extraction
// scoped to exactly the families the table covers.
func lookupStaticFormatSupport(ua string) uaSupport {
	m := browserVersionRE.FindStringSubmatch(ua)
	if m == nil {
		return uaSupport{}
	}
	major, err := strconv.Atoi(m[2])
	if err != nil {
		return uaSupport{}
	}
	entry, ok := staticFormatSupportTable[m[1]]
	if !ok {
		return uaSupport{}
	}
	return uaSupport{webp: major >= entry.webpMin, avif: major >= entry.avifMin}
}

func classifyNetwork(h http.Header) NetworkClass {
	switch strings.ToLower(h.Get("ECT")) {
	case "slow-2g", "2g":
		return NetworkSlow
	case "3g":
		return NetworkMedium
	case "4g":
		return NetworkFast
	}
	if rtt, err := strconv.Atoi(h.Get("RTT")); err == nil {
		if rtt > 650 {
			return NetworkSlow
		}
		if rtt > 270 {
			return NetworkMedium
		}
	}
	if downlink, err := strconv.ParseFloat(h.Get("Downlink"), 64); err == nil {
		if downlink < 0.7 {
			return NetworkSlow
		}
		if downlink < 2 {
			return NetworkMedium
		}
	}
	return NetworkFast
}

func classifyDevice(h http.Header, network NetworkClass) DeviceClass {
	if dt := h.Get("CF-Device-Type"); dt != "" {
		switch strings.ToLower(dt) {
		case "mobile":
			return DeviceMidRange
		case "tablet":
			return DeviceMidRange
		case "desktop":
			return DeviceHighEnd
		}
	}
	if mem, err := strconv.ParseFloat(h.Get("Device-Memory"), 64); err == nil {
		switch {
		case mem >= 8:
			return DeviceHighEnd
		case mem >= 4:
			return DeviceMidRange
		default:
			return DeviceLowEnd
		}
	}
	if cores, err := strconv.Atoi(h.Get("Hardware-Concurrency")); err == nil {
		switch {
		case cores >= 8:
			return DeviceHighEnd
		case cores >= 4:
			return DeviceMidRange
		default:
			return DeviceLowEnd
		}
	}
	if network == NetworkSlow {
		return DeviceLowEnd
	}
	return DeviceMidRange
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
