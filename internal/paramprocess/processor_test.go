// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package paramprocess

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/imgedge/proxy/internal/paramparse"
	"github.com/imgedge/proxy/internal/paramregistry"
	"github.com/imgedge/proxy/internal/paramvalue"
)

// resolve runs the full parser factory + processor pipeline against a raw
// path and query string, mirroring how internal/httpedge will call it.
func resolve(t *testing.T, reg *paramregistry.Registry, path, rawQuery string) *OptionMap {
	t.Helper()
	q, err := url.ParseQuery(rawQuery)
	require.NoError(t, err)
	r := paramparse.Request{Path: path, RawQuery: rawQuery, Query: q, Registry: reg}

	var tuples []paramregistry.Tuple
	var conds []paramparse.Conditional
	for _, parser := range paramparse.Factory(r) {
		res, err := parser.Parse(r)
		require.NoError(t, err)
		tuples = append(tuples, res.Tuples...)
		conds = append(conds, res.Conditionals...)
	}

	return New(reg).Process(tuples, conds)
}

// Scenario 1: /img.jpg?f=xl&height=600 -> { width: 900 (explicit), height:
// 600 (explicit) }, no `f` present.
func TestProcess_Scenario1_SizeCodeAndExplicitHeight(t *testing.T) {
	reg := paramregistry.Default()
	om := resolve(t, reg, "/img.jpg", "f=xl&height=600")

	width, ok := om.Get("width")
	require.True(t, ok)
	n, _ := width.AsNumber()
	require.Equal(t, float64(900), n)
	require.True(t, om.ExplicitWidth)

	height, ok := om.Get("height")
	require.True(t, ok)
	n, _ = height.AsNumber()
	require.Equal(t, float64(600), n)
	require.True(t, om.ExplicitHeight)

	_, ok = om.Get("f")
	require.False(t, ok)
}

// Scenario 2: /img.jpg?r=16-9&p=0.3,0.7 -> { aspect: "16:9", focal:
// "0.3,0.7", ctx: true }.
func TestProcess_Scenario2_AspectAndFocalNormalization(t *testing.T) {
	reg := paramregistry.Default()
	om := resolve(t, reg, "/img.jpg", "r=16-9&p=0.3,0.7")

	aspect, ok := om.Get("aspect")
	require.True(t, ok)
	s, _ := aspect.AsString()
	require.Equal(t, "16:9", s)

	focal, ok := om.Get("focal")
	require.True(t, ok)
	c, _ := focal.AsCoordinate()
	require.Equal(t, 0.3, c.X)
	require.Equal(t, 0.7, c.Y)

	ctx, ok := om.Get("ctx")
	require.True(t, ok)
	b, _ := ctx.AsBool()
	require.True(t, b)
}

// Scenario 3: /_width=300/_quality=80/photo.jpg?quality=50 -> { width: 300
// (explicit), quality: 80 } — path beats query.
func TestProcess_Scenario3_PathBeatsQuery(t *testing.T) {
	reg := paramregistry.Default()
	om := resolve(t, reg, "/_width=300/_quality=80/photo.jpg", "quality=50")

	width, ok := om.Get("width")
	require.True(t, ok)
	n, _ := width.AsNumber()
	require.Equal(t, float64(300), n)
	require.True(t, om.ExplicitWidth)

	quality, ok := om.Get("quality")
	require.True(t, ok)
	n, _ = quality.AsNumber()
	require.Equal(t, float64(80), n)
}

// Scenario 4: /img.jpg?im.resize=width:800,height:600,mode:fit&im.quality=70
// -> { width: 800, height: 600, fit: "contain", quality: 70 }.
func TestProcess_Scenario4_LegacyResizeAndQuality(t *testing.T) {
	reg := paramregistry.Default()
	om := resolve(t, reg, "/img.jpg", "im.resize=width:800,height:600,mode:fit&im.quality=70")

	width, ok := om.Get("width")
	require.True(t, ok)
	n, _ := width.AsNumber()
	require.Equal(t, float64(800), n)

	height, ok := om.Get("height")
	require.True(t, ok)
	n, _ = height.AsNumber()
	require.Equal(t, float64(600), n)

	fit, ok := om.Get("fit")
	require.True(t, ok)
	s, _ := fit.AsString()
	require.Equal(t, "contain", s)

	quality, ok := om.Get("quality")
	require.True(t, ok)
	n, _ = quality.AsNumber()
	require.Equal(t, float64(70), n)
}

// Scenario 5: im.composite=url:https://cdn/x.png,placement:southeast,
// opacity:50,offset:10 -> draw list [{ url, bottom: 10, right: 10,
// opacity: 0.5 }].
func TestProcess_Scenario5_CompositeSoutheast(t *testing.T) {
	reg := paramregistry.Default()
	raw := "im.composite=" + url.QueryEscape("url:https://cdn/x.png,placement:southeast,opacity:50,offset:10")
	om := resolve(t, reg, "/img.jpg", raw)

	draw, ok := om.Get("draw")
	require.True(t, ok)
	overlays, ok := draw.AsOverlayList()
	require.True(t, ok)
	require.Len(t, overlays, 1)

	want := paramvalue.Overlay{
		URL:     "https://cdn/x.png",
		Bottom:  ptr.To(10.0),
		Right:   ptr.To(10.0),
		Opacity: 0.5,
	}
	if diff := cmp.Diff(want, overlays[0]); diff != "" {
		t.Errorf("overlay mismatch (-want +got):\n%s", diff)
	}
}

// Invariant: unknown registered size codes are discarded, never fatal.
func TestProcess_UnknownSizeCodeDropped(t *testing.T) {
	reg := paramregistry.Default()
	om := resolve(t, reg, "/img.jpg", "f=not-a-code")

	_, ok := om.Get("width")
	require.False(t, ok)
	_, ok = om.Get("f")
	require.False(t, ok)
}

// Invariant: legacy imwidth never overrides an already-explicit width.
func TestProcess_LegacyDimensionDoesNotOverrideExplicit(t *testing.T) {
	reg := paramregistry.Default()
	om := resolve(t, reg, "/img.jpg", "width=500&imwidth=999")

	width, ok := om.Get("width")
	require.True(t, ok)
	n, _ := width.AsNumber()
	require.Equal(t, float64(500), n)
}

// Invariant: an entirely empty option map is a valid outcome.
func TestProcess_EmptyOptionMap(t *testing.T) {
	reg := paramregistry.Default()
	om := resolve(t, reg, "/img.jpg", "")
	require.Empty(t, om.Values)
}
