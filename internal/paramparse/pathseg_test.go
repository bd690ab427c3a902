// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package paramparse

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imgedge/proxy/internal/paramregistry"
)

func newPathRequest(t *testing.T, path, rawQuery string) Request {
	t.Helper()
	q, err := url.ParseQuery(rawQuery)
	require.NoError(t, err)
	return Request{Path: path, RawQuery: rawQuery, Query: q, Registry: paramregistry.Default()}
}

func TestFactory_PathSegmentTriggerFiresOnEmbeddedSegments(t *testing.T) {
	r := newPathRequest(t, "/_width=300/_quality=80/photo.jpg", "")
	parsers := Factory(r)

	found := false
	for _, p := range parsers {
		if _, ok := p.(PathSegmentParser); ok {
			found = true
		}
	}
	require.True(t, found, "PathSegmentParser must be selected for a path carrying _key=value segments")
}

func TestFactory_NoPathSegmentTriggerForPlainPath(t *testing.T) {
	r := newPathRequest(t, "/photos/2024/photo.jpg", "")
	for _, p := range Factory(r) {
		_, ok := p.(PathSegmentParser)
		require.False(t, ok, "PathSegmentParser must not be selected without a parameter segment")
	}
}

func TestParsePathSegments_ExtractsTuplesWithPathPriority(t *testing.T) {
	r := newPathRequest(t, "/_width=300/_quality=80/photo.jpg", "")
	tuples, err := ParsePathSegments(r)
	require.NoError(t, err)
	require.Len(t, tuples, 2)

	byName := map[string]paramregistry.Tuple{}
	for _, tu := range tuples {
		byName[tu.Name] = tu
	}

	width := byName["width"]
	n, ok := width.Value.AsNumber()
	require.True(t, ok)
	require.Equal(t, 300.0, n)
	require.True(t, width.Explicit)
	require.Equal(t, paramregistry.SourcePath, width.Source)
	require.Equal(t, paramregistry.PriorityPath, width.Priority)

	quality := byName["quality"]
	n, ok = quality.Value.AsNumber()
	require.True(t, ok)
	require.Equal(t, 80.0, n)
}

func TestParsePathSegments_AliasSegmentResolvesToCanonical(t *testing.T) {
	r := newPathRequest(t, "/_w=640/photo.jpg", "")
	tuples, err := ParsePathSegments(r)
	require.NoError(t, err)
	require.Len(t, tuples, 1)
	require.Equal(t, "width", tuples[0].Name)
}

func TestParsePathSegments_UnrecognizedSegmentIgnored(t *testing.T) {
	r := newPathRequest(t, "/_notaparam=1/photo.jpg", "")
	tuples, err := ParsePathSegments(r)
	require.NoError(t, err)
	require.Empty(t, tuples)
}

func TestStripRecognizedSegments(t *testing.T) {
	reg := paramregistry.Default()
	require.Equal(t, "/photo.jpg", StripRecognizedSegments("/_width=300/_quality=80/photo.jpg", reg))
	// A literal directory that merely looks like a segment for an unknown
	// name stays in the path.
	require.Equal(t, "/_notaparam=1/photo.jpg", StripRecognizedSegments("/_notaparam=1/photo.jpg", reg))
	require.Equal(t, "/photos/photo.jpg", StripRecognizedSegments("/photos/photo.jpg", reg))
}
