// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/imgedge/proxy/internal/config"
	"github.com/imgedge/proxy/internal/paramprocess"
	"github.com/imgedge/proxy/internal/paramvalue"
	"github.com/imgedge/proxy/internal/reqcontext"
)

// TestMain verifies that background cache writes (internal/cache's
// fire-and-forget rc.Background.Run path) never leak a goroutine past the
// end of the test binary.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memStore struct {
	entries map[string]Entry
	puts    int
}

func newMemStore() *memStore { return &memStore{entries: map[string]Entry{}} }

func (m *memStore) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (m *memStore) Put(ctx context.Context, fingerprint string, entry Entry) error {
	m.puts++
	m.entries[fingerprint] = entry
	return nil
}

func TestFingerprint_StableAcrossQueryParamOrder(t *testing.T) {
	om := &paramprocess.OptionMap{}
	om.Set("width", paramvalue.Number(300))
	om.Set("format", paramvalue.String("webp"))

	a := Fingerprint("/photo.jpg", "b=2&a=1", om, "webp")
	b := Fingerprint("/photo.jpg", "a=1&b=2", om, "webp")
	require.Equal(t, a, b)
}

func TestFingerprint_IgnoresDebugAndCacheBusterParams(t *testing.T) {
	om := &paramprocess.OptionMap{}
	om.Set("width", paramvalue.Number(300))

	withDebug := Fingerprint("/photo.jpg", "width=300&debug=true&_=12345", om, "jpeg")
	without := Fingerprint("/photo.jpg", "width=300", om, "jpeg")
	require.Equal(t, without, withDebug)
}

func TestFingerprint_DifferentOptionsProduceDifferentKeys(t *testing.T) {
	om1 := &paramprocess.OptionMap{}
	om1.Set("width", paramvalue.Number(300))
	om2 := &paramprocess.OptionMap{}
	om2.Set("width", paramvalue.Number(600))

	require.NotEqual(t, Fingerprint("/photo.jpg", "", om1, "jpeg"), Fingerprint("/photo.jpg", "", om2, "jpeg"))
}

func TestFingerprint_DifferentPathsProduceDifferentKeys(t *testing.T) {
	om := &paramprocess.OptionMap{}
	require.NotEqual(t, Fingerprint("/a.jpg", "", om, "jpeg"), Fingerprint("/b.jpg", "", om, "jpeg"))
}

func TestTTL_PathPrefixWinsOverStatusAndContentType(t *testing.T) {
	c := New(nil, config.CacheConfig{
		DefaultTTLSeconds: 60,
		TTLByPathPrefix:   map[string]int64{"/static/": 86400},
		TTLByStatusRange:  map[string]int64{"2xx": 300},
		TTLByContentType:  map[string]int64{"image/jpeg": 120},
	})
	require.Equal(t, int64(86400), c.TTL("/static/logo.png", 200, "image/png"))
}

func TestTTL_LongestPrefixWins(t *testing.T) {
	c := New(nil, config.CacheConfig{
		DefaultTTLSeconds: 60,
		TTLByPathPrefix:   map[string]int64{"/static/": 100, "/static/images/": 500},
	})
	require.Equal(t, int64(500), c.TTL("/static/images/a.jpg", 200, "image/jpeg"))
}

func TestTTL_FallsBackToStatusRangeThenContentTypeThenDefault(t *testing.T) {
	c := New(nil, config.CacheConfig{
		DefaultTTLSeconds: 60,
		TTLByStatusRange:  map[string]int64{"4xx": 10},
		TTLByContentType:  map[string]int64{"image/jpeg": 120},
	})
	require.Equal(t, int64(10), c.TTL("/a.jpg", 404, "image/jpeg"))
	require.Equal(t, int64(120), c.TTL("/a.jpg", 200, "image/jpeg"))
	require.Equal(t, int64(60), c.TTL("/a.jpg", 200, "image/png"))
}

func TestTags_AssembledInFixedPriorityOrderAndTruncated(t *testing.T) {
	c := New(nil, config.CacheConfig{MaxTagLength: 2})
	om := &paramprocess.OptionMap{}
	om.Set("format", paramvalue.String("webp"))
	om.Set("quality", paramvalue.Number(95))
	om.ExplicitWidth = true
	om.Set("width", paramvalue.Number(300))

	tags := c.Tags("/photo.jpg", om, "thumbnail")
	require.Len(t, tags, 2)
	require.Equal(t, "derivative:thumbnail", tags[0])
	require.Equal(t, "format:webp", tags[1])
}

func TestTags_NoOverflowKeepsAllTags(t *testing.T) {
	c := New(nil, config.CacheConfig{})
	om := &paramprocess.OptionMap{}
	om.Set("format", paramvalue.String("jpeg"))

	tags := c.Tags("/photo.jpg", om, "hero")
	require.Contains(t, tags, "derivative:hero")
	require.Contains(t, tags, "format:jpeg")
}

func TestBypass_DisallowedPathPrefix(t *testing.T) {
	c := New(nil, config.CacheConfig{})
	req := httptest.NewRequest(http.MethodGet, "/private/secret.jpg", nil)
	require.True(t, c.Bypass(req, "/private/secret.jpg", []string{"/private/"}, false, false))
}

func TestBypass_QueryParamAndCacheControlHeaders(t *testing.T) {
	c := New(nil, config.CacheConfig{BypassQueryParam: "nocache"})
	req := httptest.NewRequest(http.MethodGet, "/photo.jpg?nocache=1", nil)
	require.True(t, c.Bypass(req, "/photo.jpg", nil, false, false))

	req2 := httptest.NewRequest(http.MethodGet, "/photo.jpg", nil)
	req2.Header.Set("Cache-Control", "no-store")
	require.True(t, c.Bypass(req2, "/photo.jpg", nil, false, false))
}

func TestBypass_NoConditionsMetAllowsCache(t *testing.T) {
	c := New(nil, config.CacheConfig{})
	req := httptest.NewRequest(http.MethodGet, "/photo.jpg", nil)
	require.False(t, c.Bypass(req, "/photo.jpg", nil, false, false))
}

func TestLookup_DisabledReturnsMiss(t *testing.T) {
	store := newMemStore()
	store.entries["fp"] = Entry{ContentType: "image/jpeg"}
	c := New(store, config.CacheConfig{KVCacheEnabled: false})

	_, ok := c.Lookup(context.Background(), "fp")
	require.False(t, ok)
}

func TestLookup_EnabledReturnsStoredEntry(t *testing.T) {
	store := newMemStore()
	store.entries["fp"] = Entry{ContentType: "image/jpeg"}
	c := New(store, config.CacheConfig{KVCacheEnabled: true})

	entry, ok := c.Lookup(context.Background(), "fp")
	require.True(t, ok)
	require.Equal(t, "image/jpeg", entry.ContentType)
}

func TestWrite_SynchronousForSmallBodyWithoutBackgroundHandle(t *testing.T) {
	store := newMemStore()
	c := New(store, config.CacheConfig{KVCacheEnabled: true})

	c.Write(context.Background(), nil, "fp", Entry{Body: []byte("small")})
	require.Equal(t, 1, store.puts)
}

func TestWrite_SkipsLargeBodyWithoutBackgroundHandle(t *testing.T) {
	store := newMemStore()
	c := New(store, config.CacheConfig{KVCacheEnabled: true})

	big := make([]byte, maxSyncWriteBytes+1)
	c.Write(context.Background(), nil, "fp", Entry{Body: big})
	require.Equal(t, 0, store.puts)
}

type syncBackground struct{ ran bool }

func (b *syncBackground) Run(fn func(context.Context) error) {
	b.ran = true
	_ = fn(context.Background())
}

func TestWrite_UsesBackgroundHandleWhenAvailable(t *testing.T) {
	store := newMemStore()
	c := New(store, config.CacheConfig{KVCacheEnabled: true})
	bg := &syncBackground{}
	rc := reqcontext.New("req-1", nil, bg, false)

	big := make([]byte, maxSyncWriteBytes+1)
	c.Write(context.Background(), rc, "fp", Entry{Body: big})
	require.True(t, bg.ran)
	require.Equal(t, 1, store.puts)
}

func TestWrite_DisabledDoesNothing(t *testing.T) {
	store := newMemStore()
	c := New(store, config.CacheConfig{KVCacheEnabled: false})

	c.Write(context.Background(), nil, "fp", Entry{Body: []byte("x")})
	require.Equal(t, 0, store.puts)
}
