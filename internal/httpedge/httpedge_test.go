// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package httpedge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imgedge/proxy/internal/cache"
	"github.com/imgedge/proxy/internal/clientsignal"
	"github.com/imgedge/proxy/internal/config"
	"github.com/imgedge/proxy/internal/paramregistry"
	"github.com/imgedge/proxy/internal/runtimeconfig"
	"github.com/imgedge/proxy/internal/storage"
	"github.com/imgedge/proxy/internal/transform"
)

type memStore struct{ entries map[string]cache.Entry }

func newMemStore() *memStore { return &memStore{entries: map[string]cache.Entry{}} }

func (m *memStore) Get(ctx context.Context, fingerprint string) (*cache.Entry, bool, error) {
	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (m *memStore) Put(ctx context.Context, fingerprint string, entry cache.Entry) error {
	m.entries[fingerprint] = entry
	return nil
}

type syncBackground struct{}

func (syncBackground) Run(fn func(context.Context) error) { _ = fn(context.Background()) }

type fakePrimitive struct {
	fail        bool
	lastOptions map[string]string
}

func (f *fakePrimitive) Transform(ctx context.Context, sourceURL string, options map[string]string) (*transform.PrimitiveResult, error) {
	f.lastOptions = options
	if f.fail {
		return nil, errors.New("primitive unavailable")
	}
	return &transform.PrimitiveResult{
		StatusCode:  http.StatusOK,
		ContentType: "image/" + options["format"],
		Body:        io.NopCloser(strings.NewReader("transformed-bytes")),
	}, nil
}

// buildProxy wires a full Proxy against a single origin server, mirroring
// how cmd/edgeproxy's main would assemble one at startup.
func buildProxy(t *testing.T, origin *httptest.Server, prim transform.Primitive, cfg *config.Config) (*Proxy, *http.ServeMux) {
	t.Helper()
	if cfg.DefaultProfile.Origins == nil {
		cfg.DefaultProfile = config.StorageProfile{
			Priority: []config.OriginKind{config.OriginRemote},
			Origins: map[config.OriginKind]*config.OriginConfig{
				config.OriginRemote: {Binding: "origin", URLTemplate: origin.URL},
			},
		}
	}

	rcfg, err := runtimeconfig.New(cfg)
	require.NoError(t, err)

	fetcher := storage.New(nil, rcfg)
	reg := paramregistry.Default()
	cacheCtl := cache.New(newMemStore(), cfg.Cache)
	detector := clientsignal.New(nil)
	orchestrator := transform.New(prim, detector, cfg.Transform, nil)

	proxy, mux, err := NewProxy(Deps{
		Config:       cfg,
		Router:       rcfg.Router,
		Fetcher:      fetcher,
		Registry:     reg,
		CacheCtl:     cacheCtl,
		Orchestrator: orchestrator,
		Detector:     detector,
		Background:   syncBackground{},
	})
	require.NoError(t, err)
	return proxy, mux
}

func TestOriginKindOf_PrefersResultOriginThenLastAttempt(t *testing.T) {
	require.Equal(t, config.OriginRemote, originKindOf(&storage.Result{Origin: config.OriginRemote}, nil))

	fe := &storage.FetchError{Attempts: []storage.Attempt{
		{Origin: config.OriginObjectStore, Status: 404},
		{Origin: config.OriginFallback, Status: 502},
	}}
	require.Equal(t, config.OriginFallback, originKindOf(nil, fe))

	require.Equal(t, config.OriginKind(""), originKindOf(nil, errors.New("boom")))
}

func TestServeHTTP_FetchesTransformsAndCaches(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("source-bytes"))
	}))
	defer origin.Close()

	cfg := &config.Config{Cache: config.CacheConfig{KVCacheEnabled: true, DefaultTTLSeconds: 60}}
	_, mux := buildProxy(t, origin, &fakePrimitive{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/photo.jpg?width=300&format=webp", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "transformed-bytes", rec.Body.String())
	require.Equal(t, "60", rec.Header().Get("Cache-Control")[len("public, max-age="):])
}

func TestServeHTTP_CacheHitSkipsTransformPrimitive(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("source-bytes"))
	}))
	defer origin.Close()

	cfg := &config.Config{Cache: config.CacheConfig{KVCacheEnabled: true, DefaultTTLSeconds: 60}}
	prim := &fakePrimitive{}
	_, mux := buildProxy(t, origin, prim, cfg)

	req := httptest.NewRequest(http.MethodGet, "/photo.jpg?width=300", nil)
	rec1 := httptest.NewRecorder()
	mux.ServeHTTP(rec1, req)
	require.Equal(t, http.StatusOK, rec1.Code)

	prim.fail = true // a second transform invocation would now error out.
	req2 := httptest.NewRequest(http.MethodGet, "/photo.jpg?width=300", nil)
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Equal(t, rec1.Body.String(), rec2.Body.String())
}

func TestServeHTTP_PathSegmentParamsAppliedAndStrippedFromOriginFetch(t *testing.T) {
	var gotPath string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("source-bytes"))
	}))
	defer origin.Close()

	cfg := &config.Config{}
	prim := &fakePrimitive{}
	_, mux := buildProxy(t, origin, prim, cfg)

	// The query also supplies width=100: the path segment must outrank it.
	req := httptest.NewRequest(http.MethodGet, "/_width=300/_quality=80/photo.jpg?width=100", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "/photo.jpg", gotPath)
	require.Equal(t, "300", prim.lastOptions["width"])
	require.Equal(t, "80", prim.lastOptions["quality"])
}

func TestServeHTTP_AllOriginsMissReturns404(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer origin.Close()

	cfg := &config.Config{}
	_, mux := buildProxy(t, origin, &fakePrimitive{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/missing.jpg", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTP_TransportFailureReturns502(t *testing.T) {
	unused := httptest.NewServer(http.NotFoundHandler())
	defer unused.Close()

	cfg := &config.Config{
		DefaultProfile: config.StorageProfile{
			Priority: []config.OriginKind{config.OriginRemote},
			Origins: map[config.OriginKind]*config.OriginConfig{
				config.OriginRemote: {Binding: "origin", URLTemplate: "http://127.0.0.1:0"},
			},
		},
	}
	_, mux := buildProxy(t, unused, &fakePrimitive{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/photo.jpg", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServeHTTP_DebugHeadersSurfacedWhenRequested(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("source-bytes"))
	}))
	defer origin.Close()

	cfg := &config.Config{DebugHeaderEnabled: true, Cache: config.CacheConfig{DefaultTTLSeconds: 30}}
	_, mux := buildProxy(t, origin, &fakePrimitive{}, cfg)

	req := httptest.NewRequest(http.MethodGet, "/photo.jpg?width=300&debug=true", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Debug-Cache-Key"))
	require.Equal(t, "30", rec.Header().Get("X-Debug-Cache-Ttl"))
}

func TestServeHTTP_MethodNotAllowedForPost(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	defer origin.Close()
	cfg := &config.Config{}
	_, mux := buildProxy(t, origin, &fakePrimitive{}, cfg)

	req := httptest.NewRequest(http.MethodPost, "/photo.jpg", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
