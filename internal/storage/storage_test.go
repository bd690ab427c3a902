// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/imgedge/proxy/internal/backendauth"
	"github.com/imgedge/proxy/internal/config"
	"github.com/imgedge/proxy/internal/reqcontext"
)

// TestMain verifies that the Fetcher's errgroup-based concurrent path race
// (fetchOrigin's object-store transformed-path/normalized-path race, see storage.go) never
// leaves a goroutine running past the end of the test binary.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAuth struct{}

func (fakeAuth) AuthHandler(*config.AuthDescriptor) backendauth.Handler {
	h, _ := backendauth.New(false, nil)
	return h
}

type fakeObjectStore struct {
	get func(ctx context.Context, binding, key string, cond ConditionalOptions) (*ObjectResult, error)
}

func (f *fakeObjectStore) Get(ctx context.Context, binding, key string, cond ConditionalOptions) (*ObjectResult, error) {
	return f.get(ctx, binding, key, cond)
}

func newReq(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "/photo.jpg", nil)
	require.NoError(t, err)
	return req
}

func TestFetch_ObjectStoreHit(t *testing.T) {
	store := &fakeObjectStore{get: func(ctx context.Context, binding, key string, cond ConditionalOptions) (*ObjectResult, error) {
		require.Equal(t, "bucket", binding)
		return &ObjectResult{Status: http.StatusOK, ContentType: "image/jpeg", Body: io.NopCloser(strings.NewReader("bytes"))}, nil
	}}
	f := New(store, fakeAuth{})

	profile := config.StorageProfile{
		Priority: []config.OriginKind{config.OriginObjectStore},
		Origins: map[config.OriginKind]*config.OriginConfig{
			config.OriginObjectStore: {Binding: "bucket"},
		},
	}
	res, err := f.Fetch(context.Background(), nil, newReq(t), "/photo.jpg", profile)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, "image/jpeg", res.ContentType)
}

func TestFetch_ObjectStoreMissFallsThroughToRemote(t *testing.T) {
	store := &fakeObjectStore{get: func(ctx context.Context, binding, key string, cond ConditionalOptions) (*ObjectResult, error) {
		return nil, nil // not found
	}}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("remote-bytes"))
	}))
	defer origin.Close()

	f := New(store, fakeAuth{})
	profile := config.StorageProfile{
		Priority: []config.OriginKind{config.OriginObjectStore, config.OriginRemote},
		Origins: map[config.OriginKind]*config.OriginConfig{
			config.OriginObjectStore: {Binding: "bucket"},
			config.OriginRemote:      {Binding: "remote", URLTemplate: origin.URL},
		},
	}
	res, err := f.Fetch(context.Background(), nil, newReq(t), "/photo.jpg", profile)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, "image/png", res.ContentType)
	require.Equal(t, "remote", res.Binding)
}

func TestFetch_NonSuccessTriesNextOrigin(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer good.Close()

	f := New(nil, fakeAuth{})
	profile := config.StorageProfile{
		Priority: []config.OriginKind{config.OriginRemote, config.OriginFallback},
		Origins: map[config.OriginKind]*config.OriginConfig{
			config.OriginRemote:   {Binding: "remote", URLTemplate: bad.URL},
			config.OriginFallback: {Binding: "fallback", URLTemplate: good.URL},
		},
	}
	res, err := f.Fetch(context.Background(), nil, newReq(t), "/photo.jpg", profile)
	require.NoError(t, err)
	require.Equal(t, "fallback", res.Binding)
}

func TestFetch_AllOriginsFailReturnsFetchError(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	f := New(nil, fakeAuth{})
	profile := config.StorageProfile{
		Priority: []config.OriginKind{config.OriginRemote},
		Origins: map[config.OriginKind]*config.OriginConfig{
			config.OriginRemote: {Binding: "remote", URLTemplate: bad.URL},
		},
	}
	_, err := f.Fetch(context.Background(), nil, newReq(t), "/photo.jpg", profile)
	require.Error(t, err)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Len(t, fetchErr.Attempts, 1)
	require.Equal(t, config.OriginRemote, fetchErr.Attempts[0].Origin)
}

func TestFetch_NotModifiedShortCircuits(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, `"abc"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer origin.Close()

	f := New(nil, fakeAuth{})
	profile := config.StorageProfile{
		Priority: []config.OriginKind{config.OriginRemote},
		Origins: map[config.OriginKind]*config.OriginConfig{
			config.OriginRemote: {Binding: "remote", URLTemplate: origin.URL},
		},
	}
	req := newReq(t)
	req.Header.Set("If-None-Match", `"abc"`)
	res, err := f.Fetch(context.Background(), nil, req, "/photo.jpg", profile)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotModified, res.Status)
}

func TestFetch_RangeRequestProducesPartialContent(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bytes=0-99", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 0-99/200")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("partial"))
	}))
	defer origin.Close()

	f := New(nil, fakeAuth{})
	profile := config.StorageProfile{
		Priority: []config.OriginKind{config.OriginRemote},
		Origins: map[config.OriginKind]*config.OriginConfig{
			config.OriginRemote: {Binding: "remote", URLTemplate: origin.URL},
		},
	}
	req := newReq(t)
	req.Header.Set("Range", "bytes=0-99")
	res, err := f.Fetch(context.Background(), nil, req, "/photo.jpg", profile)
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, res.Status)
	require.Equal(t, "bytes 0-99/200", res.ContentRange)
}

func TestFetch_PathTransformAppliedBeforeRequest(t *testing.T) {
	var gotPath string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	f := New(nil, fakeAuth{})
	profile := config.StorageProfile{
		Priority: []config.OriginKind{config.OriginRemote},
		Origins: map[config.OriginKind]*config.OriginConfig{
			config.OriginRemote: {
				Binding: "remote", URLTemplate: origin.URL,
				PathTransform: &config.PathTransform{Segment: "avatars", Prefix: "/v2", RemovePrefix: true},
			},
		},
	}
	_, err := f.Fetch(context.Background(), nil, newReq(t), "/avatars/42.jpg", profile)
	require.NoError(t, err)
	require.Equal(t, "/v2/42.jpg", gotPath)
}

func TestFetch_BreadcrumbsRecordedOnRequestContext(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	f := New(nil, fakeAuth{})
	profile := config.StorageProfile{
		Priority: []config.OriginKind{config.OriginRemote},
		Origins: map[config.OriginKind]*config.OriginConfig{
			config.OriginRemote: {Binding: "remote", URLTemplate: bad.URL},
		},
	}
	rc := reqcontext.New("req-1", nil, nil, false)
	_, err := f.Fetch(context.Background(), rc, newReq(t), "/photo.jpg", profile)
	require.Error(t, err)
	require.Len(t, rc.Breadcrumbs(), 1)
	require.Equal(t, "storage.attempt", rc.Breadcrumbs()[0].Message)
}
