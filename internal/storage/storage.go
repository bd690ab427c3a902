// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package storage implements the Storage Fetcher: given a
// resolved Storage Profile, tries each configured origin kind in
// priority order, applying per-origin path rewriting, authentication,
// and conditional/range semantics, until one produces a result.
//
// The per-origin try-in-order-until-success loop with a per-attempt
// reason log is grounded on internal/mcpproxy/mcpproxy.go's backend
// selection within a route (try configured backends, record why each
// one was skipped); the object-store/remote split and conditional
// request handling are built directly on top of that shape.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/imgedge/proxy/internal/backendauth"
	"github.com/imgedge/proxy/internal/config"
	"github.com/imgedge/proxy/internal/pathrouter"
	"github.com/imgedge/proxy/internal/reqcontext"
)

// ConditionalOptions carries the incoming request's cache-validation and
// range headers through to an origin fetch.
type ConditionalOptions struct {
	IfNoneMatch     string
	IfModifiedSince string
	Range           string
}

// ObjectResult is what an ObjectStore binding's Get returns.
type ObjectResult struct {
	NotModified  bool
	Status       int // 200 or 206
	ContentType  string
	ContentRange string
	ETag         string
	LastModified string
	Size         int64
	Body         io.ReadCloser
}

// ObjectStore is the binding interface for the `object-store` origin
// kind: a key-value blob store reachable by a
// configured binding name, e.g. a Cloudflare R2/Workers KV-style
// binding. The edge runtime supplies the concrete implementation;
// nothing in this module talks to a real bucket.
type ObjectStore interface {
	Get(ctx context.Context, binding, key string, cond ConditionalOptions) (*ObjectResult, error)
}

// Result is a successful Storage Fetcher outcome.
type Result struct {
	Status       int
	ContentType  string
	ContentRange string
	ETag         string
	LastModified string
	Body         io.ReadCloser
	Origin       config.OriginKind
	Binding      string
}

// Attempt records one origin try, for the failure report and debug
// header surface.
type Attempt struct {
	Origin config.OriginKind
	Status int
	Reason string
}

// FetchError is returned when every configured origin failed.
type FetchError struct {
	Attempts []Attempt
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString("storage: all origins failed: ")
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %d %s", a.Origin, a.Status, a.Reason)
	}
	return b.String()
}

// AuthResolver returns the live Auth Provider handler for an Auth
// Descriptor, resolved once at startup (internal/runtimeconfig.RuntimeConfig
// satisfies this). Declared narrowly here so storage doesn't need to
// import runtimeconfig.
type AuthResolver interface {
	AuthHandler(desc *config.AuthDescriptor) backendauth.Handler
}

const pathCacheSize = 4096

// Fetcher is the Storage Fetcher.
type Fetcher struct {
	objectStore ObjectStore
	httpClient  *http.Client
	auth        AuthResolver
	pathCache   *lru.Cache[string, string]
}

// New builds a Fetcher. objectStore may be nil if no object-store origin
// is ever configured.
func New(objectStore ObjectStore, auth AuthResolver) *Fetcher {
	cache, _ := lru.New[string, string](pathCacheSize)
	return &Fetcher{
		objectStore: objectStore,
		httpClient:  &http.Client{},
		auth:        auth,
		pathCache:   cache,
	}
}

// Fetch tries profile's origins in priority order, returning the first
// success.
func (f *Fetcher) Fetch(ctx context.Context, rc *reqcontext.Context, req *http.Request, path string, profile config.StorageProfile) (*Result, error) {
	cond := ConditionalOptions{
		IfNoneMatch:     req.Header.Get("If-None-Match"),
		IfModifiedSince: req.Header.Get("If-Modified-Since"),
		Range:           req.Header.Get("Range"),
	}

	var attempts []Attempt
	for _, kind := range profile.Priority {
		origin := profile.Origins[kind]
		if origin == nil {
			continue
		}
		res, attempt, err := f.fetchOrigin(ctx, kind, origin, path, cond)
		if rc != nil {
			rc.AddBreadcrumb("storage.attempt", map[string]any{"origin": string(kind), "status": attempt.Status, "reason": attempt.Reason})
		}
		attempts = append(attempts, attempt)
		if err != nil {
			continue
		}
		// ok and not-modified are the only terminal success states;
		// everything else tries the next origin.
		if res != nil {
			return res, nil
		}
	}
	return nil, &FetchError{Attempts: attempts}
}

// fetchOrigin resolves one origin kind's rewritten path, races the
// transformed path against its leading-slash-stripped normalization when
// the transformed path misses, and dispatches to
// either the object-store binding or an HTTP fetch.
func (f *Fetcher) fetchOrigin(ctx context.Context, kind config.OriginKind, origin *config.OriginConfig, path string, cond ConditionalOptions) (*Result, Attempt, error) {
	transformed := f.rewrite(kind, origin.PathTransform, path)
	normalized := strings.TrimPrefix(transformed, "/")

	var authHandler backendauth.Handler
	if f.auth != nil {
		authHandler = f.auth.AuthHandler(origin.Auth)
	}

	try := func(p string) (*Result, error) {
		if kind == config.OriginObjectStore {
			return f.fetchObjectStore(ctx, origin, p, cond)
		}
		return f.fetchHTTP(ctx, kind, origin, authHandler, p, cond)
	}

	// The leading-slash race only makes sense for object-store keys (a
	// bucket key may or may not be stored with a leading slash); an HTTP
	// origin's path is a single well-defined URL, so it is fetched once.
	if kind != config.OriginObjectStore || normalized == transformed || normalized == "" {
		res, err := try(transformed)
		return attemptResult(kind, res, err)
	}

	// Race the transformed path against its normalized form; first
	// success wins. raceCtx is cancelled as soon as one side succeeds so
	// the loser's in-flight fetch is abandoned rather than run to completion.
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type raceResult struct {
		res *Result
		err error
	}
	resultCh := make(chan raceResult, 2)
	var g errgroup.Group
	for _, p := range []string{transformed, normalized} {
		p := p
		g.Go(func() error {
			var res *Result
			var err error
			if kind == config.OriginObjectStore {
				res, err = f.fetchObjectStore(raceCtx, origin, p, cond)
			} else {
				res, err = f.fetchHTTP(raceCtx, kind, origin, authHandler, p, cond)
			}
			resultCh <- raceResult{res: res, err: err}
			return nil
		})
	}
	go func() { g.Wait(); close(resultCh) }()

	var lastErr error
	for rr := range resultCh {
		if rr.err == nil && rr.res != nil {
			cancel()
			// Drain the loser so a second success doesn't leak its body.
			go func() {
				for other := range resultCh {
					if other.res != nil && other.res.Body != nil {
						other.res.Body.Close()
					}
				}
			}()
			return rr.res, Attempt{Origin: kind, Status: rr.res.Status, Reason: "ok"}, nil
		}
		if rr.err != nil {
			lastErr = rr.err
		}
	}
	return attemptResult(kind, nil, lastErr)
}

func attemptResult(kind config.OriginKind, res *Result, err error) (*Result, Attempt, error) {
	if err == nil && res != nil {
		return res, Attempt{Origin: kind, Status: res.Status, Reason: "ok"}, nil
	}
	if err == nil {
		return nil, Attempt{Origin: kind, Status: 404, Reason: "not-found"}, fmt.Errorf("storage: %s: not found", kind)
	}
	return nil, Attempt{Origin: kind, Status: statusFromErr(err), Reason: err.Error()}, err
}

// rewrite applies origin's path transform, caching the result for this
// (kind, transform, path) combination.
func (f *Fetcher) rewrite(kind config.OriginKind, transform *config.PathTransform, path string) string {
	key := string(kind) + "|" + path
	if transform != nil {
		key += "|" + transform.Segment + "|" + transform.Prefix
	}
	if cached, ok := f.pathCache.Get(key); ok {
		return cached
	}
	rewritten := pathrouter.RewritePath(path, transform)
	f.pathCache.Add(key, rewritten)
	return rewritten
}

func (f *Fetcher) fetchObjectStore(ctx context.Context, origin *config.OriginConfig, key string, cond ConditionalOptions) (*Result, error) {
	if f.objectStore == nil {
		return nil, fmt.Errorf("storage: object-store binding %q not configured", origin.Binding)
	}
	obj, err := f.objectStore.Get(ctx, origin.Binding, key, cond)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil // not-found: try next origin.
	}
	if obj.NotModified {
		return &Result{Status: http.StatusNotModified, ETag: obj.ETag, LastModified: obj.LastModified, Origin: config.OriginObjectStore, Binding: origin.Binding}, nil
	}
	status := obj.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &Result{
		Status: status, ContentType: obj.ContentType, ContentRange: obj.ContentRange,
		ETag: obj.ETag, LastModified: obj.LastModified, Body: obj.Body,
		Origin: config.OriginObjectStore, Binding: origin.Binding,
	}, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, kind config.OriginKind, origin *config.OriginConfig, authHandler backendauth.Handler, path string, cond ConditionalOptions) (*Result, error) {
	if origin.URLTemplate == "" {
		return nil, fmt.Errorf("storage: origin %q has no urlTemplate", origin.Binding)
	}
	rawURL := strings.TrimSuffix(origin.URLTemplate, "/") + path

	fetchCtx := ctx
	var cancel context.CancelFunc
	if origin.FetchOptions != nil && origin.FetchOptions.TimeoutSeconds > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, time.Duration(origin.FetchOptions.TimeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	var signedURL string
	var authHeaders map[string]string
	if authHandler != nil {
		res, err := authHandler.Sign(fetchCtx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		signedURL = res.SignedURL
		authHeaders = res.Headers
	}
	if signedURL != "" {
		rawURL = signedURL
	}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: new request: %w", err)
	}
	for k, v := range authHeaders {
		req.Header.Set(k, v)
	}
	if origin.FetchOptions != nil {
		if origin.FetchOptions.UserAgent != "" {
			req.Header.Set("User-Agent", origin.FetchOptions.UserAgent)
		}
		for k, v := range origin.FetchOptions.ExtraHeaders {
			req.Header.Set(k, v)
		}
	}
	if cond.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", cond.IfNoneMatch)
	}
	if cond.IfModifiedSince != "" {
		req.Header.Set("If-Modified-Since", cond.IfModifiedSince)
	}
	if cond.Range != "" {
		req.Header.Set("Range", cond.Range)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch %s: %w", origin.Binding, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		resp.Body.Close()
		return &Result{Status: http.StatusNotModified, ETag: resp.Header.Get("ETag"), LastModified: resp.Header.Get("Last-Modified"), Origin: kind, Binding: origin.Binding}, nil
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		return &Result{
			Status:       resp.StatusCode,
			ContentType:  resp.Header.Get("Content-Type"),
			ContentRange: resp.Header.Get("Content-Range"),
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         resp.Body,
			Origin:       kind,
			Binding:      origin.Binding,
		}, nil
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("storage: %s: status %d", origin.Binding, resp.StatusCode)
	}
}

func statusFromErr(err error) int {
	if err == nil {
		return 0
	}
	// Best-effort: surface a transport-error status unless the message
	// already carries an HTTP status (see fetchHTTP's "status %d" error).
	if idx := strings.LastIndex(err.Error(), "status "); idx != -1 {
		if code, convErr := strconv.Atoi(strings.TrimSpace(err.Error()[idx+len("status "):])); convErr == nil {
			return code
		}
	}
	return http.StatusBadGateway
}
