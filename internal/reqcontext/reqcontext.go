// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package reqcontext carries the per-request scoped state, replacing
// an ambient "current context" with an explicit value threaded through
// call signatures. Nothing here is process-wide; every field is
// created on entry and consumed on response emission.
package reqcontext

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type ctxKey struct{}

// Breadcrumb is a single time-stamped structured log entry attached to a
// request for tracing.
type Breadcrumb struct {
	At      time.Time
	Message string
	Fields  map[string]any
}

// Background is the fire-and-forget handle a Context exposes for cache
// writes that must not block the response. Implementations are supplied by the hosting runtime; in this
// module cmd/edgeproxy supplies one backed by a bounded goroutine pool
// with a logged-on-failure discard, since Go has no native equivalent of
// the edge runtime's waitUntil.
type Background interface {
	// Run schedules fn to execute without blocking the caller. Errors
	// returned by fn are the caller's responsibility to log; Run itself
	// never blocks long enough to observe them.
	Run(fn func(context.Context) error)
}

// Context is the per-request state bag. It is created once per inbound
// request and threaded explicitly through every component in the
// pipeline, never recovered from a goroutine-local.
type Context struct {
	// RequestID identifies this request across log lines and debug headers.
	RequestID string
	// StartTime is when the request entered the pipeline.
	StartTime time.Time
	// Debug is set when the request asked for diagnostics.
	Debug bool
	// Logger is a request-scoped derivative of the process logger, already
	// carrying request_id (and, once known, path/profile) fields.
	Logger *slog.Logger
	// Background is the fire-and-forget handle for cache writes.
	Background Background

	mu          sync.Mutex
	breadcrumbs []Breadcrumb
	// clientSignalMemo caches the Client Signal Detector's result for this
	// request only. Populated lazily by internal/clientsignal.
	clientSignalMemo any
}

// New creates a fresh per-request Context.
func New(requestID string, logger *slog.Logger, bg Background, debug bool) *Context {
	return &Context{
		RequestID:  requestID,
		StartTime:  time.Now(),
		Debug:      debug,
		Logger:     logger,
		Background: bg,
	}
}

// WithContext attaches rc to ctx.
func WithContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext retrieves the Context previously attached with WithContext.
// It returns nil, false if none was attached — callers on the hot path
// should always have one; this is for defensive plumbing in tests and
// edge cases like panics recovered before the Context was created.
func FromContext(ctx context.Context) (*Context, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*Context)
	return rc, ok
}

// AddBreadcrumb appends a structured breadcrumb. Safe for concurrent use,
// since multiple origin fetches may run concurrently within one request.
func (c *Context) AddBreadcrumb(message string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breadcrumbs = append(c.breadcrumbs, Breadcrumb{At: time.Now(), Message: message, Fields: fields})
}

// Breadcrumbs returns a snapshot of the breadcrumb list, in append order.
func (c *Context) Breadcrumbs() []Breadcrumb {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Breadcrumb, len(c.breadcrumbs))
	copy(out, c.breadcrumbs)
	return out
}

// SetClientSignalMemo stores the Client Signal Detector's result for reuse
// within this request only.
func (c *Context) SetClientSignalMemo(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientSignalMemo = v
}

// ClientSignalMemo returns the previously memoized detector result, if any.
func (c *Context) ClientSignalMemo() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientSignalMemo, c.clientSignalMemo != nil
}

// Elapsed returns the time since the request entered the pipeline.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}
