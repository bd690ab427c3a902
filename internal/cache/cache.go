// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package cache implements the Cache Controller:
// fingerprint derivation, TTL/tag selection, bypass policy, and the
// background write path for the key-value transform cache tier.
//
// No other package in this codebase's origin owns a caching concern;
// the FNV-1a fingerprint is grounded on
// `gravwell-gravwell/client/types/render.go`'s
// `IngesterStats.Hash` (`hash/fnv`, streaming `io.WriteString` into the
// hash rather than building an intermediate string) — the one other
// example repo in the pack that hashes a set of fields for a stable key.
package cache

import (
	"context"
	"hash/fnv"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/imgedge/proxy/internal/config"
	"github.com/imgedge/proxy/internal/paramprocess"
	"github.com/imgedge/proxy/internal/reqcontext"
)

// Entry is a stored transform cache record.
type Entry struct {
	ContentType string
	TTLSeconds  int64
	Tags        []string
	Body        []byte
}

// Store is the key-value transform cache binding. The edge runtime
// supplies the concrete implementation (e.g. an object-store binding
// keyed by fingerprint); this package only decides fingerprints, TTLs,
// tags, and whether to read/write at all.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, bool, error)
	Put(ctx context.Context, fingerprint string, entry Entry) error
}

// maxTagsDefault is used when config.CacheConfig.MaxTagLength is unset.
const maxTagsDefault = 8

// maxSyncWriteBytes bounds the synchronous-write fallback.
const maxSyncWriteBytes = 256 * 1024

// Controller is the Cache Controller.
type Controller struct {
	store Store
	cfg   config.CacheConfig
}

// New builds a Controller. store may be nil when KVCacheEnabled is false.
func New(store Store, cfg config.CacheConfig) *Controller {
	return &Controller{store: store, cfg: cfg}
}

// Fingerprint derives the stable cache key for one request: "stable hash (FNV-1a or equivalent) over (normalized path, raw
// query string with debug/cache-buster params removed, stringified
// canonical option map, output format)."
func Fingerprint(normalizedPath string, query string, om *paramprocess.OptionMap, outputFormat string) string {
	h := fnv.New64a()
	io.WriteString(h, normalizedPath)
	io.WriteString(h, "\x00")
	io.WriteString(h, cleanQuery(query))
	io.WriteString(h, "\x00")
	io.WriteString(h, canonicalOptionString(om))
	io.WriteString(h, "\x00")
	io.WriteString(h, outputFormat)
	return strconv.FormatUint(h.Sum64(), 16)
}

// debugCacheBusterParams are stripped from the query string before
// hashing so a debug request and its non-debug twin fingerprint
// identically.
var debugCacheBusterParams = map[string]bool{
	"debug": true,
	"_":     true, // common cache-buster convention.
}

func cleanQuery(raw string) string {
	parts := strings.Split(raw, "&")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		key := p
		if idx := strings.IndexByte(p, '='); idx != -1 {
			key = p[:idx]
		}
		if debugCacheBusterParams[key] {
			continue
		}
		kept = append(kept, p)
	}
	sort.Strings(kept)
	return strings.Join(kept, "&")
}

// canonicalOptionString renders om's values in a stable, sorted-by-name
// form so two requests with the same effective options always hash the
// same regardless of the order they were resolved in.
func canonicalOptionString(om *paramprocess.OptionMap) string {
	if om == nil {
		return ""
	}
	names := make([]string, 0, len(om.Values))
	for name := range om.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(om.Values[name].String())
		b.WriteByte(';')
	}
	return b.String()
}

// TTL selects the effective TTL in seconds for path, status, and
// contentType, with precedence: longest matching path prefix ->
// status-range table -> content-type table -> default.
func (c *Controller) TTL(path string, status int, contentType string) int64 {
	best := ""
	var bestTTL int64
	for prefix, ttl := range c.cfg.TTLByPathPrefix {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best, bestTTL = prefix, ttl
		}
	}
	if best != "" {
		return bestTTL
	}
	if ttl, ok := c.cfg.TTLByStatusRange[statusRangeKey(status)]; ok {
		return ttl
	}
	if ttl, ok := c.cfg.TTLByContentType[contentType]; ok {
		return ttl
	}
	return c.cfg.DefaultTTLSeconds
}

func statusRangeKey(status int) string {
	switch status / 100 {
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return ""
	}
}

// Tags assembles the cache tag list in a fixed priority order —
// derivative name, format, quality bucket, explicit dimensions,
// path-prefix tags — truncating deterministically from the end once
// MaxTagLength is reached, never reordering.
func (c *Controller) Tags(path string, om *paramprocess.OptionMap, derivativeName string) []string {
	var tags []string
	if derivativeName != "" {
		tags = append(tags, "derivative:"+derivativeName)
	}
	if om != nil {
		if f, ok := om.Get("format"); ok {
			if s, ok := f.AsString(); ok {
				tags = append(tags, "format:"+s)
			}
		}
		if q, ok := om.Get("quality"); ok {
			if n, ok := q.AsNumber(); ok {
				tags = append(tags, "quality:"+qualityBucket(n))
			}
		}
		if om.ExplicitWidth {
			if w, ok := om.Get("width"); ok {
				if n, ok := w.AsNumber(); ok {
					tags = append(tags, "width:"+strconv.FormatFloat(n, 'f', -1, 64))
				}
			}
		}
		if om.ExplicitHeight {
			if h, ok := om.Get("height"); ok {
				if n, ok := h.AsNumber(); ok {
					tags = append(tags, "height:"+strconv.FormatFloat(n, 'f', -1, 64))
				}
			}
		}
	}
	if prefix := longestPrefixTag(path, c.cfg.TTLByPathPrefix); prefix != "" {
		tags = append(tags, "path:"+prefix)
	}

	max := c.cfg.MaxTagLength
	if max <= 0 {
		max = maxTagsDefault
	}
	if len(tags) > max {
		tags = tags[:max]
	}
	return tags
}

func longestPrefixTag(path string, prefixes map[string]int64) string {
	best := ""
	for prefix := range prefixes {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	return best
}

func qualityBucket(q float64) string {
	switch {
	case q >= 90:
		return "high"
	case q >= 60:
		return "medium"
	default:
		return "low"
	}
}

// Bypass reports whether this request should skip the cache entirely.
// The
// scoring-heuristic and bypass-in-environment clauses are left to the
// caller (they depend on process-wide state this package doesn't own);
// bypassEnv and scoreExceedsThreshold are passed in pre-computed.
func (c *Controller) Bypass(req *http.Request, path string, disallowedPrefixes []string, bypassEnv, scoreExceedsThreshold bool) bool {
	for _, prefix := range disallowedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	if c.cfg.BypassQueryParam != "" && req.URL.Query().Has(c.cfg.BypassQueryParam) {
		return true
	}
	cc := req.Header.Get("Cache-Control")
	if strings.Contains(cc, "no-cache") || strings.Contains(cc, "no-store") {
		return true
	}
	return bypassEnv || scoreExceedsThreshold
}

// Lookup reads the stored entry for fingerprint, if caching is enabled
// and a store is configured.
func (c *Controller) Lookup(ctx context.Context, fingerprint string) (*Entry, bool) {
	if !c.cfg.KVCacheEnabled || c.store == nil {
		return nil, false
	}
	entry, ok, err := c.store.Get(ctx, fingerprint)
	if err != nil || !ok {
		return nil, false
	}
	return entry, true
}

// Write schedules (or, for small bodies with no background handle,
// performs synchronously) a cache write for fingerprint.
func (c *Controller) Write(ctx context.Context, rc *reqcontext.Context, fingerprint string, entry Entry) {
	if !c.cfg.KVCacheEnabled || c.store == nil {
		return
	}
	if rc != nil && rc.Background != nil {
		rc.Background.Run(func(bgCtx context.Context) error {
			return c.store.Put(bgCtx, fingerprint, entry)
		})
		return
	}
	if len(entry.Body) <= maxSyncWriteBytes {
		_ = c.store.Put(ctx, fingerprint, entry)
	}
}
