// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package cachekv implements cache.Store as an in-process, size-bounded
// LRU, the edge runtime's concrete binding for the transform cache tier
// when no external KV/object-store cache is configured.
//
// Grounded on internal/storage/storage.go's bounded-path-cache idiom
// (`hashicorp/golang-lru/v2`, lru.New[K, V](size)) — the same library,
// applied here to whole cache.Entry values instead of rewritten path
// strings.
package cachekv

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/imgedge/proxy/internal/cache"
)

// defaultSize is used when New is given a non-positive size.
const defaultSize = 4096

// Store is an in-process cache.Store. It never returns an error: a miss
// is reported via the bool return, matching cache.Store's contract.
type Store struct {
	entries *lru.Cache[string, cache.Entry]
}

// New builds a Store holding up to size entries, evicting least-recently
// used on overflow.
func New(size int) *Store {
	if size <= 0 {
		size = defaultSize
	}
	c, _ := lru.New[string, cache.Entry](size)
	return &Store{entries: c}
}

// Get implements cache.Store.
func (s *Store) Get(ctx context.Context, fingerprint string) (*cache.Entry, bool, error) {
	e, ok := s.entries.Get(fingerprint)
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

// Put implements cache.Store.
func (s *Store) Put(ctx context.Context, fingerprint string, entry cache.Entry) error {
	s.entries.Add(fingerprint, entry)
	return nil
}
