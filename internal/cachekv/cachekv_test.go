// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package cachekv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imgedge/proxy/internal/cache"
)

func TestStore_PutThenGet(t *testing.T) {
	s := New(2)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(ctx, "k1", cache.Entry{ContentType: "image/jpeg", Body: []byte("x")}))
	entry, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "image/jpeg", entry.ContentType)
}

func TestStore_EvictsLeastRecentlyUsedPastSize(t *testing.T) {
	s := New(1)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k1", cache.Entry{Body: []byte("a")}))
	require.NoError(t, s.Put(ctx, "k2", cache.Entry{Body: []byte("b")}))

	_, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.Get(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
}
