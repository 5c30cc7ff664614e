// GoMailFW
// Copyright (C) 2016 The GoMailFW Authors
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package mailsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIDMapIndexes(t *testing.T) {
	m := NewUIDMap()
	m.Set(&MapEntry{UIDLeft: 1, UIDRight: 10, Flags: "seen"})
	m.Set(&MapEntry{UIDLeft: 2, UIDRight: 20})

	e, ok := m.ByLeft(1)
	require.True(t, ok)
	assert.Equal(t, uint32(10), e.UIDRight)

	e, ok = m.ByRight(20)
	require.True(t, ok)
	assert.Equal(t, uint32(2), e.UIDLeft)

	// Re-mapping a left uid evicts the stale pairing from both indexes.
	m.Set(&MapEntry{UIDLeft: 1, UIDRight: 30})
	_, ok = m.ByRight(10)
	assert.False(t, ok)
	assert.Equal(t, 2, m.Len())

	m.Remove(m.Entries()[0])
	assert.Equal(t, 1, m.Len())
}

func TestUIDMapCloneIsIndependent(t *testing.T) {
	m := NewUIDMap()
	m.Generation = 7
	m.Set(&MapEntry{UIDLeft: 1, UIDRight: 10, Flags: "seen"})

	c := m.Clone()
	c.Generation = 8
	c.Set(&MapEntry{UIDLeft: 2, UIDRight: 20})
	e, _ := c.ByLeft(1)
	e.Flags = "answered seen"

	assert.Equal(t, int64(7), m.Generation)
	assert.Equal(t, 1, m.Len())
	orig, _ := m.ByLeft(1)
	assert.Equal(t, "seen", orig.Flags)
}

func TestUIDMapStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewUIDMapStore(dir, "personal", "error")
	require.NoError(t, err)
	defer store.Close()

	m, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int64(0), m.Generation)

	m.Generation = 1
	m.Set(&MapEntry{UIDLeft: 1, UIDRight: 10, Flags: "seen", LeftGen: 1, RightGen: 1})
	m.Set(&MapEntry{UIDLeft: 2, UIDRight: 20, Flags: "", LeftGen: 1, RightGen: 1})
	require.NoError(t, store.Save(ctx, m))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Generation)
	require.Equal(t, 2, loaded.Len())
	e, ok := loaded.ByLeft(1)
	require.True(t, ok)
	assert.Equal(t, uint32(10), e.UIDRight)
	assert.Equal(t, "seen", e.Flags)
	assert.Equal(t, int64(1), e.LeftGen)
}

func TestUIDMapStoreSaveReplaces(t *testing.T) {
	ctx := context.Background()
	store, err := NewUIDMapStore(t.TempDir(), "personal", "error")
	require.NoError(t, err)
	defer store.Close()

	m := NewUIDMap()
	m.Generation = 1
	m.Set(&MapEntry{UIDLeft: 1, UIDRight: 10})
	require.NoError(t, store.Save(ctx, m))

	// Second save with a disjoint map must not leave stale rows around.
	m2 := NewUIDMap()
	m2.Generation = 2
	m2.Set(&MapEntry{UIDLeft: 5, UIDRight: 50})
	require.NoError(t, store.Save(ctx, m2))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
	_, ok := loaded.ByLeft(1)
	assert.False(t, ok)
	_, ok = loaded.ByLeft(5)
	assert.True(t, ok)
	assert.Equal(t, int64(2), loaded.Generation)
}

func TestUIDMapStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewUIDMapStore(dir, "personal", "error")
	require.NoError(t, err)
	m := NewUIDMap()
	m.Generation = 3
	m.Set(&MapEntry{UIDLeft: 4, UIDRight: 40, Flags: "flagged"})
	require.NoError(t, store.Save(ctx, m))
	require.NoError(t, store.Close())

	store2, err := NewUIDMapStore(dir, "personal", "error")
	require.NoError(t, err)
	defer store2.Close()
	loaded, err := store2.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Generation)
	assert.Equal(t, 1, loaded.Len())
}
