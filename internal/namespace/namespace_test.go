// Copyright 2025 SnapNS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package namespace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapns/internal/common"
)

func newTestNamespace(t *testing.T) *Namespace {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BlockSize = 1024
	ns := New(cfg)
	_ = ns.Update(func(tr *Tree) error {
		tr.Clock = func() time.Time { return time.Unix(1700000000, 0) }
		return nil
	})
	return ns
}

func TestNamespace_PathOperations(t *testing.T) {
	t.Parallel()
	ns := newTestNamespace(t)

	require.NoError(t, ns.MkdirAll("/a/b"))
	assert.ErrorIs(t, ns.Mkdir("/a/b"), common.ErrExists)
	assert.ErrorIs(t, ns.Mkdir("/missing/c"), common.ErrNotFound)

	require.NoError(t, ns.Create("/a/b/f", "client-1", 0))
	require.NoError(t, ns.Write("/a/b/f", 2000))
	require.NoError(t, ns.Sync("/a/b/f"))
	require.NoError(t, ns.Close("/a/b/f"))

	assert.ErrorIs(t, ns.Write("/a/b/f", 10), common.ErrNotUnderConstruction)
	assert.ErrorIs(t, ns.Delete("/"), common.ErrInvalidPath)

	require.NoError(t, ns.Rename("/a/b/f", "g"))
	require.NoError(t, ns.Delete("/a/b/g"))
	assert.ErrorIs(t, ns.Delete("/a/b/g"), common.ErrNotFound)
}

func TestNamespace_LeaseLifecycle(t *testing.T) {
	t.Parallel()
	ns := newTestNamespace(t)

	require.NoError(t, ns.Create("/d/f", "writer-1", 0))
	holder, ok := ns.Leases().Holder("/d/f")
	require.True(t, ok)
	assert.Equal(t, "writer-1", holder)

	// Slash-prefixed and bare forms address the same lease.
	holder, ok = ns.Leases().Holder("d/f")
	require.True(t, ok)
	assert.Equal(t, "writer-1", holder)

	require.NoError(t, ns.Close("/d/f"))
	_, ok = ns.Leases().Holder("/d/f")
	assert.False(t, ok)

	require.NoError(t, ns.Append("/d/f", "writer-2"))
	require.NoError(t, ns.Create("/d/g", "writer-3", 0))
	all := ns.Leases().All()
	require.Len(t, all, 2)
	assert.Equal(t, "/d/f", all[0].Path)
	assert.Equal(t, "writer-2", all[0].Client)
	assert.Equal(t, "/d/g", all[1].Path)
}

func TestNamespace_ReplaceRebuildsLeases(t *testing.T) {
	t.Parallel()
	ns := newTestNamespace(t)
	require.NoError(t, ns.Create("/d/open", "writer-1", 0))
	require.NoError(t, ns.Create("/d/closed", "writer-1", 0))
	require.NoError(t, ns.Close("/d/closed"))

	// Hand the tree to a fresh namespace, as a checkpoint restore does.
	var tr *Tree
	_ = ns.View(func(t *Tree) error {
		tr = t
		return nil
	})
	fresh := New(tr.Config())
	fresh.Replace(tr, 7)

	assert.Equal(t, uint64(7), fresh.TxID())
	all := fresh.Leases().All()
	require.Len(t, all, 1)
	assert.Equal(t, "/d/open", all[0].Path)
	assert.Equal(t, "writer-1", all[0].Client)

	// Closing a restored open file clears its rebuilt lease.
	require.NoError(t, fresh.Close("/d/open"))
	assert.Empty(t, fresh.Leases().All())
}
