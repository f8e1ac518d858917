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

package fstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapns/internal/common"
	"snapns/internal/image"
	"snapns/internal/namespace"
)

func testStoreConfig() namespace.Config {
	cfg := namespace.DefaultConfig()
	cfg.BlockSize = 1024
	return cfg
}

func formatStore(t *testing.T) (*Store, *namespace.Namespace) {
	t.Helper()
	s, ns, err := Format(context.Background(), t.TempDir(), testStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, ns
}

func populate(t *testing.T, ns *namespace.Namespace) {
	t.Helper()
	require.NoError(t, ns.MkdirAll("/data/sub"))
	require.NoError(t, ns.Create("/data/f", "client-1", 0))
	require.NoError(t, ns.Write("/data/f", 2500))
	require.NoError(t, ns.Sync("/data/f"))
	require.NoError(t, ns.Close("/data/f"))
	require.NoError(t, ns.AllowSnapshots("/data"))
	require.NoError(t, ns.CreateSnapshot("/data", "s0"))
	require.NoError(t, ns.SetReplication("/data/f", 2))
}

func TestStore_FormatWritesInitialCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, ns := formatStore(t)

	assert.Equal(t, uint64(0), ns.TxID())
	for _, name := range []string{catalogFileName, lockFileName, imageFileName(0)} {
		_, err := os.Stat(filepath.Join(s.Dir(), name))
		assert.NoError(t, err, name)
	}

	m, err := s.Catalog().LatestCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), m.TxID)
	assert.Equal(t, int64(1), m.NodeCount)

	res, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, namespace.Compare(ns.Dump(), res.Tree.Dump()))
}

func TestStore_SaveAndRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, ns := formatStore(t)
	populate(t, ns)
	before := ns.Dump()

	m, err := s.Save(ctx, ns, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.TxID)
	assert.Equal(t, uint64(1), ns.TxID())

	res, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, namespace.Compare(before, res.Tree.Dump()))

	fresh := namespace.New(s.Config())
	require.NoError(t, s.Restore(ctx, fresh))
	assert.Equal(t, uint64(1), fresh.TxID())
	assert.Nil(t, namespace.Compare(before, fresh.Dump()))
}

func TestStore_ReopenRestoresConfigAndState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s, ns, err := Format(ctx, dir, testStoreConfig())
	require.NoError(t, err)
	populate(t, ns)
	before := ns.Dump()
	_, err = s.Save(ctx, ns, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, dir)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, int64(1024), s.Config().BlockSize)

	fresh := namespace.New(s.Config())
	require.NoError(t, s.Restore(ctx, fresh))
	assert.Nil(t, namespace.Compare(before, fresh.Dump()))
}

func TestStore_DirectoryLockIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := formatStore(t)

	_, err := Open(ctx, s.Dir())
	assert.ErrorContains(t, err, "in use")
}

func TestStore_VerifyDetectsDamage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, ns := formatStore(t)
	populate(t, ns)
	_, err := s.Save(ctx, ns, nil)
	require.NoError(t, err)

	res, err := s.Verify(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, namespace.Compare(ns.Dump(), res.Tree.Dump()))

	_, err = s.Verify(ctx, 99)
	assert.ErrorIs(t, err, common.ErrNotFound)

	// Truncating the file trips the catalog size check before any parsing.
	path := filepath.Join(s.Dir(), imageFileName(1))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-1], 0644))
	_, err = s.Verify(ctx, 1)
	assert.ErrorIs(t, err, common.ErrCorrupt)
}

func TestStore_CancelledSaveLeavesNoTrace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, ns := formatStore(t)
	populate(t, ns)

	c := &image.Canceler{}
	c.Cancel()
	_, err := s.Save(ctx, ns, c)
	assert.ErrorIs(t, err, common.ErrCancelled)
	assert.Equal(t, uint64(0), ns.TxID())

	_, err = os.Stat(filepath.Join(s.Dir(), tmpImageFileName(1)))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.Dir(), imageFileName(1)))
	assert.True(t, os.IsNotExist(err))

	m, err := s.Catalog().LatestCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), m.TxID)
}
