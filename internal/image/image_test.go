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

package image

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapns/internal/common"
	"snapns/internal/namespace"
)

func testConfig() namespace.Config {
	cfg := namespace.DefaultConfig()
	cfg.BlockSize = 1024
	return cfg
}

// buildTree assembles a namespace exercising every record kind the format
// carries: snapshots, diffs, a renamed child, an under-construction file
// and a deleted subtree kept alive only by a snapshot reference.
func buildTree(t *testing.T) *namespace.Tree {
	t.Helper()
	tr := namespace.NewTree(testConfig())
	tr.Clock = func() time.Time { return time.Unix(1700000000, 0) }

	dir, err := tr.MkdirAll("/data")
	require.NoError(t, err)
	f, err := tr.CreateFile(dir, "f", "tester", "testers", 0644, 0, "client-1")
	require.NoError(t, err)
	require.NoError(t, tr.WritePending(f, 2500))
	require.NoError(t, tr.Sync(f))
	require.NoError(t, tr.CloseFile(f))

	sub, err := tr.MkdirAll("/data/sub")
	require.NoError(t, err)
	g, err := tr.CreateFile(sub, "g", "tester", "testers", 0600, 2, "client-1")
	require.NoError(t, err)
	require.NoError(t, tr.WritePending(g, 100))
	require.NoError(t, tr.Sync(g))
	require.NoError(t, tr.CloseFile(g))

	require.NoError(t, tr.AllowSnapshots(dir))
	_, err = tr.CreateSnapshot(dir, "s0")
	require.NoError(t, err)

	require.NoError(t, tr.Rename(dir, "f", "renamed"))
	_, err = tr.Delete(dir, "sub")
	require.NoError(t, err)

	_, err = tr.CreateSnapshot(dir, "s1")
	require.NoError(t, err)

	open, err := tr.CreateFile(dir, "open", "tester", "testers", 0644, 0, "writer-7")
	require.NoError(t, err)
	require.NoError(t, tr.WritePending(open, 400))
	require.NoError(t, tr.Sync(open))
	// Left open with pending bytes; only the synced 400 may survive a save.
	require.NoError(t, tr.WritePending(open, 50))
	return tr
}

func saveTree(t *testing.T, tr *namespace.Tree, txid uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	s := &Saver{TxID: txid}
	n, err := s.Save(&buf, tr, nil)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	return buf.Bytes()
}

func TestImage_RoundTrip(t *testing.T) {
	t.Parallel()
	tr := buildTree(t)
	img := saveTree(t, tr, 42)

	l := &Loader{Cfg: testConfig()}
	res, err := l.Load(bytes.NewReader(img))
	require.NoError(t, err)

	assert.Equal(t, uint64(42), res.Header.TxID)
	assert.Equal(t, FormatVersion, res.Header.Version)
	assert.Equal(t, tr.NamespaceID[:], res.Header.NamespaceID[:])
	assert.Equal(t, tr.NodeCount(), res.Tree.NodeCount())
	assert.Nil(t, namespace.Compare(tr.Dump(), res.Tree.Dump()),
		"reloaded dump must match the saved one")

	// Pending bytes never cross a save.
	n, err := res.Tree.Resolve("/data/open")
	require.NoError(t, err)
	require.NotNil(t, n.File.UC)
	assert.Equal(t, "writer-7", n.File.UC.Client)
	assert.Zero(t, n.File.UC.Pending)
	assert.Equal(t, int64(400), n.File.Length())
}

func TestImage_SaveIsDeterministic(t *testing.T) {
	t.Parallel()
	tr := buildTree(t)
	first := saveTree(t, tr, 7)
	second := saveTree(t, tr, 7)
	assert.Equal(t, first, second)

	// A reloaded tree re-saves byte-identically too.
	l := &Loader{Cfg: testConfig()}
	res, err := l.Load(bytes.NewReader(first))
	require.NoError(t, err)
	res.Tree.Clock = tr.Clock
	third := saveTree(t, res.Tree, 7)
	assert.Equal(t, first, third)
}

func TestImage_CorruptPayload(t *testing.T) {
	t.Parallel()
	img := saveTree(t, buildTree(t), 1)

	tampered := bytes.Clone(img)
	tampered[len(tampered)/2] ^= 0x40

	l := &Loader{Cfg: testConfig()}
	_, err := l.Load(bytes.NewReader(tampered))
	assert.ErrorIs(t, err, common.ErrCorrupt)
}

func TestImage_BadMagic(t *testing.T) {
	t.Parallel()
	img := saveTree(t, buildTree(t), 1)
	img[0] = 'X'

	l := &Loader{Cfg: testConfig()}
	_, err := l.Load(bytes.NewReader(img))
	assert.ErrorIs(t, err, common.ErrCorrupt)
}

func TestImage_Truncated(t *testing.T) {
	t.Parallel()
	img := saveTree(t, buildTree(t), 1)

	l := &Loader{Cfg: testConfig()}
	_, err := l.Load(bytes.NewReader(img[:20]))
	assert.ErrorIs(t, err, common.ErrTruncated)

	// Cut inside the checksum trailer.
	_, err = l.Load(bytes.NewReader(img[:45]))
	assert.ErrorIs(t, err, common.ErrTruncated)
}

func TestImage_VersionMismatch(t *testing.T) {
	t.Parallel()
	img := saveTree(t, buildTree(t), 1)

	// The header is outside the checksummed payload, so a bumped version
	// must surface as a version error, not corruption.
	img[len(magic)+3] = 0xFF

	l := &Loader{Cfg: testConfig()}
	_, err := l.Load(bytes.NewReader(img))
	assert.ErrorIs(t, err, common.ErrVersionMismatch)
}

func TestImage_CancelledSaveWritesNothing(t *testing.T) {
	t.Parallel()
	tr := buildTree(t)

	c := &Canceler{}
	c.Cancel()
	var buf bytes.Buffer
	s := &Saver{TxID: 1}
	_, err := s.Save(&buf, tr, c)
	assert.ErrorIs(t, err, common.ErrCancelled)
	assert.Zero(t, buf.Len())
}

func TestImage_CountersResumeAfterLoad(t *testing.T) {
	t.Parallel()
	tr := buildTree(t)
	img := saveTree(t, tr, 1)

	l := &Loader{Cfg: testConfig()}
	res, err := l.Load(bytes.NewReader(img))
	require.NoError(t, err)
	lt := res.Tree

	// New ids and snapshot sequences continue past everything in the image.
	dir, err := lt.ResolveDir("/data")
	require.NoError(t, err)
	fresh, err := lt.CreateFile(dir, "fresh", "tester", "testers", 0644, 0, "client-2")
	require.NoError(t, err)
	for _, id := range lt.NodeIDs() {
		if id != fresh.ID {
			assert.Less(t, id, fresh.ID)
		}
	}

	seqBefore := lt.LastSnapshotSeq()
	snap, err := lt.CreateSnapshot(dir, "s2")
	require.NoError(t, err)
	assert.Greater(t, snap.Seq, seqBefore)
	assert.Equal(t, uint64(3), snap.Seq)
}
