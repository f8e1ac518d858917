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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapns/internal/common"
)

// snapshotSection extracts one snapshot's rendering from a full dump.
func snapshotSection(t *testing.T, dump, header string) string {
	t.Helper()
	_, rest, found := strings.Cut(dump, header+"\n")
	require.True(t, found, "dump has no section %q", header)
	if i := strings.Index(rest, "snapshot "); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func TestAllowSnapshots_RejectsNesting(t *testing.T) {
	t.Parallel()
	tr := newTestTree(t)
	outer, err := tr.MkdirAll("/a")
	require.NoError(t, err)
	inner, err := tr.MkdirAll("/a/b/c")
	require.NoError(t, err)

	require.NoError(t, tr.AllowSnapshots(outer))
	// Idempotent on the same directory.
	require.NoError(t, tr.AllowSnapshots(outer))

	assert.ErrorIs(t, tr.AllowSnapshots(inner), common.ErrNestedSnapshottable)
	assert.ErrorIs(t, tr.AllowSnapshots(tr.Root()), common.ErrNestedSnapshottable)
}

func TestSnapshot_CreateDeleteList(t *testing.T) {
	t.Parallel()
	tr := newTestTree(t)
	dir, err := tr.MkdirAll("/a")
	require.NoError(t, err)

	_, err = tr.CreateSnapshot(dir, "s0")
	assert.ErrorIs(t, err, common.ErrNotSnapshottable)

	require.NoError(t, tr.AllowSnapshots(dir))
	s0, err := tr.CreateSnapshot(dir, "s0")
	require.NoError(t, err)
	s1, err := tr.CreateSnapshot(dir, "s1")
	require.NoError(t, err)
	assert.Greater(t, s1.Seq, s0.Seq)

	_, err = tr.CreateSnapshot(dir, "s0")
	assert.ErrorIs(t, err, common.ErrSnapshotExists)

	snaps, err := tr.Snapshots(dir)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "s0", snaps[0].Name)
	assert.Equal(t, "s1", snaps[1].Name)

	assert.ErrorIs(t, tr.DeleteSnapshot(dir, "missing"), common.ErrSnapshotNotFound)
	assert.ErrorIs(t, tr.DisallowSnapshots(dir), common.ErrHasSnapshots)

	require.NoError(t, tr.DeleteSnapshot(dir, "s0"))
	require.NoError(t, tr.DeleteSnapshot(dir, "s1"))
	require.NoError(t, tr.DisallowSnapshots(dir))
}

func TestSnapshot_Immutability(t *testing.T) {
	t.Parallel()
	tr := newTestTree(t)
	f := addFile(t, tr, "/d/f", 1000)
	dir, err := tr.ResolveDir("/d")
	require.NoError(t, err)
	require.NoError(t, tr.AllowSnapshots(dir))
	_, err = tr.CreateSnapshot(dir, "s0")
	require.NoError(t, err)

	before := snapshotSection(t, tr.Dump(), "snapshot /d@s0 seq=1")

	// Mutate everything under /d after the snapshot.
	require.NoError(t, tr.Append(f, "c"))
	require.NoError(t, tr.WritePending(f, 500))
	require.NoError(t, tr.Sync(f))
	require.NoError(t, tr.CloseFile(f))
	require.NoError(t, tr.SetReplication(f, 1))
	require.NoError(t, tr.Rename(dir, "f", "g"))
	addFile(t, tr, "/d/new", 10)
	owner := "alice"
	tr.SetAttr(dir, AttrUpdate{Owner: &owner})

	after := snapshotSection(t, tr.Dump(), "snapshot /d@s0 seq=1")
	assert.Equal(t, before, after)
	assert.Contains(t, after, "./f file")
	assert.Contains(t, after, "len=1000")
}

func TestSnapshot_DeletedChildStaysRenderable(t *testing.T) {
	t.Parallel()
	tr := newTestTree(t)
	addFile(t, tr, "/d/f", 100)
	dir, err := tr.ResolveDir("/d")
	require.NoError(t, err)
	require.NoError(t, tr.AllowSnapshots(dir))
	_, err = tr.CreateSnapshot(dir, "s0")
	require.NoError(t, err)

	before := tr.NodeCount()
	_, err = tr.Delete(dir, "f")
	require.NoError(t, err)

	// Still referenced by the snapshot diff.
	assert.Equal(t, before, tr.NodeCount())
	_, err = tr.Resolve("/d/f")
	assert.ErrorIs(t, err, common.ErrNotFound)

	view := snapshotSection(t, tr.Dump(), "snapshot /d@s0 seq=1")
	assert.Contains(t, view, "./f file")

	// Deleting the only snapshot reclaims the subtree.
	require.NoError(t, tr.DeleteSnapshot(dir, "s0"))
	assert.Equal(t, before-1, tr.NodeCount())
}

func TestSnapshot_CreateAndDeleteWithinInterval(t *testing.T) {
	t.Parallel()
	tr := newTestTree(t)
	dir, err := tr.MkdirAll("/d")
	require.NoError(t, err)
	require.NoError(t, tr.AllowSnapshots(dir))
	_, err = tr.CreateSnapshot(dir, "s0")
	require.NoError(t, err)

	// Created and deleted after the snapshot: no snapshot ever saw it.
	addFile(t, tr, "/d/tmp", 10)
	before := tr.NodeCount()
	_, err = tr.Delete(dir, "tmp")
	require.NoError(t, err)
	assert.Equal(t, before-1, tr.NodeCount())

	view := snapshotSection(t, tr.Dump(), "snapshot /d@s0 seq=1")
	assert.NotContains(t, view, "tmp")
}

func TestSnapshot_RenameShowsOldName(t *testing.T) {
	t.Parallel()
	tr := newTestTree(t)
	addFile(t, tr, "/d/old", 10)
	dir, err := tr.ResolveDir("/d")
	require.NoError(t, err)
	require.NoError(t, tr.AllowSnapshots(dir))
	_, err = tr.CreateSnapshot(dir, "s0")
	require.NoError(t, err)

	require.NoError(t, tr.Rename(dir, "old", "new"))
	// A second rename in the same interval keeps the original record.
	require.NoError(t, tr.Rename(dir, "new", "newer"))

	dump := tr.Dump()
	view := snapshotSection(t, dump, "snapshot /d@s0 seq=1")
	assert.Contains(t, view, "./old file")
	assert.NotContains(t, view, "newer")
	assert.Contains(t, dump, "/d/newer file")
}

func TestSnapshot_AttrsCapturedOnce(t *testing.T) {
	t.Parallel()
	tr := newTestTree(t)
	dir, err := tr.MkdirAll("/d")
	require.NoError(t, err)
	require.NoError(t, tr.AllowSnapshots(dir))
	_, err = tr.CreateSnapshot(dir, "s0")
	require.NoError(t, err)

	first := "alice"
	second := "bob"
	tr.SetAttr(dir, AttrUpdate{Owner: &first})
	tr.SetAttr(dir, AttrUpdate{Owner: &second})

	view := snapshotSection(t, tr.Dump(), "snapshot /d@s0 seq=1")
	assert.Contains(t, view, "owner=snapns")
	assert.NotContains(t, view, "owner=alice")
}

func TestSnapshot_DiffRecordsPerMutationAreConstant(t *testing.T) {
	t.Parallel()
	tr := newTestTree(t)
	f := addFile(t, tr, "/d/f", 100)
	dir, err := tr.ResolveDir("/d")
	require.NoError(t, err)
	require.NoError(t, tr.AllowSnapshots(dir))
	for _, name := range []string{"s0", "s1", "s2", "s3", "s4"} {
		_, err = tr.CreateSnapshot(dir, name)
		require.NoError(t, err)
	}

	require.Empty(t, f.File.Diffs)
	require.NoError(t, tr.SetReplication(f, 2))
	// One record despite five snapshots.
	assert.Len(t, f.File.Diffs, 1)
	// Further mutations in the same interval add nothing.
	require.NoError(t, tr.SetReplication(f, 1))
	owner := "alice"
	tr.SetAttr(f, AttrUpdate{Owner: &owner})
	assert.Len(t, f.File.Diffs, 1)
}

func TestSnapshot_DeleteMiddleKeepsOlderView(t *testing.T) {
	t.Parallel()
	tr := newTestTree(t)
	f := addFile(t, tr, "/d/f", 100)
	dir, err := tr.ResolveDir("/d")
	require.NoError(t, err)
	require.NoError(t, tr.AllowSnapshots(dir))

	_, err = tr.CreateSnapshot(dir, "s0") // seq 1, f at 100
	require.NoError(t, err)
	require.NoError(t, tr.Append(f, "c"))
	require.NoError(t, tr.WritePending(f, 100))
	require.NoError(t, tr.Sync(f))
	require.NoError(t, tr.CloseFile(f))

	_, err = tr.CreateSnapshot(dir, "s1") // seq 2, f at 200
	require.NoError(t, err)
	require.NoError(t, tr.Append(f, "c"))
	require.NoError(t, tr.WritePending(f, 100))
	require.NoError(t, tr.Sync(f))
	require.NoError(t, tr.CloseFile(f))

	s0Before := snapshotSection(t, tr.Dump(), "snapshot /d@s0 seq=1")
	require.Contains(t, s0Before, "len=100")

	// Deleting the newer snapshot must not disturb the older one's view.
	require.NoError(t, tr.DeleteSnapshot(dir, "s1"))
	s0After := snapshotSection(t, tr.Dump(), "snapshot /d@s0 seq=1")
	assert.Equal(t, s0Before, s0After)

	// Live state is untouched.
	assert.Equal(t, int64(300), f.File.Length())
}

func TestSnapshot_DeleteNewerRetagsDiff(t *testing.T) {
	t.Parallel()
	tr := newTestTree(t)
	f := addFile(t, tr, "/d/f", 100)
	dir, err := tr.ResolveDir("/d")
	require.NoError(t, err)
	require.NoError(t, tr.AllowSnapshots(dir))

	_, err = tr.CreateSnapshot(dir, "s0") // seq 1
	require.NoError(t, err)
	_, err = tr.CreateSnapshot(dir, "s1") // seq 2
	require.NoError(t, err)

	// Only mutation is after s1, so the file's single record is tagged 2.
	require.NoError(t, tr.SetReplication(f, 1))
	require.Len(t, f.File.Diffs, 1)
	require.Equal(t, uint64(2), f.File.Diffs[0].Seq)

	// s0 has no record of its own; deleting s1 retags instead of dropping,
	// otherwise s0 would see the live replication.
	require.NoError(t, tr.DeleteSnapshot(dir, "s1"))
	require.Len(t, f.File.Diffs, 1)
	assert.Equal(t, uint64(1), f.File.Diffs[0].Seq)

	view := snapshotSection(t, tr.Dump(), "snapshot /d@s0 seq=1")
	assert.Contains(t, view, "repl=3")
}
