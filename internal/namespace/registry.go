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
	"sort"

	log "github.com/sirupsen/logrus"

	"snapns/internal/common"
)

// Snapshot is one named, read-only view of a snapshottable directory. Seq
// orders snapshots globally: a snapshot sees exactly the nodes whose
// BirthSeq is smaller than its Seq, modified back by diffs tagged at or
// after it.
type Snapshot struct {
	Name string
	Seq  uint64
	Root NodeID
}

// registry tracks which directories are snapshottable and the live
// snapshots of each, ordered oldest to newest.
type registry struct {
	roots map[NodeID][]*Snapshot
}

func newRegistry() *registry {
	return &registry{roots: make(map[NodeID][]*Snapshot)}
}

func (r *registry) snapshots(id NodeID) []*Snapshot { return r.roots[id] }

func (r *registry) forget(id NodeID) { delete(r.roots, id) }

// AllowSnapshots marks a directory snapshottable. Nesting is rejected: no
// ancestor or descendant of dir may already be snapshottable. Calling it on
// an already snapshottable directory is a no-op.
func (t *Tree) AllowSnapshots(dir *Node) error {
	if !dir.IsDir() {
		return common.ErrNotDir
	}
	if dir.Dir.Snapshottable {
		return nil
	}
	for cur := t.nodes[dir.Parent]; cur != nil; cur = t.nodes[cur.Parent] {
		if cur.Dir.Snapshottable {
			return common.ErrNestedSnapshottable
		}
		if cur.ID == RootID {
			break
		}
	}
	if hasSnapshottableDescendant(t, dir) {
		return common.ErrNestedSnapshottable
	}
	dir.Dir.Snapshottable = true
	t.registry.roots[dir.ID] = nil
	log.WithField("path", t.Path(dir)).Info("snapshots allowed")
	return nil
}

func hasSnapshottableDescendant(t *Tree, dir *Node) bool {
	for _, id := range dir.Dir.Children {
		child := t.nodes[id]
		if !child.IsDir() {
			continue
		}
		if child.Dir.Snapshottable || hasSnapshottableDescendant(t, child) {
			return true
		}
	}
	return false
}

// DisallowSnapshots clears the snapshottable flag. Fails with
// ErrHasSnapshots while live snapshots remain.
func (t *Tree) DisallowSnapshots(dir *Node) error {
	if !dir.IsDir() {
		return common.ErrNotDir
	}
	if !dir.Dir.Snapshottable {
		return nil
	}
	if len(t.registry.snapshots(dir.ID)) > 0 {
		return common.ErrHasSnapshots
	}
	dir.Dir.Snapshottable = false
	t.registry.forget(dir.ID)
	return nil
}

// CreateSnapshot records a new snapshot of dir. The operation is O(1): it
// allocates the next global sequence number and appends a registry entry;
// no tree state is copied until a later mutation captures it.
func (t *Tree) CreateSnapshot(dir *Node, name string) (*Snapshot, error) {
	if !dir.IsDir() {
		return nil, common.ErrNotDir
	}
	if !dir.Dir.Snapshottable {
		return nil, common.ErrNotSnapshottable
	}
	if !common.ValidName(name) {
		return nil, common.ErrInvalidPath
	}
	for _, s := range t.registry.snapshots(dir.ID) {
		if s.Name == name {
			return nil, common.ErrSnapshotExists
		}
	}
	t.seq++
	snap := &Snapshot{Name: name, Seq: t.seq, Root: dir.ID}
	t.registry.roots[dir.ID] = append(t.registry.roots[dir.ID], snap)
	log.WithFields(log.Fields{"path": t.Path(dir), "name": name, "seq": snap.Seq}).
		Info("snapshot created")
	return snap, nil
}

// DeleteSnapshot removes a named snapshot and compacts the subtree's diff
// chains: diffs tagged with the deleted sequence are retagged or merged
// into the prior snapshot's, and state preserved only for the deleted
// snapshot is reclaimed.
func (t *Tree) DeleteSnapshot(dir *Node, name string) error {
	if !dir.IsDir() {
		return common.ErrNotDir
	}
	if !dir.Dir.Snapshottable {
		return common.ErrNotSnapshottable
	}
	snaps := t.registry.snapshots(dir.ID)
	idx := -1
	for i, s := range snaps {
		if s.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return common.ErrSnapshotNotFound
	}
	var priorSeq uint64
	if idx > 0 {
		priorSeq = snaps[idx-1].Seq
	}
	seq := snaps[idx].Seq
	t.compactSubtree(dir, seq, priorSeq)
	t.registry.roots[dir.ID] = append(snaps[:idx], snaps[idx+1:]...)
	log.WithFields(log.Fields{"path": t.Path(dir), "name": name, "seq": seq}).
		Info("snapshot deleted")
	return nil
}

// Snapshots returns dir's live snapshots, oldest to newest.
func (t *Tree) Snapshots(dir *Node) ([]Snapshot, error) {
	if !dir.IsDir() {
		return nil, common.ErrNotDir
	}
	if !dir.Dir.Snapshottable {
		return nil, common.ErrNotSnapshottable
	}
	snaps := t.registry.snapshots(dir.ID)
	out := make([]Snapshot, len(snaps))
	for i, s := range snaps {
		out[i] = *s
	}
	return out, nil
}

// FindSnapshot resolves a snapshot by root directory and name.
func (t *Tree) FindSnapshot(dir *Node, name string) (Snapshot, error) {
	snaps, err := t.Snapshots(dir)
	if err != nil {
		return Snapshot{}, err
	}
	for _, s := range snaps {
		if s.Name == name {
			return s, nil
		}
	}
	return Snapshot{}, common.ErrSnapshotNotFound
}

// SnapshotRoots returns the ids of all snapshottable directories in
// ascending id order.
func (t *Tree) SnapshotRoots() []NodeID {
	ids := make([]NodeID, 0, len(t.registry.roots))
	for id := range t.registry.roots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
