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
	log "github.com/sirupsen/logrus"
)

// Rename records that a live child currently known by another name was
// called OldName at the tagging snapshot.
type Rename struct {
	OldName string
	Node    NodeID
}

// DirectoryDiff preserves, for one snapshot sequence, everything needed to
// rebuild the directory's state at that snapshot from a newer state:
// children created since (to remove), children deleted since (to re-add,
// the reference keeps the subtree alive), children renamed since (to undo),
// and a copy of the directory's own attributes taken before the first
// attribute change after the snapshot.
type DirectoryDiff struct {
	Seq     uint64
	Attrs   *Attributes
	Created []NodeID
	Deleted []NodeID
	Renamed []Rename
}

// FileDiff preserves a file's externally observable state as of the tagging
// snapshot: attributes, replication, synced length and block list, and the
// under-construction marker.
type FileDiff struct {
	Seq         uint64
	Attrs       Attributes
	Replication uint16
	Length      int64
	Blocks      []Block
	UC          bool
	Client      string
}

// inSnapshotScope returns the newest live snapshot sequence covering n, or
// false when no snapshottable ancestor with a live snapshot exists, or the
// node itself was created after the newest snapshot. Only nodes for which
// this returns true need pre-mutation diff records.
func (t *Tree) inSnapshotScope(n *Node) (uint64, bool) {
	for cur := n; cur != nil; cur = t.nodes[cur.Parent] {
		if cur.IsDir() && cur.Dir.Snapshottable {
			snaps := t.registry.snapshots(cur.ID)
			if len(snaps) == 0 {
				return 0, false
			}
			seq := snaps[len(snaps)-1].Seq
			if n.BirthSeq >= seq {
				// Created after the newest snapshot: invisible to it.
				return 0, false
			}
			return seq, true
		}
		if cur.Parent == 0 {
			break
		}
	}
	return 0, false
}

// captureDir returns the directory diff for the newest snapshot covering
// dir, creating it if this is the first structural change since that
// snapshot. Returns nil when no diff record is needed. Cost is O(1) plus
// the O(depth) scope walk, independent of snapshot count.
func (t *Tree) captureDir(dir *Node) *DirectoryDiff {
	seq, ok := t.inSnapshotScope(dir)
	if !ok {
		return nil
	}
	chain := dir.Dir.Diffs
	if len(chain) > 0 && chain[len(chain)-1].Seq == seq {
		return chain[len(chain)-1]
	}
	d := &DirectoryDiff{Seq: seq}
	dir.Dir.Diffs = append(dir.Dir.Diffs, d)
	log.Debugf("diff: directory %q records for snapshot seq=%d", dir.Name, seq)
	return d
}

// captureDirAttrs copies dir's attributes into the current diff before the
// first attribute change after the newest snapshot.
func (t *Tree) captureDirAttrs(dir *Node) {
	d := t.captureDir(dir)
	if d == nil || d.Attrs != nil {
		return
	}
	cp := dir.Attributes
	d.Attrs = &cp
}

// captureFile records the file's pre-mutation state for the newest snapshot
// covering it, once per snapshot interval. Must be called before the first
// mutation of the file after a snapshot.
func (t *Tree) captureFile(file *Node) {
	seq, ok := t.inSnapshotScope(file)
	if !ok {
		return
	}
	chain := file.File.Diffs
	if len(chain) > 0 && chain[len(chain)-1].Seq == seq {
		return
	}
	fd := &FileDiff{
		Seq:         seq,
		Attrs:       file.Attributes,
		Replication: file.File.Replication,
		Length:      file.File.Length(),
		Blocks:      file.File.cloneBlocks(),
	}
	if uc := file.File.UC; uc != nil {
		fd.UC = true
		fd.Client = uc.Client
	}
	file.File.Diffs = append(file.File.Diffs, fd)
	log.Debugf("diff: file %q records length=%d for snapshot seq=%d", file.Name, fd.Length, seq)
}

// childrenAt reconstructs dir's child map as of snapshot sequence seq by
// walking the diff chain newest to oldest and undoing every change recorded
// at or after seq. seq 0 returns a copy of the live children.
func (t *Tree) childrenAt(dir *Node, seq uint64) map[string]NodeID {
	children := make(map[string]NodeID, len(dir.Dir.Children))
	for name, id := range dir.Dir.Children {
		children[name] = id
	}
	if seq == 0 {
		return children
	}
	for i := len(dir.Dir.Diffs) - 1; i >= 0; i-- {
		d := dir.Dir.Diffs[i]
		if d.Seq < seq {
			break
		}
		for _, id := range d.Created {
			removeByID(children, id)
		}
		for _, id := range d.Deleted {
			children[t.nodes[id].Name] = id
		}
		for _, r := range d.Renamed {
			removeByID(children, r.Node)
			children[r.OldName] = r.Node
		}
	}
	return children
}

// attrsAt reconstructs a directory's attributes as of snapshot sequence
// seq: the earliest copy recorded at or after seq, falling back to live.
func attrsAt(dir *Node, seq uint64) Attributes {
	if seq != 0 {
		for _, d := range dir.Dir.Diffs {
			if d.Seq >= seq && d.Attrs != nil {
				return *d.Attrs
			}
		}
	}
	return dir.Attributes
}

// fileStateAt reconstructs a file's observable state as of snapshot
// sequence seq: the earliest diff recorded at or after seq, falling back to
// live state.
func fileStateAt(file *Node, seq uint64) FileDiff {
	if seq != 0 {
		for _, d := range file.File.Diffs {
			if d.Seq >= seq {
				return *d
			}
		}
	}
	fd := FileDiff{
		Attrs:       file.Attributes,
		Replication: file.File.Replication,
		Length:      file.File.Length(),
		Blocks:      file.File.Blocks,
	}
	if uc := file.File.UC; uc != nil {
		fd.UC = true
		fd.Client = uc.Client
	}
	return fd
}

func removeByID(children map[string]NodeID, id NodeID) {
	for name, cid := range children {
		if cid == id {
			delete(children, name)
			return
		}
	}
}

func removeID(ids []NodeID, id NodeID) ([]NodeID, bool) {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...), true
		}
	}
	return ids, false
}

func containsID(ids []NodeID, id NodeID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// compactSubtree removes every diff tagged with sequence seq from the
// subtree rooted at n, merging its content into the diff for priorSeq so
// that surviving older snapshots still reconstruct correctly. priorSeq 0
// means seq belonged to the oldest snapshot, in which case state preserved
// only for it is reclaimed. Called when a snapshot is deleted.
func (t *Tree) compactSubtree(n *Node, seq, priorSeq uint64) {
	switch n.Kind {
	case KindFile:
		t.compactFileDiffs(n, seq, priorSeq)
	case KindDirectory:
		// Visit detached subtrees first: merging may destroy them.
		for _, d := range n.Dir.Diffs {
			for _, id := range d.Deleted {
				t.compactSubtree(t.nodes[id], seq, priorSeq)
			}
		}
		for _, id := range n.Dir.Children {
			t.compactSubtree(t.nodes[id], seq, priorSeq)
		}
		t.compactDirDiffs(n, seq, priorSeq)
	}
}

func (t *Tree) compactFileDiffs(file *Node, seq, priorSeq uint64) {
	chain := file.File.Diffs
	for i, d := range chain {
		if d.Seq != seq {
			continue
		}
		if priorSeq != 0 && (i == 0 || chain[i-1].Seq != priorSeq) {
			// The prior snapshot has no record of its own, so the file did
			// not change between the two; this record now speaks for it.
			d.Seq = priorSeq
			return
		}
		// Either the prior snapshot has its own record (chain[i-1]) or no
		// older snapshot survives; this record is no longer needed.
		file.File.Diffs = append(chain[:i], chain[i+1:]...)
		return
	}
}

func (t *Tree) compactDirDiffs(dir *Node, seq, priorSeq uint64) {
	chain := dir.Dir.Diffs
	idx := -1
	for i, d := range chain {
		if d.Seq == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	d := chain[idx]

	if priorSeq == 0 {
		// Oldest snapshot going away: its deleted references were the only
		// thing keeping those subtrees alive.
		dir.Dir.Diffs = append(chain[:idx], chain[idx+1:]...)
		for _, id := range d.Deleted {
			t.destroySubtree(t.nodes[id])
		}
		return
	}
	if idx == 0 || chain[idx-1].Seq != priorSeq {
		// The prior snapshot has no diff of its own here: nothing changed
		// between the two snapshots, so this record now speaks for it.
		d.Seq = priorSeq
		return
	}

	prior := chain[idx-1]
	dir.Dir.Diffs = append(chain[:idx], chain[idx+1:]...)

	if prior.Attrs == nil {
		prior.Attrs = d.Attrs
	}
	prior.Created = append(prior.Created, d.Created...)
	for _, id := range d.Deleted {
		if next, ok := removeID(prior.Created, id); ok {
			// Created after the prior snapshot and deleted after this one:
			// no surviving snapshot ever sees it.
			prior.Created = next
			t.destroySubtree(t.nodes[id])
			continue
		}
		prior.Deleted = append(prior.Deleted, id)
	}
renames:
	for _, r := range d.Renamed {
		if containsID(prior.Created, r.Node) {
			continue
		}
		for _, pr := range prior.Renamed {
			if pr.Node == r.Node {
				// The prior record already holds the older name.
				continue renames
			}
		}
		prior.Renamed = append(prior.Renamed, r)
	}
}
