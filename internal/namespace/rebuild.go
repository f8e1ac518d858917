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
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"snapns/internal/common"
)

// NewTreeForLoad creates an empty arena for an image loader to populate.
// Unlike NewTree it has no root; the loader supplies every node, then
// FinishLoad validates the result and rebuilds the counters.
func NewTreeForLoad(cfg Config, nsid uuid.UUID) *Tree {
	return &Tree{
		NamespaceID: nsid,
		cfg:         cfg,
		nodes:       make(map[NodeID]*Node),
		registry:    newRegistry(),
		Clock:       time.Now,
	}
}

// PutNode inserts a deserialized node into the arena.
func (t *Tree) PutNode(n *Node) error {
	if _, ok := t.nodes[n.ID]; ok {
		return fmt.Errorf("duplicate node id %d: %w", n.ID, common.ErrCorrupt)
	}
	t.nodes[n.ID] = n
	return nil
}

// GetNode looks up a node by id during diff re-attachment.
func (t *Tree) GetNode(id NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// NodeIDs returns every arena node id in ascending order, detached nodes
// included. Serialization iterates this for a deterministic byte stream.
func (t *Tree) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RestoreSnapshot re-registers one deserialized snapshot. Snapshots must be
// restored in their serialized order, which is creation order.
func (t *Tree) RestoreSnapshot(root NodeID, name string, seq uint64) error {
	dir, ok := t.nodes[root]
	if !ok || !dir.IsDir() || !dir.Dir.Snapshottable {
		return fmt.Errorf("snapshot %q references node %d which is not a snapshottable directory: %w", name, root, common.ErrCorrupt)
	}
	snaps := t.registry.roots[root]
	if n := len(snaps); n > 0 && snaps[n-1].Seq >= seq {
		return fmt.Errorf("snapshot %q sequence %d out of order: %w", name, seq, common.ErrCorrupt)
	}
	t.registry.roots[root] = append(snaps, &Snapshot{Name: name, Seq: seq, Root: root})
	return nil
}

// FinishLoad validates the rebuilt arena and recomputes the id, block and
// sequence counters from the deserialized state. After it returns the tree
// is indistinguishable from one built by live mutations.
func (t *Tree) FinishLoad() error {
	root, ok := t.nodes[RootID]
	if !ok || !root.IsDir() {
		return fmt.Errorf("image has no root directory: %w", common.ErrCorrupt)
	}
	var maxID NodeID
	var maxBlock, maxSeq uint64
	for id, n := range t.nodes {
		if id > maxID {
			maxID = id
		}
		switch {
		case n.IsFile():
			for _, b := range n.File.Blocks {
				maxBlock = max(maxBlock, b.ID)
			}
			for _, d := range n.File.Diffs {
				maxSeq = max(maxSeq, d.Seq)
				for _, b := range d.Blocks {
					maxBlock = max(maxBlock, b.ID)
				}
			}
		case n.IsDir():
			for name, cid := range n.Dir.Children {
				child, ok := t.nodes[cid]
				if !ok {
					return fmt.Errorf("directory %d child %q references missing node %d: %w", id, name, cid, common.ErrCorrupt)
				}
				child.Parent = id
			}
			for _, d := range n.Dir.Diffs {
				maxSeq = max(maxSeq, d.Seq)
				for _, did := range d.Deleted {
					if _, ok := t.nodes[did]; !ok {
						return fmt.Errorf("diff of directory %d references missing node %d: %w", id, did, common.ErrCorrupt)
					}
				}
			}
			if n.Dir.Snapshottable {
				if _, ok := t.registry.roots[id]; !ok {
					t.registry.roots[id] = nil
				}
			}
		default:
			return fmt.Errorf("node %d has unknown kind %d: %w", id, n.Kind, common.ErrCorrupt)
		}
	}
	for id := range t.registry.roots {
		if _, ok := t.nodes[id]; !ok {
			return fmt.Errorf("registry references missing directory %d: %w", id, common.ErrCorrupt)
		}
	}
	t.nextID = maxID + 1
	t.nextBlockID = maxBlock + 1
	t.seq = maxSeq
	return nil
}
