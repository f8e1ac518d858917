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
	"time"

	"github.com/google/uuid"

	"snapns/internal/common"
)

// Config carries the tree-wide defaults.
type Config struct {
	BlockSize          int64
	DefaultReplication uint16
	DefaultOwner       string
	DefaultGroup       string
}

// DefaultConfig returns the stock tree configuration.
func DefaultConfig() Config {
	return Config{
		BlockSize:          64 * 1024 * 1024,
		DefaultReplication: 3,
		DefaultOwner:       "snapns",
		DefaultGroup:       "supergroup",
	}
}

// Tree is the canonical in-memory namespace: an arena of nodes keyed by
// stable id, a snapshot registry, and the id/sequence counters. A Tree is
// not safe for concurrent use; Namespace provides the lock discipline.
type Tree struct {
	// NamespaceID identifies the namespace across save/load round trips.
	NamespaceID uuid.UUID

	cfg      Config
	nodes    map[NodeID]*Node
	registry *registry

	nextID      NodeID
	nextBlockID uint64
	seq         uint64 // last allocated snapshot sequence number

	// Clock is injectable for deterministic tests.
	Clock func() time.Time
}

// NewTree creates an empty tree with just the root directory.
func NewTree(cfg Config) *Tree {
	t := &Tree{
		NamespaceID: uuid.New(),
		cfg:         cfg,
		nodes:       make(map[NodeID]*Node),
		registry:    newRegistry(),
		nextID:      RootID + 1,
		nextBlockID: 1,
		Clock:       time.Now,
	}
	root := newDirectoryNode(RootID, "", cfg.DefaultOwner, cfg.DefaultGroup, 0755, t.Clock())
	t.nodes[RootID] = root
	return t
}

// Root returns the root directory node.
func (t *Tree) Root() *Node { return t.nodes[RootID] }

// Config returns the tree configuration.
func (t *Tree) Config() Config { return t.cfg }

// NodeCount returns the number of nodes in the arena, live and
// snapshot-referenced alike.
func (t *Tree) NodeCount() int { return len(t.nodes) }

// LastSnapshotSeq returns the most recently allocated snapshot sequence.
func (t *Tree) LastSnapshotSeq() uint64 { return t.seq }

func (t *Tree) allocID() NodeID {
	id := t.nextID
	t.nextID++
	return id
}

func (t *Tree) allocBlockID() uint64 {
	id := t.nextBlockID
	t.nextBlockID++
	return id
}

// Resolve walks a namespace path to its node. Intermediate file components
// fail with ErrNotDir, missing components with ErrNotFound.
func (t *Tree) Resolve(path string) (*Node, error) {
	cur := t.Root()
	for _, part := range common.SplitPath(path) {
		if !cur.IsDir() {
			return nil, common.ErrNotDir
		}
		id, ok := cur.Dir.Children[part]
		if !ok {
			return nil, common.ErrNotFound
		}
		cur = t.nodes[id]
	}
	return cur, nil
}

// ResolveDir resolves a path and requires it to be a directory.
func (t *Tree) ResolveDir(path string) (*Node, error) {
	n, err := t.Resolve(path)
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, common.ErrNotDir
	}
	return n, nil
}

// recordCreate captures the parent's pre-mutation state and registers a
// freshly created child in the current diff, then links it into the live
// children.
func (t *Tree) recordCreate(parent, child *Node) {
	if d := t.captureDir(parent); d != nil {
		if d.Attrs == nil {
			cp := parent.Attributes
			d.Attrs = &cp
		}
		d.Created = append(d.Created, child.ID)
	}
	child.Parent = parent.ID
	child.BirthSeq = t.seq
	parent.Dir.Children[child.Name] = child.ID
	parent.MTime = t.Clock().UnixNano()
	t.nodes[child.ID] = child
}

func (t *Tree) checkNewChild(parent *Node, name string) error {
	if !parent.IsDir() {
		return common.ErrNotDir
	}
	if !common.ValidName(name) {
		return common.ErrInvalidPath
	}
	if _, ok := parent.Dir.Children[name]; ok {
		return common.ErrExists
	}
	return nil
}

// CreateDirectory creates a directory child. Fails with ErrExists if the
// name is taken.
func (t *Tree) CreateDirectory(parent *Node, name, owner, group string, perm uint16) (*Node, error) {
	if err := t.checkNewChild(parent, name); err != nil {
		return nil, err
	}
	child := newDirectoryNode(t.allocID(), name, owner, group, perm, t.Clock())
	t.recordCreate(parent, child)
	return child, nil
}

// MkdirAll creates every missing directory along path and returns the final
// one. Existing directories are reused; an existing file component fails
// with ErrNotDir.
func (t *Tree) MkdirAll(path string) (*Node, error) {
	cur := t.Root()
	for _, part := range common.SplitPath(path) {
		if !cur.IsDir() {
			return nil, common.ErrNotDir
		}
		if id, ok := cur.Dir.Children[part]; ok {
			cur = t.nodes[id]
			continue
		}
		child, err := t.CreateDirectory(cur, part, t.cfg.DefaultOwner, t.cfg.DefaultGroup, 0755)
		if err != nil {
			return nil, err
		}
		cur = child
	}
	if !cur.IsDir() {
		return nil, common.ErrNotDir
	}
	return cur, nil
}

// CreateFile creates a file child, open for writing by client.
func (t *Tree) CreateFile(parent *Node, name, owner, group string, perm, repl uint16, client string) (*Node, error) {
	if err := t.checkNewChild(parent, name); err != nil {
		return nil, err
	}
	if repl == 0 {
		repl = t.cfg.DefaultReplication
	}
	child := newFileNode(t.allocID(), name, owner, group, perm, repl, t.Clock())
	child.File.UC = &UnderConstruction{Client: client}
	t.recordCreate(parent, child)
	return child, nil
}

// Delete removes the named child from parent and returns it. The returned
// node may still be referenced by snapshot diffs; it is reclaimed only once
// nothing needs it.
func (t *Tree) Delete(parent *Node, name string) (*Node, error) {
	if !parent.IsDir() {
		return nil, common.ErrNotDir
	}
	id, ok := parent.Dir.Children[name]
	if !ok {
		return nil, common.ErrNotFound
	}
	child := t.nodes[id]
	if child.IsDir() && t.subtreeHasSnapshots(child) {
		return nil, common.ErrHasSnapshots
	}

	d := t.captureDir(parent)
	if d != nil && d.Attrs == nil {
		cp := parent.Attributes
		d.Attrs = &cp
	}
	delete(parent.Dir.Children, name)
	parent.MTime = t.Clock().UnixNano()

	switch {
	case d == nil:
		// Out of snapshot scope: nothing references the subtree anymore.
		t.destroySubtree(child)
	default:
		if created, found := removeID(d.Created, child.ID); found {
			// Created and deleted within the same snapshot interval: no
			// snapshot ever observed it.
			d.Created = created
			d.Renamed = dropRenamesFor(d.Renamed, child.ID)
			t.destroySubtree(child)
		} else {
			d.Deleted = append(d.Deleted, child.ID)
			child.Parent = 0
		}
	}
	return child, nil
}

// Rename changes a child's name within its parent directory.
func (t *Tree) Rename(parent *Node, oldName, newName string) error {
	if !parent.IsDir() {
		return common.ErrNotDir
	}
	id, ok := parent.Dir.Children[oldName]
	if !ok {
		return common.ErrNotFound
	}
	if !common.ValidName(newName) {
		return common.ErrInvalidPath
	}
	if _, taken := parent.Dir.Children[newName]; taken {
		return common.ErrExists
	}
	child := t.nodes[id]

	if d := t.captureDir(parent); d != nil {
		if d.Attrs == nil {
			cp := parent.Attributes
			d.Attrs = &cp
		}
		if !containsID(d.Created, id) && !hasRenameFor(d.Renamed, id) {
			d.Renamed = append(d.Renamed, Rename{OldName: oldName, Node: id})
		}
	}

	delete(parent.Dir.Children, oldName)
	parent.Dir.Children[newName] = id
	child.Name = newName
	now := t.Clock().UnixNano()
	parent.MTime = now
	return nil
}

// SetAttr updates a node's common attributes, preserving the pre-mutation
// state for the newest covering snapshot first.
func (t *Tree) SetAttr(n *Node, u AttrUpdate) {
	if n.IsDir() {
		t.captureDirAttrs(n)
	} else {
		t.captureFile(n)
	}
	n.applyAttrUpdate(u)
}

// SetReplication changes a file's replication factor.
func (t *Tree) SetReplication(n *Node, repl uint16) error {
	if !n.IsFile() {
		return common.ErrIsDir
	}
	t.captureFile(n)
	n.File.Replication = repl
	return nil
}

// Append reopens an existing file for writing by client.
func (t *Tree) Append(n *Node, client string) error {
	if !n.IsFile() {
		return common.ErrIsDir
	}
	if n.File.UC != nil {
		return common.ErrFileOpen
	}
	t.captureFile(n)
	n.File.UC = &UnderConstruction{Client: client}
	return nil
}

// WritePending accepts size bytes from the open file's writer. The bytes
// stay invisible to the namespace length until Sync finalizes them; a
// snapshot or save in between never observes them.
func (t *Tree) WritePending(n *Node, size int64) error {
	if !n.IsFile() {
		return common.ErrIsDir
	}
	if n.File.UC == nil {
		return common.ErrNotUnderConstruction
	}
	n.File.UC.Pending += size
	return nil
}

// Sync durably finalizes all pending bytes into the block list, making
// them visible to the namespace length. A no-op when nothing is pending.
func (t *Tree) Sync(n *Node) error {
	if !n.IsFile() {
		return common.ErrIsDir
	}
	uc := n.File.UC
	if uc == nil {
		return common.ErrNotUnderConstruction
	}
	if uc.Pending == 0 {
		return nil
	}
	t.captureFile(n)
	t.appendBlocks(n.File, uc.Pending)
	uc.Pending = 0
	n.MTime = t.Clock().UnixNano()
	return nil
}

// CloseFile finalizes any pending bytes and clears the under-construction
// marker.
func (t *Tree) CloseFile(n *Node) error {
	if !n.IsFile() {
		return common.ErrIsDir
	}
	uc := n.File.UC
	if uc == nil {
		return common.ErrNotUnderConstruction
	}
	t.captureFile(n)
	if uc.Pending > 0 {
		t.appendBlocks(n.File, uc.Pending)
	}
	n.File.UC = nil
	n.MTime = t.Clock().UnixNano()
	return nil
}

// appendBlocks grows the block list by size bytes: the last block is filled
// to the block size, then fresh blocks are allocated.
func (t *Tree) appendBlocks(f *File, size int64) {
	if n := len(f.Blocks); n > 0 {
		last := &f.Blocks[n-1]
		if room := t.cfg.BlockSize - last.Length; room > 0 {
			grow := min(room, size)
			last.Length += grow
			size -= grow
		}
	}
	for size > 0 {
		grow := min(t.cfg.BlockSize, size)
		f.Blocks = append(f.Blocks, Block{ID: t.allocBlockID(), Length: grow})
		size -= grow
	}
}

// Path returns the live path of a node, walking parent links up to the
// root. Detached nodes have no live path.
func (t *Tree) Path(n *Node) string {
	if n.ID == RootID {
		return "/"
	}
	parts := []string{}
	for cur := n; cur != nil && cur.ID != RootID; cur = t.nodes[cur.Parent] {
		parts = append([]string{cur.Name}, parts...)
	}
	return "/" + common.JoinPath(parts...)
}

// OpenFile is one live under-construction file and its writer.
type OpenFile struct {
	Path   string
	Client string
}

// OpenFiles lists every live file currently under construction, sorted by
// path. Detached files kept alive only by snapshot diffs are not included.
func (t *Tree) OpenFiles() []OpenFile {
	var out []OpenFile
	var walk func(n *Node, path string)
	walk = func(n *Node, path string) {
		if n.IsFile() {
			if n.File.UC != nil {
				out = append(out, OpenFile{Path: path, Client: n.File.UC.Client})
			}
			return
		}
		for _, name := range n.Dir.SortedNames() {
			childPath := path + "/" + name
			if path == "/" {
				childPath = "/" + name
			}
			walk(t.nodes[n.Dir.Children[name]], childPath)
		}
	}
	walk(t.Root(), "/")
	return out
}

// subtreeHasSnapshots reports whether any directory in the live subtree is
// snapshottable with at least one live snapshot.
func (t *Tree) subtreeHasSnapshots(n *Node) bool {
	if !n.IsDir() {
		return false
	}
	if n.Dir.Snapshottable && len(t.registry.snapshots(n.ID)) > 0 {
		return true
	}
	for _, id := range n.Dir.Children {
		if t.subtreeHasSnapshots(t.nodes[id]) {
			return true
		}
	}
	return false
}

// destroySubtree removes a node, its children, and every detached subtree
// its diffs still reference from the arena. This is the
// reference-count-to-zero sweep: it runs only once the caller has proven
// nothing references the subtree.
func (t *Tree) destroySubtree(n *Node) {
	if n == nil {
		return
	}
	if n.IsDir() {
		for _, d := range n.Dir.Diffs {
			for _, id := range d.Deleted {
				t.destroySubtree(t.nodes[id])
			}
		}
		for _, id := range n.Dir.Children {
			t.destroySubtree(t.nodes[id])
		}
		t.registry.forget(n.ID)
	}
	delete(t.nodes, n.ID)
}

func dropRenamesFor(renames []Rename, id NodeID) []Rename {
	out := renames[:0]
	for _, r := range renames {
		if r.Node != id {
			out = append(out, r)
		}
	}
	return out
}

func hasRenameFor(renames []Rename, id NodeID) bool {
	for _, r := range renames {
		if r.Node == id {
			return true
		}
	}
	return false
}
