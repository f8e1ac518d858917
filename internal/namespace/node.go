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
	"time"
)

// NodeID is a stable node identifier, unique for the lifetime of a tree.
// Identifiers are never reused, even after a node is reclaimed.
type NodeID uint64

// RootID is the identifier of the root directory of every tree.
const RootID NodeID = 1

// NodeKind discriminates the node variant.
type NodeKind uint8

const (
	KindDirectory NodeKind = iota + 1
	KindFile
)

// Attributes are the fields common to every node.
type Attributes struct {
	Name  string
	Owner string
	Group string
	Perm  uint16
	MTime int64 // unix nanoseconds
}

// Block is one block descriptor of a file: a placement-opaque identifier
// plus the finalized byte length of the block.
type Block struct {
	ID     uint64
	Length int64
}

// UnderConstruction marks a file that is open for writing. Pending counts
// bytes accepted from the writer but not yet durably synced; they are
// invisible to the namespace length and are never serialized.
type UnderConstruction struct {
	Client  string
	Pending int64
}

// Node is the tagged variant over {Directory, File}. Exactly one of Dir and
// File is non-nil, matching Kind.
type Node struct {
	ID NodeID
	Attributes
	Kind NodeKind
	Dir  *Directory
	File *File

	// Parent is the owning directory in live state, 0 for the root and for
	// nodes that have been detached from the live tree but are still
	// referenced by a snapshot diff.
	Parent NodeID

	// BirthSeq is the newest snapshot sequence number that existed when the
	// node was created. The node is visible to a snapshot with sequence s
	// iff BirthSeq < s.
	BirthSeq uint64
}

// Directory is the directory-specific payload.
type Directory struct {
	// Children maps live child name to child id. Names are unique among
	// live children; iteration order is defined by SortedNames.
	Children map[string]NodeID

	// Snapshottable is set by the registry's AllowSnapshots.
	Snapshottable bool

	// Diffs is the diff chain, oldest to newest, each tagged with the
	// snapshot sequence it preserves state for.
	Diffs []*DirectoryDiff
}

// File is the file-specific payload.
type File struct {
	Replication uint16
	Blocks      []Block
	UC          *UnderConstruction
	Diffs       []*FileDiff
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.Kind == KindDirectory }

// IsFile reports whether the node is a regular file.
func (n *Node) IsFile() bool { return n.Kind == KindFile }

// SortedNames returns the live child names in lexical order.
func (d *Directory) SortedNames() []string {
	names := make([]string, 0, len(d.Children))
	for name := range d.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Length is the synced length of the file: the sum of finalized block
// lengths. Pending under-construction bytes are excluded.
func (f *File) Length() int64 {
	var total int64
	for _, b := range f.Blocks {
		total += b.Length
	}
	return total
}

// cloneBlocks copies the block list for a diff record.
func (f *File) cloneBlocks() []Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	out := make([]Block, len(f.Blocks))
	copy(out, f.Blocks)
	return out
}

// AttrUpdate selects attribute fields to change. Nil fields are untouched.
type AttrUpdate struct {
	Owner *string
	Group *string
	Perm  *uint16
	MTime *int64
}

func (n *Node) applyAttrUpdate(u AttrUpdate) {
	if u.Owner != nil {
		n.Owner = *u.Owner
	}
	if u.Group != nil {
		n.Group = *u.Group
	}
	if u.Perm != nil {
		n.Perm = *u.Perm
	}
	if u.MTime != nil {
		n.MTime = *u.MTime
	}
}

func newDirectoryNode(id NodeID, name, owner, group string, perm uint16, mtime time.Time) *Node {
	return &Node{
		ID: id,
		Attributes: Attributes{
			Name:  name,
			Owner: owner,
			Group: group,
			Perm:  perm,
			MTime: mtime.UnixNano(),
		},
		Kind: KindDirectory,
		Dir:  &Directory{Children: make(map[string]NodeID)},
	}
}

func newFileNode(id NodeID, name, owner, group string, perm uint16, repl uint16, mtime time.Time) *Node {
	return &Node{
		ID: id,
		Attributes: Attributes{
			Name:  name,
			Owner: owner,
			Group: group,
			Perm:  perm,
			MTime: mtime.UnixNano(),
		},
		Kind: KindFile,
		File: &File{Replication: repl},
	}
}
