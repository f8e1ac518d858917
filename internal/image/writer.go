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
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"snapns/internal/common"
	"snapns/internal/namespace"
)

// Saver serializes one tree state. The caller must hold the namespace read
// lock for the whole call so no mutation is observed half-applied. The
// entire image is staged in memory and written to the sink only once
// serialization finished; a cancelled or failed save leaves the sink
// untouched.
type Saver struct {
	TxID uint64
}

// Save writes the image for t to w and returns the byte count. It polls c
// before each top-level subtree and returns ErrCancelled when set.
func (s *Saver) Save(w io.Writer, t *namespace.Tree, c *Canceler) (int64, error) {
	body := &encoder{}
	if err := s.writeTreeSection(body, t, c); err != nil {
		return 0, err
	}
	s.writeRegistrySection(body, t)
	s.writeDiffSection(body, t)

	head := &encoder{}
	head.buf = append(head.buf, magic...)
	head.u32(FormatVersion)
	head.u64(s.TxID)
	head.buf = append(head.buf, t.NamespaceID[:]...)
	head.u32(0) // reserved flags

	sum := xxh3.Hash128(body.buf).Bytes()

	var written int64
	for _, chunk := range [][]byte{head.buf, body.buf, sum[:]} {
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write image: %w", err)
		}
	}
	log.WithFields(log.Fields{"txid": s.TxID, "bytes": written, "nodes": t.NodeCount()}).
		Info("image saved")
	return written, nil
}

// writeTreeSection emits the root subtree pre-order, then every detached
// subtree still referenced by a snapshot diff, ordered by root id.
func (s *Saver) writeTreeSection(e *encoder, t *namespace.Tree, c *Canceler) error {
	root := t.Root()
	writeNodeRecord(e, root)
	names := root.Dir.SortedNames()
	e.u32(uint32(len(names)))
	for _, name := range names {
		if c.IsCancelled() {
			return common.ErrCancelled
		}
		child, _ := t.GetNode(root.Dir.Children[name])
		writeSubtree(e, t, child)
	}

	var detached []namespace.NodeID
	for _, id := range t.NodeIDs() {
		n, _ := t.GetNode(id)
		if n.Parent == 0 && n.ID != namespace.RootID {
			detached = append(detached, id)
		}
	}
	e.u32(uint32(len(detached)))
	for _, id := range detached {
		if c.IsCancelled() {
			return common.ErrCancelled
		}
		n, _ := t.GetNode(id)
		writeSubtree(e, t, n)
	}
	return nil
}

func writeSubtree(e *encoder, t *namespace.Tree, n *namespace.Node) {
	writeNodeRecord(e, n)
	if !n.IsDir() {
		return
	}
	names := n.Dir.SortedNames()
	e.u32(uint32(len(names)))
	for _, name := range names {
		child, _ := t.GetNode(n.Dir.Children[name])
		writeSubtree(e, t, child)
	}
}

func writeNodeRecord(e *encoder, n *namespace.Node) {
	switch {
	case n.IsDir():
		e.u8(kindTagDirectory)
	default:
		e.u8(kindTagFile)
	}
	e.u64(uint64(n.ID))
	writeAttrs(e, n.Attributes)
	e.u64(n.BirthSeq)

	if n.IsDir() {
		var flags uint8
		if n.Dir.Snapshottable {
			flags |= flagSnapshottable
		}
		e.u8(flags)
		return
	}

	f := n.File
	e.u16(f.Replication)
	writeBlocks(e, f.Blocks)
	if f.UC != nil {
		// Pending bytes are deliberately not serialized: only synced
		// lengths survive a save, so reload never reproduces a length the
		// writer did not durably commit.
		e.u8(flagUnderConstruction)
		e.str(f.UC.Client)
	} else {
		e.u8(0)
	}
}

func writeAttrs(e *encoder, a namespace.Attributes) {
	e.str(a.Name)
	e.str(a.Owner)
	e.str(a.Group)
	e.u16(a.Perm)
	e.i64(a.MTime)
}

func writeBlocks(e *encoder, blocks []namespace.Block) {
	e.u32(uint32(len(blocks)))
	for _, b := range blocks {
		e.u64(b.ID)
		e.i64(b.Length)
	}
}

func (s *Saver) writeRegistrySection(e *encoder, t *namespace.Tree) {
	roots := t.SnapshotRoots()
	e.u32(uint32(len(roots)))
	for _, id := range roots {
		dir, _ := t.GetNode(id)
		snaps, _ := t.Snapshots(dir)
		e.u64(uint64(id))
		e.u32(uint32(len(snaps)))
		for _, snap := range snaps {
			e.str(snap.Name)
			e.u64(snap.Seq)
		}
	}
}

func (s *Saver) writeDiffSection(e *encoder, t *namespace.Tree) {
	var owners []namespace.NodeID
	for _, id := range t.NodeIDs() {
		n, _ := t.GetNode(id)
		if hasDiffs(n) {
			owners = append(owners, id)
		}
	}
	e.u32(uint32(len(owners)))
	for _, id := range owners {
		n, _ := t.GetNode(id)
		e.u64(uint64(id))
		if n.IsDir() {
			e.u8(kindTagDirectory)
			e.u32(uint32(len(n.Dir.Diffs)))
			for _, d := range n.Dir.Diffs {
				writeDirectoryDiff(e, d)
			}
			continue
		}
		e.u8(kindTagFile)
		e.u32(uint32(len(n.File.Diffs)))
		for _, d := range n.File.Diffs {
			writeFileDiff(e, d)
		}
	}
}

func hasDiffs(n *namespace.Node) bool {
	if n.IsDir() {
		return len(n.Dir.Diffs) > 0
	}
	return len(n.File.Diffs) > 0
}

func writeDirectoryDiff(e *encoder, d *namespace.DirectoryDiff) {
	e.u64(d.Seq)
	if d.Attrs != nil {
		e.u8(flagHasAttrs)
		writeAttrs(e, *d.Attrs)
	} else {
		e.u8(0)
	}
	e.u32(uint32(len(d.Created)))
	for _, id := range d.Created {
		e.u64(uint64(id))
	}
	e.u32(uint32(len(d.Deleted)))
	for _, id := range d.Deleted {
		e.u64(uint64(id))
	}
	e.u32(uint32(len(d.Renamed)))
	for _, r := range d.Renamed {
		e.str(r.OldName)
		e.u64(uint64(r.Node))
	}
}

func writeFileDiff(e *encoder, d *namespace.FileDiff) {
	e.u64(d.Seq)
	writeAttrs(e, d.Attrs)
	e.u16(d.Replication)
	e.i64(d.Length)
	writeBlocks(e, d.Blocks)
	if d.UC {
		e.u8(flagUnderConstruction)
		e.str(d.Client)
	} else {
		e.u8(0)
	}
}
