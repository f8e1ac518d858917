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
	"fmt"
	"io"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"snapns/internal/common"
	"snapns/internal/namespace"
)

// Result is a fully reconstructed tree plus the image header it came from.
type Result struct {
	Tree   *namespace.Tree
	Header Header
}

// Loader reconstructs a tree from an image stream. It is checksum-first:
// the whole payload is read and verified before any tree state is built,
// so a corrupt image can never leave a partially reconstructed result.
type Loader struct {
	Cfg namespace.Config
}

// Load reads one image from r. It fails with ErrVersionMismatch on an
// unsupported header, ErrTruncated on a short stream and ErrCorrupt on a
// checksum or structural mismatch.
func (l *Loader) Load(r io.Reader) (*Result, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image payload: %w", err)
	}
	if len(rest) < 16 {
		return nil, fmt.Errorf("image ends before checksum trailer: %w", common.ErrTruncated)
	}
	payload, trailer := rest[:len(rest)-16], rest[len(rest)-16:]
	sum := xxh3.Hash128(payload).Bytes()
	if !bytes.Equal(sum[:], trailer) {
		return nil, fmt.Errorf("image checksum mismatch: %w", common.ErrCorrupt)
	}

	t := namespace.NewTreeForLoad(l.Cfg, uuid.UUID(hdr.NamespaceID))
	d := &decoder{buf: payload}
	if err := readTreeSection(d, t); err != nil {
		return nil, err
	}
	if err := readRegistrySection(d, t); err != nil {
		return nil, err
	}
	if err := readDiffSection(d, t); err != nil {
		return nil, err
	}
	if !d.done() {
		return nil, fmt.Errorf("image has %d trailing payload bytes: %w", len(payload)-d.off, common.ErrCorrupt)
	}
	if err := t.FinishLoad(); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"txid": hdr.TxID, "nodes": t.NodeCount()}).Info("image loaded")
	return &Result{Tree: t, Header: hdr}, nil
}

func readHeader(r io.Reader) (Header, error) {
	raw := make([]byte, len(magic)+4+8+16+4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Header{}, fmt.Errorf("read image header: %w", common.ErrTruncated)
	}
	if !bytes.Equal(raw[:len(magic)], magic) {
		return Header{}, fmt.Errorf("bad image magic: %w", common.ErrCorrupt)
	}
	d := &decoder{buf: raw[len(magic):]}
	var hdr Header
	hdr.Version, _ = d.u32()
	hdr.TxID, _ = d.u64()
	b, _ := d.need(16)
	copy(hdr.NamespaceID[:], b)
	hdr.Flags, _ = d.u32()
	if hdr.Version != FormatVersion {
		return Header{}, fmt.Errorf("image format version %d, want %d: %w", hdr.Version, FormatVersion, common.ErrVersionMismatch)
	}
	return hdr, nil
}

func readTreeSection(d *decoder, t *namespace.Tree) error {
	root, err := readSubtree(d, t)
	if err != nil {
		return err
	}
	if root.ID != namespace.RootID || !root.IsDir() {
		return fmt.Errorf("first tree record is not the root directory: %w", common.ErrCorrupt)
	}
	detached, err := d.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < detached; i++ {
		if _, err := readSubtree(d, t); err != nil {
			return err
		}
	}
	return nil
}

func readSubtree(d *decoder, t *namespace.Tree) (*namespace.Node, error) {
	n, err := readNodeRecord(d)
	if err != nil {
		return nil, err
	}
	if err := t.PutNode(n); err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return n, nil
	}
	count, err := d.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		child, err := readSubtree(d, t)
		if err != nil {
			return nil, err
		}
		if _, dup := n.Dir.Children[child.Name]; dup {
			return nil, fmt.Errorf("directory %d has duplicate child %q: %w", n.ID, child.Name, common.ErrCorrupt)
		}
		n.Dir.Children[child.Name] = child.ID
		child.Parent = n.ID
	}
	return n, nil
}

func readNodeRecord(d *decoder) (*namespace.Node, error) {
	tag, err := d.u8()
	if err != nil {
		return nil, err
	}
	n := &namespace.Node{}
	id, err := d.u64()
	if err != nil {
		return nil, err
	}
	n.ID = namespace.NodeID(id)
	if n.Attributes, err = readAttrs(d); err != nil {
		return nil, err
	}
	if n.BirthSeq, err = d.u64(); err != nil {
		return nil, err
	}

	switch tag {
	case kindTagDirectory:
		n.Kind = namespace.KindDirectory
		n.Dir = &namespace.Directory{Children: make(map[string]namespace.NodeID)}
		flags, err := d.u8()
		if err != nil {
			return nil, err
		}
		n.Dir.Snapshottable = flags&flagSnapshottable != 0
	case kindTagFile:
		n.Kind = namespace.KindFile
		n.File = &namespace.File{}
		if n.File.Replication, err = d.u16(); err != nil {
			return nil, err
		}
		if n.File.Blocks, err = readBlocks(d); err != nil {
			return nil, err
		}
		flags, err := d.u8()
		if err != nil {
			return nil, err
		}
		if flags&flagUnderConstruction != 0 {
			client, err := d.str()
			if err != nil {
				return nil, err
			}
			n.File.UC = &namespace.UnderConstruction{Client: client}
		}
	default:
		return nil, fmt.Errorf("unknown node kind tag %d: %w", tag, common.ErrCorrupt)
	}
	return n, nil
}

func readAttrs(d *decoder) (namespace.Attributes, error) {
	var a namespace.Attributes
	var err error
	if a.Name, err = d.str(); err != nil {
		return a, err
	}
	if a.Owner, err = d.str(); err != nil {
		return a, err
	}
	if a.Group, err = d.str(); err != nil {
		return a, err
	}
	if a.Perm, err = d.u16(); err != nil {
		return a, err
	}
	if a.MTime, err = d.i64(); err != nil {
		return a, err
	}
	return a, nil
}

func readBlocks(d *decoder) ([]namespace.Block, error) {
	count, err := d.u32()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	blocks := make([]namespace.Block, count)
	for i := range blocks {
		if blocks[i].ID, err = d.u64(); err != nil {
			return nil, err
		}
		if blocks[i].Length, err = d.i64(); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

func readRegistrySection(d *decoder, t *namespace.Tree) error {
	count, err := d.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		id, err := d.u64()
		if err != nil {
			return err
		}
		snaps, err := d.u32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < snaps; j++ {
			name, err := d.str()
			if err != nil {
				return err
			}
			seq, err := d.u64()
			if err != nil {
				return err
			}
			if err := t.RestoreSnapshot(namespace.NodeID(id), name, seq); err != nil {
				return err
			}
		}
	}
	return nil
}

func readDiffSection(d *decoder, t *namespace.Tree) error {
	count, err := d.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		id, err := d.u64()
		if err != nil {
			return err
		}
		owner, ok := t.GetNode(namespace.NodeID(id))
		if !ok {
			return fmt.Errorf("diff chain references missing node %d: %w", id, common.ErrCorrupt)
		}
		tag, err := d.u8()
		if err != nil {
			return err
		}
		chainLen, err := d.u32()
		if err != nil {
			return err
		}
		switch {
		case tag == kindTagDirectory && owner.IsDir():
			for j := uint32(0); j < chainLen; j++ {
				diff, err := readDirectoryDiff(d)
				if err != nil {
					return err
				}
				if n := len(owner.Dir.Diffs); n > 0 && owner.Dir.Diffs[n-1].Seq >= diff.Seq {
					return fmt.Errorf("diff chain of node %d out of order: %w", id, common.ErrCorrupt)
				}
				owner.Dir.Diffs = append(owner.Dir.Diffs, diff)
			}
		case tag == kindTagFile && owner.IsFile():
			for j := uint32(0); j < chainLen; j++ {
				diff, err := readFileDiff(d)
				if err != nil {
					return err
				}
				if n := len(owner.File.Diffs); n > 0 && owner.File.Diffs[n-1].Seq >= diff.Seq {
					return fmt.Errorf("diff chain of node %d out of order: %w", id, common.ErrCorrupt)
				}
				owner.File.Diffs = append(owner.File.Diffs, diff)
			}
		default:
			return fmt.Errorf("diff chain kind tag %d does not match node %d: %w", tag, id, common.ErrCorrupt)
		}
	}
	return nil
}

func readDirectoryDiff(d *decoder) (*namespace.DirectoryDiff, error) {
	diff := &namespace.DirectoryDiff{}
	var err error
	if diff.Seq, err = d.u64(); err != nil {
		return nil, err
	}
	flags, err := d.u8()
	if err != nil {
		return nil, err
	}
	if flags&flagHasAttrs != 0 {
		attrs, err := readAttrs(d)
		if err != nil {
			return nil, err
		}
		diff.Attrs = &attrs
	}
	if diff.Created, err = readIDList(d); err != nil {
		return nil, err
	}
	if diff.Deleted, err = readIDList(d); err != nil {
		return nil, err
	}
	renames, err := d.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < renames; i++ {
		oldName, err := d.str()
		if err != nil {
			return nil, err
		}
		id, err := d.u64()
		if err != nil {
			return nil, err
		}
		diff.Renamed = append(diff.Renamed, namespace.Rename{OldName: oldName, Node: namespace.NodeID(id)})
	}
	return diff, nil
}

func readFileDiff(d *decoder) (*namespace.FileDiff, error) {
	diff := &namespace.FileDiff{}
	var err error
	if diff.Seq, err = d.u64(); err != nil {
		return nil, err
	}
	if diff.Attrs, err = readAttrs(d); err != nil {
		return nil, err
	}
	if diff.Replication, err = d.u16(); err != nil {
		return nil, err
	}
	if diff.Length, err = d.i64(); err != nil {
		return nil, err
	}
	if diff.Blocks, err = readBlocks(d); err != nil {
		return nil, err
	}
	flags, err := d.u8()
	if err != nil {
		return nil, err
	}
	if flags&flagUnderConstruction != 0 {
		diff.UC = true
		if diff.Client, err = d.str(); err != nil {
			return nil, err
		}
	}
	return diff, nil
}

func readIDList(d *decoder) ([]namespace.NodeID, error) {
	count, err := d.u32()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	ids := make([]namespace.NodeID, count)
	for i := range ids {
		v, err := d.u64()
		if err != nil {
			return nil, err
		}
		ids[i] = namespace.NodeID(v)
	}
	return ids, nil
}
