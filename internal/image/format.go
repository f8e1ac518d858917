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

// Package image serializes a namespace tree, its snapshot registry and all
// diff chains to a checksummed byte stream and reconstructs an equivalent
// tree from one.
//
// Layout, all integers big-endian:
//
//	magic "SNIMG1\n"
//	header: version u32, txid u64, namespace uuid (16 bytes), flags u32
//	tree section: root subtree pre-order, then detached subtrees
//	registry section: snapshottable dirs with their snapshot lists
//	diff section: per-node diff chains, keyed by node id
//	trailer: xxh3-128 over the three sections
//
// The header is outside the checksum so a corrupt payload can still be
// identified by namespace and transaction id.
package image

import (
	"encoding/binary"
	"fmt"

	"snapns/internal/common"
)

var magic = []byte("SNIMG1\n")

// FormatVersion is the only image version this build reads and writes.
const FormatVersion uint32 = 1

const (
	kindTagDirectory uint8 = 1
	kindTagFile      uint8 = 2

	flagSnapshottable     uint8 = 1 << 0
	flagUnderConstruction uint8 = 1 << 1
	flagHasAttrs          uint8 = 1 << 2
)

// Header identifies an image: format version, the transaction id of the
// saved state, and the namespace id it belongs to.
type Header struct {
	Version     uint32
	TxID        uint64
	NamespaceID [16]byte
	Flags       uint32
}

// encoder writes big-endian primitives into a growing buffer.
type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)  { e.u64(uint64(v)) }

func (e *encoder) str(s string) {
	e.u16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}

// decoder reads big-endian primitives from a byte slice, failing with
// ErrTruncated on any short read.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) need(n int) ([]byte, error) {
	if d.off+n > len(d.buf) {
		return nil, fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, d.off, len(d.buf)-d.off, common.ErrTruncated)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) u8() (uint8, error) {
	b, err := d.need(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) u16() (uint16, error) {
	b, err := d.need(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.need(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.need(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *decoder) i64() (int64, error) {
	v, err := d.u64()
	return int64(v), err
}

func (d *decoder) str() (string, error) {
	n, err := d.u16()
	if err != nil {
		return "", err
	}
	b, err := d.need(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) done() bool { return d.off == len(d.buf) }
