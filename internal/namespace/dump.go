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
	"strings"
)

// Dump renders the namespace as a deterministic textual sequence: the live
// tree first, then every snapshot's reconstructed view, snapshottable
// directories ordered by path and snapshots oldest to newest. The rendering
// carries no node or block identifiers, so two structurally equal trees
// produce identical output regardless of object identity or mutation
// history. This is the round-trip oracle: dump-before-save must equal
// dump-after-reload.
func (t *Tree) Dump() string {
	var b strings.Builder
	b.WriteString("live\n")
	t.renderSubtree(&b, t.Root(), "/", 0)

	type section struct {
		path string
		dir  *Node
	}
	sections := make([]section, 0, len(t.registry.roots))
	for id := range t.registry.roots {
		dir := t.nodes[id]
		sections = append(sections, section{path: t.Path(dir), dir: dir})
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].path < sections[j].path })

	for _, s := range sections {
		for _, snap := range t.registry.snapshots(s.dir.ID) {
			fmt.Fprintf(&b, "snapshot %s@%s seq=%d\n", s.path, snap.Name, snap.Seq)
			t.renderSubtree(&b, s.dir, ".", snap.Seq)
		}
	}
	return b.String()
}

// renderSubtree writes one line per node in pre-order, children sorted by
// name. seq 0 renders live state; otherwise the view as of that snapshot.
func (t *Tree) renderSubtree(b *strings.Builder, n *Node, path string, seq uint64) {
	if n.IsFile() {
		fd := fileStateAt(n, seq)
		fmt.Fprintf(b, "%s file %s repl=%d len=%d blocks=[%s]",
			path, formatAttrs(fd.Attrs), fd.Replication, fileLength(fd.Blocks), formatBlocks(fd.Blocks))
		if fd.UC {
			fmt.Fprintf(b, " open(%s)", fd.Client)
		}
		b.WriteByte('\n')
		return
	}

	attrs := attrsAt(n, seq)
	fmt.Fprintf(b, "%s dir %s", path, formatAttrs(attrs))
	if seq == 0 && n.Dir.Snapshottable {
		b.WriteString(" snapshottable")
	}
	b.WriteByte('\n')

	children := t.childrenAt(n, seq)
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := t.nodes[children[name]]
		childPath := path + "/" + name
		if path == "/" {
			childPath = "/" + name
		}
		// The path carries the name the snapshot knew the child by, which
		// may differ from its live name after a rename.
		t.renderSubtree(b, child, childPath, seq)
	}
}

func formatAttrs(a Attributes) string {
	return fmt.Sprintf("perm=%04o owner=%s group=%s mtime=%d", a.Perm, a.Owner, a.Group, a.MTime)
}

func formatBlocks(blocks []Block) string {
	parts := make([]string, len(blocks))
	for i, blk := range blocks {
		parts[i] = fmt.Sprintf("%d", blk.Length)
	}
	return strings.Join(parts, " ")
}

func fileLength(blocks []Block) int64 {
	var total int64
	for _, b := range blocks {
		total += b.Length
	}
	return total
}

// Difference locates the first line where two dumps diverge.
type Difference struct {
	Line int
	A    string
	B    string
}

func (d *Difference) String() string {
	return fmt.Sprintf("line %d: %q != %q", d.Line, d.A, d.B)
}

// Compare checks two dumps for exact equality, returning nil when equal or
// the first differing line otherwise.
func Compare(a, b string) *Difference {
	la := strings.Split(a, "\n")
	lb := strings.Split(b, "\n")
	for i := 0; i < len(la) || i < len(lb); i++ {
		var va, vb string
		if i < len(la) {
			va = la[i]
		}
		if i < len(lb) {
			vb = lb[i]
		}
		if va != vb {
			return &Difference{Line: i + 1, A: va, B: vb}
		}
	}
	return nil
}
