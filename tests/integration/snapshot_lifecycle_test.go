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

package integration

import (
	"context"
	"testing"

	. "github.com/onsi/gomega"

	"snapns/internal/namespace"
)

// TestSnapshotLifecycle drives a namespace through several snapshot
// intervals of creates, attribute changes, renames and deletes, then
// checks that a checkpoint and restart reproduce the exact same dump,
// snapshots included.
func TestSnapshotLifecycle(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	c := startCluster(t)
	ns := c.Namespace()

	g.Expect(ns.MkdirAll("/d")).To(Succeed())
	g.Expect(ns.AllowSnapshots("/d")).To(Succeed())
	g.Expect(ns.CreateSnapshot("/d", "s0")).To(Succeed())

	writeFile(g, ns, "/d/sub1/a", 1500)
	writeFile(g, ns, "/d/sub1/b", 300)
	g.Expect(ns.CreateSnapshot("/d", "s1")).To(Succeed())

	writeFile(g, ns, "/d/sub2/c", 4000)
	g.Expect(ns.SetReplication("/d/sub1/a", 2)).To(Succeed())
	g.Expect(ns.Delete("/d/sub1/b")).To(Succeed())
	g.Expect(ns.CreateSnapshot("/d", "s2")).To(Succeed())

	owner := "alice"
	g.Expect(ns.SetAttr("/d/sub2", namespace.AttrUpdate{Owner: &owner})).To(Succeed())
	g.Expect(ns.Rename("/d/sub1/a", "a2")).To(Succeed())
	g.Expect(ns.Delete("/d/sub2/c")).To(Succeed())

	before := ns.Dump()

	// b is gone live but must still render in s0's successor views.
	g.Expect(before).To(ContainSubstring("snapshot /d@s1 seq=2"))
	g.Expect(before).To(ContainSubstring("./sub1/b file"))
	g.Expect(before).NotTo(ContainSubstring("/d/sub1/b file"))

	_, err := c.SaveCheckpoint(ctx, nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c.Restart(ctx, false)).To(Succeed())

	after := c.Namespace().Dump()
	g.Expect(namespace.Compare(before, after)).To(BeNil(),
		"dump before save must equal dump after restart")

	// The reloaded namespace stays fully operational.
	ns = c.Namespace()
	g.Expect(ns.DeleteSnapshot("/d", "s1")).To(Succeed())
	snaps, err := ns.ListSnapshots("/d")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(snaps).To(HaveLen(2))
	g.Expect(snaps[0].Name).To(Equal("s0"))
	g.Expect(snaps[1].Name).To(Equal("s2"))
}

// TestRestartWithFormat wipes the directory and verifies nothing survives.
func TestRestartWithFormat(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	c := startCluster(t)
	writeFile(g, c.Namespace(), "/data/f", 100)
	_, err := c.SaveCheckpoint(ctx, nil)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(c.Restart(ctx, true)).To(Succeed())
	g.Expect(c.Namespace().Dump()).NotTo(ContainSubstring("/data"))
	g.Expect(c.Namespace().TxID()).To(Equal(uint64(0)))
}
