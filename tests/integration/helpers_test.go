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
	"strings"
	"testing"

	. "github.com/onsi/gomega"

	"snapns/internal/harness"
	"snapns/internal/namespace"
)

func startCluster(t *testing.T) *harness.Cluster {
	t.Helper()
	g := NewWithT(t)
	cfg := namespace.DefaultConfig()
	cfg.BlockSize = 1024
	c, err := harness.Start(context.Background(), t.TempDir(), cfg)
	g.Expect(err).NotTo(HaveOccurred())
	t.Cleanup(func() { c.Shutdown() })
	return c
}

// sectionOf returns the dump lines belonging to one snapshot header.
func sectionOf(g *WithT, dump, header string) string {
	_, rest, found := strings.Cut(dump, header+"\n")
	g.Expect(found).To(BeTrue(), "dump has no section %q", header)
	if i := strings.Index(rest, "snapshot "); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// writeFile creates path with size synced bytes and closes it.
func writeFile(g *WithT, ns *namespace.Namespace, path string, size int64) {
	g.Expect(ns.Create(path, "client-1", 0)).To(Succeed())
	g.Expect(ns.Write(path, size)).To(Succeed())
	g.Expect(ns.Sync(path)).To(Succeed())
	g.Expect(ns.Close(path)).To(Succeed())
}
