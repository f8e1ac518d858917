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

	"github.com/puzpuzpuz/xsync/v4"

	"snapns/internal/common"
)

// Lease records one client's exclusive write grant on an open file.
type Lease struct {
	Path   string
	Client string
}

// LeaseTable tracks write leases by canonical path. Lookups are lock-free
// so lease inspection never contends with namespace mutations.
type LeaseTable struct {
	byPath *xsync.Map[string, *Lease]
}

// NewLeaseTable creates an empty lease table.
func NewLeaseTable() *LeaseTable {
	return &LeaseTable{byPath: xsync.NewMap[string, *Lease]()}
}

// leaseKey canonicalizes path to its slash-prefixed form, so "/d/f" and
// "d/f" address the same lease regardless of which form the caller used.
func leaseKey(path string) string {
	return "/" + common.NormalizePath(path)
}

// Grant records a lease for client on path, replacing any previous holder.
func (lt *LeaseTable) Grant(path, client string) {
	key := leaseKey(path)
	lt.byPath.Store(key, &Lease{Path: key, Client: client})
}

// Release drops the lease on path, if any.
func (lt *LeaseTable) Release(path string) {
	lt.byPath.Delete(leaseKey(path))
}

// Holder returns the client holding a lease on path.
func (lt *LeaseTable) Holder(path string) (string, bool) {
	l, ok := lt.byPath.Load(leaseKey(path))
	if !ok {
		return "", false
	}
	return l.Client, true
}

// All returns every outstanding lease, sorted by path.
func (lt *LeaseTable) All() []Lease {
	var out []Lease
	lt.byPath.Range(func(_ string, l *Lease) bool {
		out = append(out, *l)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
