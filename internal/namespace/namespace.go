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
	"sync"

	log "github.com/sirupsen/logrus"

	"snapns/internal/common"
)

// Namespace is the concurrency-safe handle over a Tree. Mutations take the
// write lock for their critical section; reads and full-traversal saves
// take the read lock, so a save never observes a half-applied mutation.
// Replace swaps in a freshly built tree under the write lock, so readers
// see either the old complete tree or the new one, never a mix.
type Namespace struct {
	mu     sync.RWMutex
	tree   *Tree
	txid   uint64
	leases *LeaseTable
}

// New creates a namespace around a freshly formatted tree.
func New(cfg Config) *Namespace {
	return &Namespace{tree: NewTree(cfg), leases: NewLeaseTable()}
}

// View runs fn under the read lock. fn must not mutate the tree.
func (ns *Namespace) View(fn func(t *Tree) error) error {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return fn(ns.tree)
}

// Update runs fn under the write lock.
func (ns *Namespace) Update(fn func(t *Tree) error) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return fn(ns.tree)
}

// Replace atomically swaps in a new tree and transaction id. The previous
// tree stays authoritative until this returns. The lease table is rebuilt
// from the new tree's under-construction files.
func (ns *Namespace) Replace(t *Tree, txid uint64) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.tree = t
	ns.txid = txid
	ns.leases = NewLeaseTable()
	for _, of := range t.OpenFiles() {
		ns.leases.Grant(of.Path, of.Client)
	}
	log.WithFields(log.Fields{"txid": txid, "nodes": t.NodeCount()}).Info("namespace replaced")
}

// TxID returns the transaction id of the last applied or loaded state.
func (ns *Namespace) TxID() uint64 {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.txid
}

// SetTxID records the transaction id after a successful save.
func (ns *Namespace) SetTxID(txid uint64) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.txid = txid
}

// Dump renders the namespace under the read lock.
func (ns *Namespace) Dump() string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.tree.Dump()
}

func (ns *Namespace) resolveParent(t *Tree, path string) (*Node, string, error) {
	name := common.BaseName(path)
	if name == "" {
		return nil, "", common.ErrInvalidPath
	}
	parent, err := t.ResolveDir(common.ParentPath(path))
	if err != nil {
		return nil, "", err
	}
	return parent, name, nil
}

// Mkdir creates a single directory; the parent must exist.
func (ns *Namespace) Mkdir(path string) error {
	return ns.Update(func(t *Tree) error {
		parent, name, err := ns.resolveParent(t, path)
		if err != nil {
			return err
		}
		_, err = t.CreateDirectory(parent, name, t.cfg.DefaultOwner, t.cfg.DefaultGroup, 0755)
		return err
	})
}

// MkdirAll creates path and any missing parents.
func (ns *Namespace) MkdirAll(path string) error {
	return ns.Update(func(t *Tree) error {
		_, err := t.MkdirAll(path)
		return err
	})
}

// Create opens a new file for writing by client. Missing parent
// directories are created.
func (ns *Namespace) Create(path, client string, repl uint16) error {
	return ns.Update(func(t *Tree) error {
		name := common.BaseName(path)
		if name == "" {
			return common.ErrInvalidPath
		}
		parent, err := t.MkdirAll(common.ParentPath(path))
		if err != nil {
			return err
		}
		if _, err := t.CreateFile(parent, name, t.cfg.DefaultOwner, t.cfg.DefaultGroup, 0644, repl, client); err != nil {
			return err
		}
		ns.leases.Grant(path, client)
		return nil
	})
}

// Append reopens an existing file for writing by client.
func (ns *Namespace) Append(path, client string) error {
	return ns.Update(func(t *Tree) error {
		n, err := t.Resolve(path)
		if err != nil {
			return err
		}
		if err := t.Append(n, client); err != nil {
			return err
		}
		ns.leases.Grant(path, client)
		return nil
	})
}

// Write accepts size bytes into the open file at path. The bytes stay
// pending until Sync.
func (ns *Namespace) Write(path string, size int64) error {
	return ns.Update(func(t *Tree) error {
		n, err := t.Resolve(path)
		if err != nil {
			return err
		}
		return t.WritePending(n, size)
	})
}

// Sync durably finalizes the open file's pending bytes.
func (ns *Namespace) Sync(path string) error {
	return ns.Update(func(t *Tree) error {
		n, err := t.Resolve(path)
		if err != nil {
			return err
		}
		return t.Sync(n)
	})
}

// Close finalizes pending bytes and releases the file's lease.
func (ns *Namespace) Close(path string) error {
	return ns.Update(func(t *Tree) error {
		n, err := t.Resolve(path)
		if err != nil {
			return err
		}
		if err := t.CloseFile(n); err != nil {
			return err
		}
		ns.leases.Release(path)
		return nil
	})
}

// Delete removes the file or directory at path.
func (ns *Namespace) Delete(path string) error {
	return ns.Update(func(t *Tree) error {
		parent, name, err := ns.resolveParent(t, path)
		if err != nil {
			return err
		}
		if _, err := t.Delete(parent, name); err != nil {
			return err
		}
		ns.leases.Release(path)
		return nil
	})
}

// Rename changes the last path component; the node stays in its directory.
func (ns *Namespace) Rename(path, newName string) error {
	return ns.Update(func(t *Tree) error {
		parent, name, err := ns.resolveParent(t, path)
		if err != nil {
			return err
		}
		return t.Rename(parent, name, newName)
	})
}

// SetAttr updates the selected attributes of the node at path.
func (ns *Namespace) SetAttr(path string, u AttrUpdate) error {
	return ns.Update(func(t *Tree) error {
		n, err := t.Resolve(path)
		if err != nil {
			return err
		}
		t.SetAttr(n, u)
		return nil
	})
}

// SetReplication changes the replication factor of the file at path.
func (ns *Namespace) SetReplication(path string, repl uint16) error {
	return ns.Update(func(t *Tree) error {
		n, err := t.Resolve(path)
		if err != nil {
			return err
		}
		return t.SetReplication(n, repl)
	})
}

// AllowSnapshots marks the directory at path snapshottable.
func (ns *Namespace) AllowSnapshots(path string) error {
	return ns.Update(func(t *Tree) error {
		dir, err := t.ResolveDir(path)
		if err != nil {
			return err
		}
		return t.AllowSnapshots(dir)
	})
}

// DisallowSnapshots clears the snapshottable flag at path.
func (ns *Namespace) DisallowSnapshots(path string) error {
	return ns.Update(func(t *Tree) error {
		dir, err := t.ResolveDir(path)
		if err != nil {
			return err
		}
		return t.DisallowSnapshots(dir)
	})
}

// CreateSnapshot records a named snapshot of the directory at path.
func (ns *Namespace) CreateSnapshot(path, name string) error {
	return ns.Update(func(t *Tree) error {
		dir, err := t.ResolveDir(path)
		if err != nil {
			return err
		}
		_, err = t.CreateSnapshot(dir, name)
		return err
	})
}

// DeleteSnapshot removes a named snapshot of the directory at path.
func (ns *Namespace) DeleteSnapshot(path, name string) error {
	return ns.Update(func(t *Tree) error {
		dir, err := t.ResolveDir(path)
		if err != nil {
			return err
		}
		return t.DeleteSnapshot(dir, name)
	})
}

// ListSnapshots returns the snapshots of the directory at path, oldest
// first.
func (ns *Namespace) ListSnapshots(path string) ([]Snapshot, error) {
	var out []Snapshot
	err := ns.View(func(t *Tree) error {
		dir, err := t.ResolveDir(path)
		if err != nil {
			return err
		}
		out, err = t.Snapshots(dir)
		return err
	})
	return out, err
}

// Leases returns the lease table for inspection.
func (ns *Namespace) Leases() *LeaseTable { return ns.leases }
