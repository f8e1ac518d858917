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

// Package harness gives tests a single-process stand-in for a running
// deployment: a storage directory plus a live namespace handle that can be
// checkpointed, shut down and restarted.
package harness

import (
	"context"

	"snapns/internal/fstore"
	"snapns/internal/image"
	"snapns/internal/namespace"
)

// Cluster is one started instance.
type Cluster struct {
	dir   string
	cfg   namespace.Config
	store *fstore.Store
	ns    *namespace.Namespace
}

// Start formats dir and boots a cluster over the fresh namespace.
func Start(ctx context.Context, dir string, cfg namespace.Config) (*Cluster, error) {
	store, ns, err := fstore.Format(ctx, dir, cfg)
	if err != nil {
		return nil, err
	}
	return &Cluster{dir: dir, cfg: cfg, store: store, ns: ns}, nil
}

// Namespace returns the live namespace handle.
func (c *Cluster) Namespace() *namespace.Namespace { return c.ns }

// Store returns the open storage directory.
func (c *Cluster) Store() *fstore.Store { return c.store }

// SaveCheckpoint writes the current namespace as a new checkpoint.
func (c *Cluster) SaveCheckpoint(ctx context.Context, canceler *image.Canceler) (*fstore.CheckpointModel, error) {
	return c.store.Save(ctx, c.ns, canceler)
}

// Restart simulates a process restart: the store is closed and reopened,
// and the namespace is rebuilt from disk. With format set the storage
// directory is wiped first and an empty namespace comes up; otherwise the
// latest checkpoint is loaded.
func (c *Cluster) Restart(ctx context.Context, format bool) error {
	if err := c.store.Close(); err != nil {
		return err
	}
	if format {
		store, ns, err := fstore.Format(ctx, c.dir, c.cfg)
		if err != nil {
			return err
		}
		c.store, c.ns = store, ns
		return nil
	}
	store, err := fstore.Open(ctx, c.dir)
	if err != nil {
		return err
	}
	ns := namespace.New(store.Config())
	if err := store.Restore(ctx, ns); err != nil {
		store.Close()
		return err
	}
	c.store, c.ns = store, ns
	return nil
}

// Shutdown releases the storage directory.
func (c *Cluster) Shutdown() error {
	return c.store.Close()
}
