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

// Package fstore manages a storage directory: the checkpoint catalog, the
// image files it indexes, and the inter-process lock that keeps two
// commands from formatting or saving concurrently.
package fstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"snapns/internal/common"
	"snapns/internal/image"
	"snapns/internal/namespace"
	"snapns/internal/util"
)

const (
	catalogFileName = "catalog.db"
	lockFileName    = "in_use.lock"
)

func imageFileName(txid uint64) string {
	return fmt.Sprintf("fsimage_%016d.img", txid)
}

func tmpImageFileName(txid uint64) string {
	return fmt.Sprintf("fsimage_%016d.tmp", txid)
}

// Store is an open storage directory. Image files go through the billy
// filesystem abstraction; the catalog and the directory lock need real OS
// paths.
type Store struct {
	dir     string
	fs      billy.Filesystem
	lock    *flock.Flock
	catalog *Catalog
	cfg     namespace.Config
}

// Format initializes dir as a fresh storage directory: any previous
// catalog and images are removed, a new catalog is created with the
// namespace settings, and an initial checkpoint of the empty namespace is
// saved at transaction id 0. Returns the open store and the new namespace.
func Format(ctx context.Context, dir string, cfg namespace.Config) (*Store, *namespace.Namespace, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	lock, err := acquireLock(ctx, dir)
	if err != nil {
		return nil, nil, err
	}

	fs := osfs.New(dir)
	if err := removePrevious(fs); err != nil {
		lock.Unlock()
		return nil, nil, err
	}
	catalog, err := CreateCatalog(filepath.Join(dir, catalogFileName))
	if err != nil {
		lock.Unlock()
		return nil, nil, err
	}

	s := &Store{dir: dir, fs: fs, lock: lock, catalog: catalog, cfg: cfg}
	ns := namespace.New(cfg)

	var nsid uuid.UUID
	_ = ns.View(func(t *namespace.Tree) error {
		nsid = t.NamespaceID
		return nil
	})
	if err := catalog.SetConfigValue(ctx, ConfigKeyNamespaceID, nsid.String()); err != nil {
		s.Close()
		return nil, nil, err
	}
	if err := catalog.SetConfigValue(ctx, ConfigKeyBlockSize, strconv.FormatInt(cfg.BlockSize, 10)); err != nil {
		s.Close()
		return nil, nil, err
	}

	if _, err := s.saveAt(ctx, ns, 0, nil); err != nil {
		s.Close()
		return nil, nil, err
	}
	log.WithFields(log.Fields{"dir": dir, "namespace": nsid}).Info("storage directory formatted")
	return s, ns, nil
}

// Open opens an existing storage directory.
func Open(ctx context.Context, dir string) (*Store, error) {
	lock, err := acquireLock(ctx, dir)
	if err != nil {
		return nil, err
	}
	catalog, err := OpenCatalog(filepath.Join(dir, catalogFileName))
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	cfg := namespace.DefaultConfig()
	if v, err := catalog.GetConfigValue(ctx, ConfigKeyBlockSize); err == nil && v != "" {
		if size, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			cfg.BlockSize = size
		}
	}
	return &Store{dir: dir, fs: osfs.New(dir), lock: lock, catalog: catalog, cfg: cfg}, nil
}

// Close releases the directory lock and the catalog.
func (s *Store) Close() error {
	var errs []error
	if s.catalog != nil {
		errs = append(errs, s.catalog.Close())
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
	}
	return errors.Join(errs...)
}

// Dir returns the storage directory path.
func (s *Store) Dir() string { return s.dir }

// Catalog returns the checkpoint catalog.
func (s *Store) Catalog() *Catalog { return s.catalog }

// Config returns the namespace settings recorded at format time.
func (s *Store) Config() namespace.Config { return s.cfg }

// Save writes a new checkpoint of ns at the next transaction id. The image
// is staged under a temporary name and renamed into place only after it is
// complete, so a crashed or cancelled save never leaves a file a loader
// could mistake for a full image.
func (s *Store) Save(ctx context.Context, ns *namespace.Namespace, c *image.Canceler) (*CheckpointModel, error) {
	return s.saveAt(ctx, ns, ns.TxID()+1, c)
}

func (s *Store) saveAt(ctx context.Context, ns *namespace.Namespace, txid uint64, c *image.Canceler) (*CheckpointModel, error) {
	tmpName := tmpImageFileName(txid)
	finalName := imageFileName(txid)

	f, err := s.fs.Create(tmpName)
	if err != nil {
		return nil, fmt.Errorf("failed to create image file: %w", err)
	}

	var written int64
	var nodeCount int
	saver := &image.Saver{TxID: txid}
	err = ns.View(func(t *namespace.Tree) error {
		nodeCount = t.NodeCount()
		var serr error
		written, serr = saver.Save(f, t, c)
		return serr
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fs.Remove(tmpName)
		if errors.Is(err, common.ErrCancelled) {
			log.WithField("txid", txid).Info("image save cancelled")
			return nil, common.ErrCancelled
		}
		return nil, err
	}

	if err := s.fs.Rename(tmpName, finalName); err != nil {
		s.fs.Remove(tmpName)
		return nil, fmt.Errorf("failed to finalize image file: %w", err)
	}

	m := &CheckpointModel{
		TxID:      txid,
		FileName:  finalName,
		Bytes:     written,
		NodeCount: int64(nodeCount),
	}
	if err := s.catalog.RecordCheckpoint(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to record checkpoint: %w", err)
	}
	ns.SetTxID(txid)
	return m, nil
}

// LoadCheckpoint reads and reconstructs the image saved at txid.
func (s *Store) LoadCheckpoint(ctx context.Context, txid uint64) (*image.Result, error) {
	m, err := s.catalog.GetCheckpoint(ctx, txid)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("checkpoint %d: %w", txid, common.ErrNotFound)
		}
		return nil, err
	}
	return s.loadFile(m)
}

// LoadLatest reads and reconstructs the newest checkpoint.
func (s *Store) LoadLatest(ctx context.Context) (*image.Result, error) {
	m, err := s.catalog.LatestCheckpoint(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage directory has no checkpoint: %w", common.ErrNotFound)
		}
		return nil, err
	}
	return s.loadFile(m)
}

// Restore loads the newest checkpoint into ns, replacing its tree
// wholesale. On any load error ns is left untouched.
func (s *Store) Restore(ctx context.Context, ns *namespace.Namespace) error {
	res, err := s.LoadLatest(ctx)
	if err != nil {
		return err
	}
	ns.Replace(res.Tree, res.Header.TxID)
	return nil
}

// Verify loads the checkpoint at txid, checking its checksum and its size
// against the catalog record. Returns the reconstructed result on success.
func (s *Store) Verify(ctx context.Context, txid uint64) (*image.Result, error) {
	m, err := s.catalog.GetCheckpoint(ctx, txid)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("checkpoint %d: %w", txid, common.ErrNotFound)
		}
		return nil, err
	}
	fi, err := s.fs.Stat(m.FileName)
	if err != nil {
		return nil, fmt.Errorf("image file %s missing: %w", m.FileName, err)
	}
	if fi.Size() != m.Bytes {
		return nil, fmt.Errorf("image file %s is %d bytes, catalog records %d: %w",
			m.FileName, fi.Size(), m.Bytes, common.ErrCorrupt)
	}
	return s.loadFile(m)
}

func (s *Store) loadFile(m *CheckpointModel) (*image.Result, error) {
	f, err := s.fs.Open(m.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file %s: %w", m.FileName, err)
	}
	defer f.Close()
	loader := &image.Loader{Cfg: s.cfg}
	return loader.Load(f)
}

func acquireLock(ctx context.Context, dir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dir, lockFileName))
	err := util.Retry(ctx, func() error {
		locked, lerr := lock.TryLock()
		if lerr != nil {
			return lerr
		}
		if !locked {
			return fmt.Errorf("storage directory %s is in use", dir)
		}
		return nil
	}, util.LockRetryOptions(ctx)...)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// removePrevious clears a directory of any earlier catalog and image files
// before a format.
func removePrevious(fs billy.Filesystem) error {
	entries, err := fs.ReadDir(".")
	if err != nil {
		return nil
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case name == catalogFileName,
			strings.HasPrefix(name, "catalog.db"),
			strings.HasPrefix(name, "fsimage_"):
			if err := fs.Remove(name); err != nil {
				return fmt.Errorf("failed to remove %s: %w", name, err)
			}
		}
	}
	return nil
}
