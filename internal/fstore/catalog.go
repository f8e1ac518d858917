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

package fstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"snapns/internal/util"
)

const SchemaVersion = "1"

// DefaultBusyTimeout in milliseconds.
const DefaultBusyTimeout = 30000

const catalogSchema = `
-- Schema version tracking
CREATE TABLE schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- One row per saved image
CREATE TABLE checkpoints (
    txid INTEGER PRIMARY KEY,
    file_name TEXT NOT NULL,
    bytes INTEGER NOT NULL,
    node_count INTEGER NOT NULL,
    saved_at INTEGER NOT NULL
);

-- Namespace-level settings recorded at format time
CREATE TABLE config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const initCatalog = `
INSERT INTO schema_info (key, value) VALUES ('type', 'catalog');
INSERT INTO schema_info (key, value) VALUES ('version', ?);
`

// Catalog is the SQLite-backed checkpoint index of a storage directory. It
// records which image files exist, at which transaction id, and the
// namespace settings fixed at format time. The images themselves are plain
// files next to it.
type Catalog struct {
	path string
	db   *sql.DB
	bun  *bun.DB
}

// CreateCatalog creates a new catalog database. Fails if the file exists.
func CreateCatalog(path string) (*Catalog, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("catalog already exists: %s", path)
	}
	db, err := sql.Open("libsql", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}
	if err := execStatements(db, catalogSchema); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create catalog schema: %w", err)
	}
	if err := execStatements(db, initCatalog, SchemaVersion); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	return &Catalog{path: path, db: db, bun: bun.NewDB(db, sqlitedialect.New())}, nil
}

// OpenCatalog opens an existing catalog database.
func OpenCatalog(path string) (*Catalog, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("catalog not found: %s", path)
	}
	db, err := sql.Open("libsql", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	c := &Catalog{path: path, db: db, bun: bun.NewDB(db, sqlitedialect.New())}

	fileType, err := c.schemaInfo(context.Background(), "type")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read catalog schema info: %w", err)
	}
	if fileType != "catalog" {
		db.Close()
		return nil, fmt.Errorf("not a checkpoint catalog (type=%s)", fileType)
	}
	return c, nil
}

// Close closes the catalog database connection.
func (c *Catalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Catalog) schemaInfo(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := c.bun.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// GetConfigValue retrieves a config value by key. Reads retry transient
// "database is locked" errors from a concurrent command's WAL checkpoint.
func (c *Catalog) GetConfigValue(ctx context.Context, key string) (string, error) {
	return util.RetryWithResult(ctx,
		func() (string, error) {
			var config ConfigModel
			err := c.bun.NewSelect().
				Model(&config).
				Where("key = ?", key).
				Scan(ctx)
			if err == sql.ErrNoRows {
				return "", nil
			}
			if err != nil {
				return "", err
			}
			return config.Value, nil
		},
		util.DatabaseRetryOptions(ctx)...)
}

// SetConfigValue sets a config value (upserts).
func (c *Catalog) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := c.bun.NewInsert().
		Model(&ConfigModel{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

// RecordCheckpoint inserts one checkpoint row. Retries transient
// "database is locked" errors from a concurrent command.
func (c *Catalog) RecordCheckpoint(ctx context.Context, m *CheckpointModel) error {
	m.SavedAt = time.Now().Unix()
	return util.Retry(ctx,
		func() error {
			_, err := c.bun.NewInsert().Model(m).Exec(ctx)
			return err
		},
		util.DatabaseRetryOptions(ctx)...)
}

// LatestCheckpoint returns the checkpoint with the highest transaction id,
// or sql.ErrNoRows when none has been saved.
func (c *Catalog) LatestCheckpoint(ctx context.Context) (*CheckpointModel, error) {
	var m CheckpointModel
	err := c.bun.NewSelect().
		Model(&m).
		Order("txid DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetCheckpoint returns the checkpoint row for txid.
func (c *Catalog) GetCheckpoint(ctx context.Context, txid uint64) (*CheckpointModel, error) {
	var m CheckpointModel
	err := c.bun.NewSelect().
		Model(&m).
		Where("txid = ?", txid).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListCheckpoints returns all checkpoints, oldest first.
func (c *Catalog) ListCheckpoints(ctx context.Context) ([]CheckpointModel, error) {
	var ms []CheckpointModel
	err := c.bun.NewSelect().
		Model(&ms).
		Order("txid ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return ms, nil
}

// DeleteCheckpoint removes the checkpoint row for txid.
func (c *Catalog) DeleteCheckpoint(ctx context.Context, txid uint64) error {
	_, err := c.bun.NewDelete().
		Model((*CheckpointModel)(nil)).
		Where("txid = ?", txid).
		Exec(ctx)
	return err
}

func buildDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=%d", path, DefaultBusyTimeout)
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements. The result rows are drained and closed.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must be
// set explicitly via SQL statements after the connection is opened.
func applyPragmas(db *sql.DB) error {
	// Busy timeout first: journal_mode=WAL needs exclusive access and
	// should wait for locks instead of failing immediately.
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", DefaultBusyTimeout)); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}
	return nil
}

// execStatements executes a SQL script one statement at a time for libsql
// compatibility, distributing args across the placeholders.
func execStatements(db *sql.DB, sqlScript string, args ...interface{}) error {
	argIdx := 0
	for _, stmt := range splitStatements(sqlScript) {
		if stmt == "" {
			continue
		}
		placeholders := strings.Count(stmt, "?")
		stmtArgs := args[argIdx : argIdx+placeholders]
		argIdx += placeholders
		if _, err := db.Exec(stmt, stmtArgs...); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits a SQL script into individual statements, dropping
// comment lines.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		statements = append(statements, s)
	}
	return statements
}
