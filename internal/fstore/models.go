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
	"github.com/uptrace/bun"
)

// Bun ORM models for the checkpoint catalog tables.

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// CheckpointModel represents one saved image in the checkpoints table
type CheckpointModel struct {
	bun.BaseModel `bun:"table:checkpoints"`

	TxID      uint64 `bun:"txid,pk"`
	FileName  string `bun:"file_name,notnull"`
	Bytes     int64  `bun:"bytes,notnull"`
	NodeCount int64  `bun:"node_count,notnull"`
	SavedAt   int64  `bun:"saved_at,notnull"` // Unix timestamp
}

// ConfigModel represents the config table
type ConfigModel struct {
	bun.BaseModel `bun:"table:config"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// Config keys recorded at format time.
const (
	ConfigKeyNamespaceID = "namespace_id"
	ConfigKeyBlockSize   = "block_size"
)
