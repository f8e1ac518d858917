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

package common

import "errors"

// Namespace operation errors. These are local and recoverable: they are
// returned to the caller of the failed operation and the tree is left
// exactly as it was.
var (
	ErrNotFound             = errors.New("not found")
	ErrExists               = errors.New("already exists")
	ErrNotDir               = errors.New("not a directory")
	ErrIsDir                = errors.New("is a directory")
	ErrInvalidPath          = errors.New("invalid path")
	ErrNotSnapshottable     = errors.New("directory is not snapshottable")
	ErrNestedSnapshottable  = errors.New("nested snapshottable directories are not allowed")
	ErrSnapshotExists       = errors.New("snapshot name already exists")
	ErrSnapshotNotFound     = errors.New("snapshot not found")
	ErrHasSnapshots         = errors.New("directory has live snapshots")
	ErrFileOpen             = errors.New("file is already open for writing")
	ErrNotUnderConstruction = errors.New("file is not open for writing")
)

// Image errors. All three are fatal for the load in progress: the previous
// namespace, if any, stays authoritative.
var (
	ErrCorrupt         = errors.New("image checksum mismatch")
	ErrTruncated       = errors.New("image stream ended before all sections were read")
	ErrVersionMismatch = errors.New("unsupported image layout version")
)

// ErrCancelled is the terminal outcome of a cancelled save. It is not a
// failure: partial output has been discarded and the namespace is unchanged.
// Callers distinguish it with errors.Is.
var ErrCancelled = errors.New("save cancelled")
