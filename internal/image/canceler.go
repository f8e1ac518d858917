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

package image

import "sync/atomic"

// Canceler is the cooperative cancellation token for a save. The saver
// polls it at top-level subtree boundaries only, never mid-record, so a
// cancelled save stops promptly but always leaves the sink untouched.
type Canceler struct {
	cancelled atomic.Bool
}

// Cancel requests the save abort at its next checkpoint. Safe to call from
// any goroutine, any number of times.
func (c *Canceler) Cancel() { c.cancelled.Store(true) }

// IsCancelled reports whether Cancel has been called.
func (c *Canceler) IsCancelled() bool {
	return c != nil && c.cancelled.Load()
}
