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

package commands

import (
	"context"

	"snapns/internal/fstore"
	"snapns/internal/namespace"
)

// withNamespace opens the storage directory, restores the latest checkpoint
// into a fresh namespace and runs fn. When mutate is set and fn succeeds, a
// new checkpoint is saved before the store is closed.
func withNamespace(ctx context.Context, mutate bool, fn func(ns *namespace.Namespace) error) error {
	store, err := fstore.Open(ctx, settings.StoreDir)
	if err != nil {
		return err
	}
	defer store.Close()

	ns := namespace.New(store.Config())
	if err := store.Restore(ctx, ns); err != nil {
		return err
	}
	if err := fn(ns); err != nil {
		return err
	}
	if mutate {
		if _, err := store.Save(ctx, ns, nil); err != nil {
			return err
		}
	}
	return nil
}
