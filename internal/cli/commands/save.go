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
	"fmt"

	"github.com/spf13/cobra"

	"snapns/internal/fstore"
	"snapns/internal/namespace"
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save a new checkpoint",
	Long: `Loads the latest checkpoint and saves it again under the next
transaction id. Useful for rolling the image format forward or proving a
round trip.

Examples:
  snapns save`,
	Args: cobra.NoArgs,
	RunE: runSave,
}

func init() {
	rootCmd.AddCommand(saveCmd)
}

func runSave(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := fstore.Open(ctx, settings.StoreDir)
	if err != nil {
		return err
	}
	defer store.Close()

	ns := namespace.New(store.Config())
	if err := store.Restore(ctx, ns); err != nil {
		return err
	}
	m, err := store.Save(ctx, ns, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Saved checkpoint %d (%d bytes, %d nodes)\n", m.TxID, m.Bytes, m.NodeCount)
	return nil
}
