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
	"time"

	"github.com/spf13/cobra"

	"snapns/internal/fstore"
	"snapns/internal/namespace"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show storage directory information",
	Long: `Shows the namespace identity and the checkpoints recorded in the storage
directory's catalog.

Examples:
  snapns info
  snapns --store /tmp/ns info`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := fstore.Open(ctx, settings.StoreDir)
	if err != nil {
		return err
	}
	defer store.Close()

	nsid, err := store.Catalog().GetConfigValue(ctx, fstore.ConfigKeyNamespaceID)
	if err != nil {
		return err
	}
	fmt.Printf("Storage directory: %s\n", store.Dir())
	fmt.Printf("Namespace:         %s\n", nsid)
	fmt.Printf("Block size:        %d\n", store.Config().BlockSize)

	checkpoints, err := store.Catalog().ListCheckpoints(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Checkpoints:       %d\n", len(checkpoints))
	for _, m := range checkpoints {
		fmt.Printf("  txid=%d file=%s bytes=%d nodes=%d saved=%s\n",
			m.TxID, m.FileName, m.Bytes, m.NodeCount,
			time.Unix(m.SavedAt, 0).Format(time.RFC3339))
	}

	ns := namespace.New(store.Config())
	if err := store.Restore(ctx, ns); err != nil {
		return err
	}
	leases := ns.Leases().All()
	fmt.Printf("Open files:        %d\n", len(leases))
	for _, l := range leases {
		fmt.Printf("  %s client=%s\n", l.Path, l.Client)
	}
	return nil
}
