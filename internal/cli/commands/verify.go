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
	"strconv"

	"github.com/spf13/cobra"

	"snapns/internal/fstore"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [txid]",
	Short: "Check a checkpoint's integrity",
	Long: `Reads a checkpoint image end to end, verifying its checksum, structure
and catalog record. Without an argument the latest checkpoint is
verified.

Examples:
  snapns verify
  snapns verify 4`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := fstore.Open(ctx, settings.StoreDir)
	if err != nil {
		return err
	}
	defer store.Close()

	var txid uint64
	if len(args) > 0 {
		txid, err = strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid transaction id %q: %w", args[0], err)
		}
	} else {
		m, err := store.Catalog().LatestCheckpoint(ctx)
		if err != nil {
			return err
		}
		txid = m.TxID
	}

	res, err := store.Verify(ctx, txid)
	if err != nil {
		return err
	}
	fmt.Printf("Checkpoint %d OK: %d nodes\n", txid, res.Tree.NodeCount())
	return nil
}
