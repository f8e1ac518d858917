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

	"snapns/internal/namespace"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage directory snapshots",
}

var snapshotAllowCmd = &cobra.Command{
	Use:   "allow <path>",
	Short: "Mark a directory snapshottable",
	Long: `Marks a directory as snapshottable. Snapshottable directories must not
nest: no ancestor or descendant may already be snapshottable.

Examples:
  snapns snapshot allow /data`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshotAllow,
}

var snapshotDisallowCmd = &cobra.Command{
	Use:   "disallow <path>",
	Short: "Clear a directory's snapshottable flag",
	Long: `Clears the snapshottable flag. Fails while the directory still owns
snapshots.

Examples:
  snapns snapshot disallow /data`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshotDisallow,
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <path> <name>",
	Short: "Create a named snapshot",
	Long: `Creates a named, immutable snapshot of a snapshottable directory.
Creation is O(1): no tree state is copied until later mutations.

Examples:
  snapns snapshot create /data s0`,
	Args: cobra.ExactArgs(2),
	RunE: runSnapshotCreate,
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <path> <name>",
	Short: "Delete a snapshot",
	Long: `Deletes a named snapshot, merging its change records into the prior
snapshot and reclaiming state only it preserved.

Examples:
  snapns snapshot delete /data s0`,
	Args: cobra.ExactArgs(2),
	RunE: runSnapshotDelete,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list <path>",
	Short: "List a directory's snapshots",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotList,
}

func init() {
	snapshotCmd.AddCommand(snapshotAllowCmd)
	snapshotCmd.AddCommand(snapshotDisallowCmd)
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshotAllow(cmd *cobra.Command, args []string) error {
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		return ns.AllowSnapshots(args[0])
	})
}

func runSnapshotDisallow(cmd *cobra.Command, args []string) error {
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		return ns.DisallowSnapshots(args[0])
	})
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		return ns.CreateSnapshot(args[0], args[1])
	})
}

func runSnapshotDelete(cmd *cobra.Command, args []string) error {
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		return ns.DeleteSnapshot(args[0], args[1])
	})
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	return withNamespace(cmd.Context(), false, func(ns *namespace.Namespace) error {
		snaps, err := ns.ListSnapshots(args[0])
		if err != nil {
			return err
		}
		for _, s := range snaps {
			fmt.Printf("%s seq=%d\n", s.Name, s.Seq)
		}
		return nil
	})
}
