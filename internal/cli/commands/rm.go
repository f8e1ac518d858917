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
	"github.com/spf13/cobra"

	"snapns/internal/namespace"
)

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Remove files or directories",
	Long: `Removes namespace entries. Subtrees referenced by a snapshot stay
renderable in that snapshot's view; a directory that still owns snapshots
cannot be removed.

Examples:
  snapns rm /data/a
  snapns rm /data/tmp /data/logs`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRm,
}

var renameCmd = &cobra.Command{
	Use:   "rename <path> <new-name>",
	Short: "Rename an entry within its directory",
	Long: `Changes the last path component of an entry. The entry keeps its
directory; snapshots taken before the rename keep showing the old name.

Examples:
  snapns rename /data/a a-old`,
	Args: cobra.ExactArgs(2),
	RunE: runRename,
}

func init() {
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(renameCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		for _, path := range args {
			if err := ns.Delete(path); err != nil {
				return err
			}
		}
		return nil
	})
}

func runRename(cmd *cobra.Command, args []string) error {
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		return ns.Rename(args[0], args[1])
	})
}
