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
	"strings"

	"github.com/spf13/cobra"

	"snapns/internal/namespace"
)

var chownCmd = &cobra.Command{
	Use:   "chown <owner>[:<group>] <path>...",
	Short: "Change owner and group",
	Long: `Changes the owner, and optionally the group, of namespace entries.
Snapshots taken before the change keep showing the old attributes.

Examples:
  snapns chown alice /data
  snapns chown alice:staff /data/a`,
	Args: cobra.MinimumNArgs(2),
	RunE: runChown,
}

var chmodCmd = &cobra.Command{
	Use:   "chmod <octal-mode> <path>...",
	Short: "Change permission bits",
	Long: `Changes the permission bits of namespace entries.

Examples:
  snapns chmod 750 /data
  snapns chmod 0644 /data/a`,
	Args: cobra.MinimumNArgs(2),
	RunE: runChmod,
}

var setrepCmd = &cobra.Command{
	Use:   "setrep <factor> <path>...",
	Short: "Change a file's replication factor",
	Long: `Changes the declared replication factor of files.

Examples:
  snapns setrep 2 /data/a`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSetrep,
}

func init() {
	rootCmd.AddCommand(chownCmd)
	rootCmd.AddCommand(chmodCmd)
	rootCmd.AddCommand(setrepCmd)
}

func runChown(cmd *cobra.Command, args []string) error {
	owner, group, _ := strings.Cut(args[0], ":")
	if owner == "" {
		return fmt.Errorf("empty owner in %q", args[0])
	}
	u := namespace.AttrUpdate{Owner: &owner}
	if group != "" {
		u.Group = &group
	}
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		for _, path := range args[1:] {
			if err := ns.SetAttr(path, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func runChmod(cmd *cobra.Command, args []string) error {
	mode, err := strconv.ParseUint(args[0], 8, 16)
	if err != nil {
		return fmt.Errorf("invalid mode %q: %w", args[0], err)
	}
	perm := uint16(mode)
	u := namespace.AttrUpdate{Perm: &perm}
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		for _, path := range args[1:] {
			if err := ns.SetAttr(path, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func runSetrep(cmd *cobra.Command, args []string) error {
	factor, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid replication factor %q: %w", args[0], err)
	}
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		for _, path := range args[1:] {
			if err := ns.SetReplication(path, uint16(factor)); err != nil {
				return err
			}
		}
		return nil
	})
}
