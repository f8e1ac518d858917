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
	"errors"

	"github.com/spf13/cobra"

	"snapns/internal/common"
	"snapns/internal/namespace"
)

var (
	createSize   int64
	createRepl   uint16
	createClient string
	createOpen   bool

	appendSize   int64
	appendClient string
	appendOpen   bool
)

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a file",
	Long: `Creates a file with the given synced length. Missing parent directories
are created. With --open the file is left under construction, so later
appends may continue it; otherwise it is closed.

Only synced bytes are part of a checkpoint, so the size given here is the
length every later load will see.

Examples:
  snapns create /data/a --size 3072
  snapns create /data/b --size 1024 --open --client writer-1`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var appendCmd = &cobra.Command{
	Use:   "append <path>",
	Short: "Append synced bytes to a file",
	Long: `Reopens an existing file, appends the given number of bytes with a
durable sync, and closes it unless --open is set.

Examples:
  snapns append /data/a --size 512
  snapns append /data/a --size 512 --open`,
	Args: cobra.ExactArgs(1),
	RunE: runAppend,
}

func init() {
	createCmd.Flags().Int64Var(&createSize, "size", 0, "synced length in bytes")
	createCmd.Flags().Uint16Var(&createRepl, "repl", 0, "replication factor (default from settings)")
	createCmd.Flags().StringVar(&createClient, "client", "snapns-cli", "writer client name")
	createCmd.Flags().BoolVar(&createOpen, "open", false, "leave the file under construction")
	appendCmd.Flags().Int64Var(&appendSize, "size", 0, "bytes to append and sync")
	appendCmd.Flags().StringVar(&appendClient, "client", "snapns-cli", "writer client name")
	appendCmd.Flags().BoolVar(&appendOpen, "open", false, "leave the file under construction")
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(appendCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	path := args[0]
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		if err := ns.Create(path, createClient, createRepl); err != nil {
			return err
		}
		if createSize > 0 {
			if err := ns.Write(path, createSize); err != nil {
				return err
			}
			if err := ns.Sync(path); err != nil {
				return err
			}
		}
		if createOpen {
			return nil
		}
		return ns.Close(path)
	})
}

func runAppend(cmd *cobra.Command, args []string) error {
	path := args[0]
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		// A file left open by a previous command is resumed as-is.
		if err := ns.Append(path, appendClient); err != nil && !errors.Is(err, common.ErrFileOpen) {
			return err
		}
		if appendSize > 0 {
			if err := ns.Write(path, appendSize); err != nil {
				return err
			}
			if err := ns.Sync(path); err != nil {
				return err
			}
		}
		if appendOpen {
			return nil
		}
		return ns.Close(path)
	})
}
