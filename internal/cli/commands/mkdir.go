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

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>...",
	Short: "Create directories",
	Long: `Creates directories in the namespace, including missing parents, and
saves a new checkpoint.

Examples:
  snapns mkdir /data
  snapns mkdir /data/logs /data/tmp`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMkdir,
}

func init() {
	rootCmd.AddCommand(mkdirCmd)
}

func runMkdir(cmd *cobra.Command, args []string) error {
	return withNamespace(cmd.Context(), true, func(ns *namespace.Namespace) error {
		for _, path := range args {
			if err := ns.MkdirAll(path); err != nil {
				return err
			}
		}
		return nil
	})
}
