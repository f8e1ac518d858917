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
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Initialize an empty storage directory",
	Long: `Initializes the storage directory with a fresh checkpoint catalog and an
initial image of an empty namespace. Any previous catalog and images in
the directory are removed.

Examples:
  snapns format
  snapns --store /tmp/ns format`,
	Args: cobra.NoArgs,
	RunE: runFormat,
}

func init() {
	rootCmd.AddCommand(formatCmd)
}

func runFormat(cmd *cobra.Command, args []string) error {
	store, _, err := fstore.Format(cmd.Context(), settings.StoreDir, settings.NamespaceConfig())
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Printf("Formatted storage directory %s\n", store.Dir())
	return nil
}
