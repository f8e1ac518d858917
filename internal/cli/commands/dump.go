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
	"os"

	"github.com/spf13/cobra"

	"snapns/internal/namespace"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [other-dump-file]",
	Short: "Render the namespace deterministically",
	Long: `Prints the deterministic rendering of the latest checkpoint: the live
tree plus every snapshot's reconstructed view. With a file argument, the
rendering is instead compared against the dump stored in that file and
the first difference is reported.

Examples:
  snapns dump
  snapns dump /tmp/before.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	return withNamespace(cmd.Context(), false, func(ns *namespace.Namespace) error {
		out := ns.Dump()
		if len(args) == 0 {
			fmt.Print(out)
			return nil
		}
		other, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if diff := namespace.Compare(out, string(other)); diff != nil {
			return fmt.Errorf("dumps differ at %s", diff)
		}
		fmt.Println("Dumps are identical")
		return nil
	})
}
