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
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"snapns/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

var (
	flagStoreDir string
	flagLogging  string

	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "snapns",
	Short: "Snapshot-capable namespace image tool",
	Long: `Manages a hierarchical namespace with named snapshots, persisted as
checksummed image files in a storage directory. Each command loads the
latest checkpoint, applies its operation, and saves a new checkpoint.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if err := config.EnsureConfigDir(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		var err error
		settings, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		if flagStoreDir != "" {
			settings.StoreDir = flagStoreDir
		}
		if flagLogging != "" {
			settings.Logging = flagLogging
		}
		setupLogging(settings)
		return nil
	},
}

func setupLogging(s *config.Settings) {
	if !s.LoggingEnabled() {
		logrus.SetOutput(io.Discard)
		return
	}
	switch s.LogLevel() {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("snapns version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&flagStoreDir, "store", "", "storage directory (default from settings)")
	rootCmd.PersistentFlags().StringVar(&flagLogging, "logging", "", "logging level: none, warn, info, debug, trace")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
