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

package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"snapns/internal/namespace"
)

// getConfigDir returns the config directory path.
// Uses SNAPNS_CONFIG_DIR env var if set, otherwise defaults to ~/.snapns.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("SNAPNS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".snapns")
}

// ConfigDir returns the configuration directory path.
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// DefaultStoreDir returns the default storage directory.
func DefaultStoreDir() string {
	return filepath.Join(getConfigDir(), "store")
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// Settings is the tool configuration from {config_dir}/settings.yaml.
type Settings struct {
	StoreDir    string `yaml:"store-dir"`   // default: {config_dir}/store
	Logging     string `yaml:"logging"`     // logging level: none, debug, info, trace (case insensitive)
	BlockSize   int64  `yaml:"block-size"`  // default: 64 MiB
	Replication uint16 `yaml:"replication"` // default: 3
	Owner       string `yaml:"owner"`       // default: snapns
	Group       string `yaml:"group"`       // default: supergroup
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *Settings) ApplyDefaults() {
	def := namespace.DefaultConfig()
	if s.StoreDir == "" {
		s.StoreDir = DefaultStoreDir()
	}
	if s.BlockSize == 0 {
		s.BlockSize = def.BlockSize
	}
	if s.Replication == 0 {
		s.Replication = def.DefaultReplication
	}
	if s.Owner == "" {
		s.Owner = def.DefaultOwner
	}
	if s.Group == "" {
		s.Group = def.DefaultGroup
	}
}

// LoggingEnabled returns whether logging is enabled (any level other than
// "none" or empty).
func (s *Settings) LoggingEnabled() bool {
	level := strings.ToLower(s.Logging)
	return level != "" && level != "none"
}

// LogLevel returns the normalized (lowercase) logging level.
// Returns empty string if logging is disabled.
func (s *Settings) LogLevel() string {
	return strings.ToLower(s.Logging)
}

// NamespaceConfig converts the settings into tree-level defaults.
func (s *Settings) NamespaceConfig() namespace.Config {
	return namespace.Config{
		BlockSize:          s.BlockSize,
		DefaultReplication: s.Replication,
		DefaultOwner:       s.Owner,
		DefaultGroup:       s.Group,
	}
}

// Load reads the settings file, returning defaults when it does not exist.
func Load() (*Settings, error) {
	return LoadFromPath(SettingsPath())
}

// LoadFromPath reads settings from a specific file path.
func LoadFromPath(path string) (*Settings, error) {
	var s Settings
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.ApplyDefaults()
			return &s, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	s.ApplyDefaults()
	return &s, nil
}
