// Copyright 2025 Arion Yau
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

package broker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"disgb/internal/distribution"
	"disgb/internal/logger"
)

// Config represents the broker configuration file
type Config struct {
	Broker        BrokerConfig        `yaml:"broker"`
	Communicators int                 `yaml:"communicators"`
	Listener      ListenerConfig      `yaml:"listener"`
	Distribution  distribution.Config `yaml:"distribution"`
	Admin         AdminConfig         `yaml:"admin"`
	AreaCacheSize int                 `yaml:"area_cache_size"`
	Logging       logger.Config       `yaml:"logging"`
}

// BrokerConfig contains the broker identity and its area table
type BrokerConfig struct {
	ID        string `yaml:"id"`
	AreasFile string `yaml:"areas_file"` // relative paths are resolved against the config file
}

// ListenerConfig contains the peer listener settings
type ListenerConfig struct {
	Bind string `yaml:"bind"` // defaults to tcp://*:<own port>
}

// AdminConfig contains the admin API settings. An empty address disables the API.
type AdminConfig struct {
	Address     string        `yaml:"address"`
	TokenSecret string        `yaml:"token_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// LoadConfig loads configuration from a YAML file. Omitted settings keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Broker.ID == "" {
		return fmt.Errorf("broker.id is required")
	}
	if c.Broker.AreasFile == "" {
		return fmt.Errorf("broker.areas_file is required")
	}
	if c.Communicators < 1 {
		return fmt.Errorf("communicators must be at least 1")
	}
	if c.Listener.Bind != "" && !strings.HasPrefix(c.Listener.Bind, "tcp://") {
		return fmt.Errorf("listener.bind must be a tcp:// endpoint")
	}
	if err := c.Distribution.Validate(); err != nil {
		return fmt.Errorf("distribution: %w", err)
	}
	if c.Admin.TokenSecret != "" && c.Admin.TokenExpiry <= 0 {
		return fmt.Errorf("admin.token_expiry must be positive when a token secret is set")
	}
	if c.AreaCacheSize < 0 {
		return fmt.Errorf("area_cache_size must not be negative")
	}
	switch c.Logging.Format {
	case "", logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("logging.format must be %s or %s", logger.FormatConsole, logger.FormatJSON)
	}
	return nil
}

// ResolveAreasFile returns the areas file path, relative paths taken from the directory of
// configPath
func (c *Config) ResolveAreasFile(configPath string) string {
	if filepath.IsAbs(c.Broker.AreasFile) || configPath == "" {
		return c.Broker.AreasFile
	}
	return filepath.Join(filepath.Dir(configPath), c.Broker.AreasFile)
}

// Save saves the configuration to a YAML file
func (c *Config) Save(path string) error {
	return SaveConfig(c, path)
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func defaults() *Config {
	return &Config{
		Communicators: 2,
		Distribution:  distribution.DefaultConfig(),
		Admin: AdminConfig{
			TokenExpiry: 24 * time.Hour,
		},
		AreaCacheSize: 1024,
		Logging: logger.Config{
			Level:  logger.LOG_INFO,
			Format: logger.FormatConsole,
		},
	}
}

// NewDefaultConfig creates a configuration template with a fresh broker id
func NewDefaultConfig() *Config {
	config := defaults()
	config.Broker = BrokerConfig{
		ID:        "broker-" + uuid.New().String()[:8],
		AreasFile: "areas.json",
	}
	config.Admin.Address = "127.0.0.1:8081"
	return config
}
