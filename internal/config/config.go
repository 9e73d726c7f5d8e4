// Copyright 2025 Blink Labs Software
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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/landregistry/database/plugin"
	"github.com/blinklabs-io/landregistry/ledger"
)

type ctxKey string

const configContextKey ctxKey = "landregistry.config"

const (
	DefaultShutdownTimeout = "30s"
	DefaultBlobPlugin      = "badger"
	DefaultConfigFileName  = "landregistry.yaml"

	envPrefix = "landregistry"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// LedgerMode selects the ledger client implementation
type LedgerMode string

const (
	// LedgerModeMemory uses the in-process contract simulator
	LedgerModeMemory LedgerMode = "memory"
	// LedgerModeRest talks to a full node over its REST API
	LedgerModeRest LedgerMode = "rest"
)

func (m LedgerMode) Valid() bool {
	switch m {
	case LedgerModeMemory, LedgerModeRest:
		return true
	default:
		return false
	}
}

var ErrInvalidConfig = errors.New("invalid configuration")

type tempConfig struct {
	Config   *Config                   `yaml:"config,omitempty"`
	Database *databaseConfig           `yaml:"database,omitempty"`
	Blob     map[string]map[string]any `yaml:"blob,omitempty"`
}

type databaseConfig struct {
	Blob map[string]any `yaml:"blob,omitempty"`
}

type Config struct {
	BlobPlugin      string `yaml:"blobPlugin"      envconfig:"LANDREGISTRY_DATABASE_BLOB_PLUGIN"`
	DatabasePath    string `yaml:"databasePath"                                                split_words:"true"`
	BindAddr        string `yaml:"bindAddr"                                                    split_words:"true"`
	ShutdownTimeout string `yaml:"shutdownTimeout"                                             split_words:"true"`
	// Ledger connection
	LedgerMode           LedgerMode `yaml:"ledgerMode"           split_words:"true"`
	LedgerUrl            string     `yaml:"ledgerUrl"            split_words:"true"`
	LedgerApiKey         string     `yaml:"ledgerApiKey"         split_words:"true"`
	ModuleAddress        string     `yaml:"moduleAddress"        split_words:"true"`
	ModuleName           string     `yaml:"moduleName"           split_words:"true"`
	LedgerAttemptTimeout string     `yaml:"ledgerAttemptTimeout" split_words:"true"`
	LedgerMaxRetries     int        `yaml:"ledgerMaxRetries"     split_words:"true"`
	SyncCouncil          bool       `yaml:"syncCouncil"          split_words:"true"`
	// Registry behavior
	ApprovalThreshold int  `yaml:"approvalThreshold" split_words:"true"`
	ReuseIds          bool `yaml:"reuseIds"          split_words:"true"`
	// API
	ApiPort        uint     `yaml:"apiPort"        split_words:"true"`
	AdminWallets   []string `yaml:"adminWallets"   split_words:"true"`
	RateLimitRps   float64  `yaml:"rateLimitRps"   split_words:"true"`
	RateLimitBurst int      `yaml:"rateLimitBurst" split_words:"true"`
	// Observability
	MetricsPort     uint   `yaml:"metricsPort"     split_words:"true"`
	TracingEnabled  bool   `yaml:"tracingEnabled"  split_words:"true"`
	TracingEndpoint string `yaml:"tracingEndpoint" split_words:"true"`
	Debug           bool   `yaml:"debug"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		BlobPlugin:           DefaultBlobPlugin,
		DatabasePath:         ".landregistry",
		BindAddr:             "0.0.0.0",
		ShutdownTimeout:      DefaultShutdownTimeout,
		LedgerMode:           LedgerModeMemory,
		ModuleAddress:        ledger.DefaultModuleAddress,
		ModuleName:           ledger.DefaultModuleName,
		LedgerAttemptTimeout: "15s",
		LedgerMaxRetries:     5,
		ApprovalThreshold:    2,
		ApiPort:              8080,
		RateLimitRps:         5,
		RateLimitBurst:       10,
		MetricsPort:          12799,
	}
}

// findConfigFile looks in the user and system config directories
func findConfigFile() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".landregistry", DefaultConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}
	systemPath := filepath.Join("/etc/landregistry", DefaultConfigFileName)
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath
	}
	return ""
}

// LoadConfig builds the configuration from the defaults, the YAML config
// file and the environment, in that order. Plugin sections of the file and
// plugin environment variables are applied to the plugin registry.
func LoadConfig(configFile string) (*Config, error) {
	cfg := DefaultConfig()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := loadFile(cfg, configFile); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := plugin.ProcessEnvVars(); err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, configFile string) error {
	buf, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	var tempCfg tempConfig
	if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	if tempCfg.Config != nil {
		// Overlay the config section onto the defaults
		configBytes, err := yaml.Marshal(tempCfg.Config)
		if err != nil {
			return fmt.Errorf("error re-marshalling config: %w", err)
		}
		if err := yaml.Unmarshal(configBytes, cfg); err != nil {
			return fmt.Errorf("error parsing config section: %w", err)
		}
	} else if err := yaml.Unmarshal(buf, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	blobConfig := make(map[string]map[string]any)
	for name, opts := range tempCfg.Blob {
		blobConfig[name] = opts
	}
	if tempCfg.Database != nil && tempCfg.Database.Blob != nil {
		for k, v := range tempCfg.Database.Blob {
			if k == "plugin" {
				if pluginName, ok := v.(string); ok {
					cfg.BlobPlugin = pluginName
				}
				continue
			}
			opts, ok := v.(map[string]any)
			if !ok {
				fmt.Fprintf(os.Stderr, "warning: skipping blob config entry %q: expected map, got %T\n", k, v)
				continue
			}
			blobConfig[k] = opts
		}
	}
	if len(blobConfig) > 0 {
		pluginConfig := map[string]map[string]map[string]any{
			plugin.PluginTypeName(plugin.PluginTypeBlob): blobConfig,
		}
		if err := plugin.ProcessConfig(pluginConfig); err != nil {
			return fmt.Errorf("error processing plugin config: %w", err)
		}
	}
	return nil
}

// Validate checks values that cannot be caught by parsing alone
func (c *Config) Validate() error {
	var errs []error
	if !c.LedgerMode.Valid() {
		errs = append(errs, fmt.Errorf("ledgerMode must be %q or %q, got %q", LedgerModeMemory, LedgerModeRest, c.LedgerMode))
	}
	if c.LedgerMode == LedgerModeRest && strings.TrimSpace(c.LedgerUrl) == "" {
		errs = append(errs, errors.New("ledgerUrl is required in rest ledger mode"))
	}
	if c.ApprovalThreshold < 1 {
		errs = append(errs, fmt.Errorf("approvalThreshold must be at least 1, got %d", c.ApprovalThreshold))
	}
	if _, err := c.ShutdownTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LedgerAttemptTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) ShutdownTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid shutdownTimeout %q: %w", c.ShutdownTimeout, err)
	}
	return d, nil
}

func (c *Config) LedgerAttemptTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.LedgerAttemptTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid ledgerAttemptTimeout %q: %w", c.LedgerAttemptTimeout, err)
	}
	return d, nil
}

// Module returns the configured contract module coordinates
func (c *Config) Module() ledger.Module {
	return ledger.Module{Address: c.ModuleAddress, Name: c.ModuleName}
}
