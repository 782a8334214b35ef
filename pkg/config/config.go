/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ssargent/pgscrub/internal/logging"
	"github.com/ssargent/pgscrub/pkg/mapping"
)

// DefaultReadAhead is how much pg_dump output is buffered ahead of the obfuscator
const DefaultReadAhead = 20 * 1024 * 1024

// Config represents the pgscrub configuration
type Config struct {
	Database    Database                    `yaml:"database"`
	PgDump      PgDump                      `yaml:"pg_dump"`
	Output      string                      `yaml:"output"`
	Obfuscation Obfuscation                 `yaml:"obfuscation"`
	Tables      mapping.TableColumnMappings `yaml:"tables"`
	Logging     Logging                     `yaml:"logging"`
	Metrics     Metrics                     `yaml:"metrics"`
	Journal     Journal                     `yaml:"journal"`
}

// Database holds the credentials pg_dump connects with. An empty password
// leaves authentication to PGPASSWORD or ~/.pgpass.
type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode,omitempty"`
}

// PgDump configures the pg_dump child process
type PgDump struct {
	Path      string `yaml:"path"`
	ExtraArgs string `yaml:"extra_args,omitempty"`
	ReadAhead int    `yaml:"read_ahead_bytes"`
}

// Obfuscation contains the settings shared by all column transforms
type Obfuscation struct {
	ProtectedSuffix  string `yaml:"protected_suffix"`
	ObfuscatedDomain string `yaml:"obfuscated_domain"`
	// Seed makes scrambling reproducible; 0 picks a random seed per run
	Seed      uint64 `yaml:"seed"`
	RowBuffer int    `yaml:"row_buffer"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures the optional scrape endpoint. Empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Journal configures where run summaries are kept. Empty Dir disables it.
type Journal struct {
	Dir string `yaml:"dir"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: Database{
			Host: "localhost",
			Port: 5432,
			User: "postgres",
			Name: "postgres",
		},
		PgDump: PgDump{
			Path:      "pg_dump",
			ReadAhead: DefaultReadAhead,
		},
		Output: "./dump.pgcustom",
		Obfuscation: Obfuscation{
			ProtectedSuffix:  "@example.com",
			ObfuscatedDomain: "obfuscated.example.com",
			RowBuffer:        1024,
		},
		Tables: mapping.TableColumnMappings{},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Journal: Journal{
			Dir: defaultJournalDir(),
		},
	}
}

// LoadConfig loads configuration from the specified path
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure
// permissions, since it may hold a database password
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// BootstrapConfig writes a starter configuration with example table mappings
func BootstrapConfig(configPath string, output string) (*Config, error) {
	config := DefaultConfig()
	if output != "" {
		config.Output = output
	}
	config.Tables = mapping.TableColumnMappings{
		"public.users": {Columns: map[string]mapping.Transform{
			"id":    {Kind: mapping.Retain},
			"email": mapping.EmailFromColumn("id"),
			"name":  {Kind: mapping.Scramble},
			"phone": {Kind: mapping.ReplaceWithNull},
		}},
		"public.sessions": mapping.OmitTable,
	}

	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save bootstrap config: %w", err)
	}

	return config, nil
}

// Validate checks the settings every command depends on
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, err)
	}
	if c.Obfuscation.ObfuscatedDomain == "" {
		errs = append(errs, errors.New("obfuscation.obfuscated_domain is required"))
	}
	if c.Obfuscation.RowBuffer < 0 {
		errs = append(errs, errors.New("obfuscation.row_buffer must not be negative"))
	}
	return errors.Join(errs...)
}

// ValidateDump additionally checks the settings needed to run pg_dump
func (c *Config) ValidateDump() error {
	errs := []error{c.Validate()}
	if c.Database.Host == "" {
		errs = append(errs, errors.New("database.host is required"))
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Errorf("database.port %d is out of range", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, errors.New("database.user is required"))
	}
	if c.Database.Name == "" {
		errs = append(errs, errors.New("database.name is required"))
	}
	if c.PgDump.Path == "" {
		errs = append(errs, errors.New("pg_dump.path is required"))
	}
	if c.Output == "" {
		errs = append(errs, errors.New("output is required"))
	}
	return errors.Join(errs...)
}

// TransformOptions returns the options column transforms run with
func (c *Config) TransformOptions() mapping.Options {
	return mapping.Options{
		ProtectedSuffix:  c.Obfuscation.ProtectedSuffix,
		ObfuscatedDomain: c.Obfuscation.ObfuscatedDomain,
		Rand:             mapping.NewRand(c.Obfuscation.Seed),
	}
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./pgscrub.yaml"
	}

	// For Linux/macOS, use ~/.config/pgscrub/config.yaml
	configDir := filepath.Join(homeDir, ".config", "pgscrub")
	return filepath.Join(configDir, "config.yaml")
}

func defaultJournalDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.pgscrub/runs"
	}
	return filepath.Join(homeDir, ".local", "share", "pgscrub", "runs")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
