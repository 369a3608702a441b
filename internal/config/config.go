// Package config loads and validates the YAML configuration for the server
// and the agent binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modemfleet/internal/logging"
)

// DatabaseConfig selects the SQL backend. Driver is "sqlite3" or "postgres".
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns,omitempty"`
	MaxIdleConns int    `yaml:"max_idle_conns,omitempty"`
}

// JWTConfig holds bearer-token issuance settings.
type JWTConfig struct {
	Issuer           string `yaml:"issuer"`
	Audience         string `yaml:"audience"`
	Key              string `yaml:"key"`
	ExpireMinutes    int    `yaml:"expire_minutes"`
	RefreshTokenDays int    `yaml:"refresh_token_days"`
}

// TokenStoreConfig selects where refresh tokens live. Backend is "badger"
// (embedded, single instance) or "redis" (shared).
type TokenStoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path,omitempty"` // badger directory
	// Redis settings, used when Backend == "redis".
	Addr         string `yaml:"addr,omitempty"`
	Password     string `yaml:"password,omitempty"`
	Database     int    `yaml:"database,omitempty"`
	InstanceName string `yaml:"instance_name,omitempty"` // key prefix
}

// HTTPConfig holds the listen address of the API server.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ServerConfig is the central server configuration.
type ServerConfig struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	TokenStore TokenStoreConfig `yaml:"token_store"`
}

// AutoHangupConfig is the agent-side incoming-call policy.
type AutoHangupConfig struct {
	Enabled       bool     `yaml:"enabled"`
	HangupDelayMs int      `yaml:"hangup_delay_ms"`
	CooldownMs    int      `yaml:"cooldown_ms"`
	Whitelist     []string `yaml:"whitelist,omitempty"`
}

// ScannerConfig holds COM port probing settings.
type ScannerConfig struct {
	BaudRates []int `yaml:"baud_rates,omitempty"`
}

// ReceiverConfig holds SMS receiver settings.
type ReceiverConfig struct {
	AutoStartOnScan bool `yaml:"auto_start_on_scan"`
}

// AgentConfig is the edge agent configuration.
type AgentConfig struct {
	ServerURL  string           `yaml:"server_url"`
	DeviceID   string           `yaml:"device_id,omitempty"` // default: host name
	Scanner    ScannerConfig    `yaml:"scanner"`
	Receiver   ReceiverConfig   `yaml:"receiver"`
	AutoHangup AutoHangupConfig `yaml:"auto_hangup"`
}

// Config represents the complete application configuration. The server and
// the agent read the same file; each binary uses its own section.
type Config struct {
	Server       ServerConfig   `yaml:"server"`
	Agent        AgentConfig    `yaml:"agent"`
	ServerLogging logging.Config `yaml:"server_logging"`
	AgentLogging  logging.Config `yaml:"agent_logging"`
}

// DefaultBaudRates is the probe ladder used when none is configured.
var DefaultBaudRates = []int{115200, 9600, 19200, 38400, 57600}

// HangupDelay returns the configured delay before writing ATH.
func (c *AutoHangupConfig) HangupDelay() time.Duration {
	return time.Duration(c.HangupDelayMs) * time.Millisecond
}

// Cooldown returns the minimum spacing between hangups on one port.
func (c *AutoHangupConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTP: HTTPConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Driver:       "sqlite3",
			DSN:          "./data/modemfleet.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		JWT: JWTConfig{
			Issuer:           "modemfleet",
			Audience:         "modemfleet",
			ExpireMinutes:    60,
			RefreshTokenDays: 14,
		},
		TokenStore: TokenStoreConfig{
			Backend: "badger",
			Path:    "./data/tokens",
		},
	}
}

func DefaultAgentConfig() AgentConfig {
	host, _ := os.Hostname()
	return AgentConfig{
		ServerURL: "ws://localhost:8080/hub/agent",
		DeviceID:  host,
		Scanner:   ScannerConfig{BaudRates: append([]int(nil), DefaultBaudRates...)},
		Receiver:  ReceiverConfig{AutoStartOnScan: true},
		AutoHangup: AutoHangupConfig{
			Enabled:       true,
			HangupDelayMs: 200,
			CooldownMs:    5000,
		},
	}
}

func DefaultLoggingConfig() logging.Config {
	return logging.Config{
		Level:      "info",
		Console:    true,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields the
// defaults.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := &Config{
			Server:        DefaultServerConfig(),
			Agent:         DefaultAgentConfig(),
			ServerLogging: DefaultLoggingConfig(),
			AgentLogging:  DefaultLoggingConfig(),
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SaveConfig saves configuration to a YAML file.
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateExampleConfig writes config.example.yaml with all defaults filled in.
func CreateExampleConfig(dir string) error {
	config := &Config{
		Server:        DefaultServerConfig(),
		Agent:         DefaultAgentConfig(),
		ServerLogging: DefaultLoggingConfig(),
		AgentLogging:  DefaultLoggingConfig(),
	}
	if err := SaveConfig(config, filepath.Join(dir, "config.example.yaml")); err != nil {
		return fmt.Errorf("failed to create example config: %w", err)
	}
	return nil
}

// validate ensures the configuration is usable and fills defaults for zero
// values.
func (c *Config) validate() error {
	// Server section.
	if c.Server.HTTP.Host == "" {
		c.Server.HTTP.Host = "0.0.0.0"
	}
	if c.Server.HTTP.Port == 0 {
		c.Server.HTTP.Port = 8080
	}
	if c.Server.Database.Driver == "" {
		c.Server.Database.Driver = "sqlite3"
	}
	switch c.Server.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got: %s", c.Server.Database.Driver)
	}
	if c.Server.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Server.Database.MaxOpenConns == 0 {
		c.Server.Database.MaxOpenConns = 10
	}
	if c.Server.Database.MaxIdleConns == 0 {
		c.Server.Database.MaxIdleConns = 5
	}
	if c.Server.JWT.Issuer == "" {
		c.Server.JWT.Issuer = "modemfleet"
	}
	if c.Server.JWT.Audience == "" {
		c.Server.JWT.Audience = "modemfleet"
	}
	if c.Server.JWT.ExpireMinutes == 0 {
		c.Server.JWT.ExpireMinutes = 60
	}
	if c.Server.JWT.RefreshTokenDays == 0 {
		c.Server.JWT.RefreshTokenDays = 14
	}
	switch c.Server.TokenStore.Backend {
	case "":
		c.Server.TokenStore.Backend = "badger"
	case "badger", "redis":
	default:
		return fmt.Errorf("token_store.backend must be badger or redis, got: %s", c.Server.TokenStore.Backend)
	}
	if c.Server.TokenStore.Backend == "badger" && c.Server.TokenStore.Path == "" {
		c.Server.TokenStore.Path = "./data/tokens"
	}
	if c.Server.TokenStore.Backend == "redis" && c.Server.TokenStore.Addr == "" {
		return fmt.Errorf("token_store.addr is required for the redis backend")
	}

	// Agent section.
	if c.Agent.ServerURL == "" {
		c.Agent.ServerURL = "ws://localhost:8080/hub/agent"
	}
	if c.Agent.DeviceID == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("device_id not set and host name unavailable: %w", err)
		}
		c.Agent.DeviceID = host
	}
	if len(c.Agent.Scanner.BaudRates) == 0 {
		c.Agent.Scanner.BaudRates = append([]int(nil), DefaultBaudRates...)
	}
	for _, rate := range c.Agent.Scanner.BaudRates {
		if rate <= 0 {
			return fmt.Errorf("scanner.baud_rates contains invalid rate %d", rate)
		}
	}
	if c.Agent.AutoHangup.HangupDelayMs == 0 {
		c.Agent.AutoHangup.HangupDelayMs = 200
	}
	if c.Agent.AutoHangup.CooldownMs == 0 {
		c.Agent.AutoHangup.CooldownMs = 5000
	}

	// Logging sections.
	if err := validateLogging(&c.ServerLogging, "server_logging"); err != nil {
		return err
	}
	if err := validateLogging(&c.AgentLogging, "agent_logging"); err != nil {
		return err
	}

	return nil
}

func validateLogging(cfg *logging.Config, componentName string) error {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level must be one of debug, info, warn, error, got: %s", componentName, cfg.Level)
	}
	if !cfg.Console && cfg.File == "" {
		cfg.Console = true
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 100
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 28
	}
	return nil
}
