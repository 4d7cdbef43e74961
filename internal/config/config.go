// Package config loads Config from a JSON file, then applies an optional
// .env overlay for operational secrets (store DSN, credentials) — the
// env-overlay idiom is adapted from this teacher's own env-var-primary
// config loader (godotenv.Load/Overload, getEnv*/getDefault helpers), now
// applied on top of a JSON-file-primary load per SPEC_FULL.md §6.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the recognized configuration surface (spec.md §6, expanded by
// SPEC_FULL.md §6 with ambient operational fields).
type Config struct {
	TcpPort           uint16        `json:"tcp_port"`
	TcpBufferSize     int           `json:"tcp_buffer_size"`
	TcpBatchMaxBytes  int           `json:"tcp_batch_max_bytes"`
	TcpStrictDelivery bool          `json:"tcp_strict_delivery"`
	TcpMinSubscribers int           `json:"tcp_min_subscribers"`
	SendAccounts      bool          `json:"send_accounts"`
	SendTransactions  bool          `json:"send_transactions"`
	SendBlocks        bool          `json:"send_blocks"`
	SkipVoteTxs       bool          `json:"skip_vote_txs"`
	SkipDeployTxs     bool          `json:"skip_deploy_txs"`
	CacheTTLSeconds   int           `json:"cache_ttl_seconds"`
	ControlListenAddr string        `json:"control_listen_addr"`
	FilterStoreDriver string        `json:"filter_store_driver"` // "sqlite" | "postgres"
	FilterStoreDSN    string        `json:"filter_store_dsn"`
	LogLevel          string        `json:"log_level"`
	HeartbeatInterval time.Duration `json:"-"` // derived, see applyDefaults
}

// CacheTTL returns CacheTTLSeconds as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Load reads cfg from the JSON file at path, then overlays any matching
// environment variables (teacher idiom: env wins over file, mirroring
// internal/config/config.go's .env.<tier>-over-default precedence).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	loadEnvOverlay()
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.TcpBufferSize == 0 {
		cfg.TcpBufferSize = 256
	}
	if cfg.TcpBatchMaxBytes == 0 {
		cfg.TcpBatchMaxBytes = 64 * 1024
	}
	if cfg.CacheTTLSeconds == 0 {
		cfg.CacheTTLSeconds = 20 * 60 // spec.md §3: 20 minute default
	}
	if cfg.ControlListenAddr == "" {
		cfg.ControlListenAddr = "127.0.0.1:8088"
	}
	if cfg.FilterStoreDriver == "" {
		cfg.FilterStoreDriver = "sqlite"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.HeartbeatInterval = 10 * time.Second // spec.md §5
}

// loadEnvOverlay loads a .env file, if present, into the process
// environment so applyEnvOverrides can pick up operator secrets without
// editing the checked-in JSON config file.
func loadEnvOverlay() {
	_ = godotenv.Load() // a missing .env is not an error; system env still applies
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GEYSER_FILTER_STORE_DSN"); v != "" {
		cfg.FilterStoreDSN = v
	}
	if v := os.Getenv("GEYSER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GEYSER_TCP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.TcpPort = uint16(p)
		}
	}
}

// Validate rejects configurations the publish pipeline cannot run with.
func (c *Config) Validate() error {
	if c.TcpPort == 0 {
		return fmt.Errorf("config: tcp_port must be nonzero")
	}
	if c.TcpBatchMaxBytes <= 0 {
		return fmt.Errorf("config: tcp_batch_max_bytes must be positive")
	}
	if c.FilterStoreDriver != "sqlite" && c.FilterStoreDriver != "postgres" {
		return fmt.Errorf("config: filter_store_driver must be sqlite or postgres, got %q", c.FilterStoreDriver)
	}
	return nil
}
