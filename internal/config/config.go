// Package config loads the delayguard YAML configuration.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/delayguard/internal/alert"
	"github.com/ppiankov/delayguard/internal/calldata"
	"github.com/ppiankov/delayguard/internal/integrity"
	"github.com/ppiankov/delayguard/internal/ratelimit"
)

// StoreConfig selects the allowlist store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// ChainConfig points at the JSON-RPC endpoint of the chain the accounts
// live on. An empty RPCURL keeps every account in process.
type ChainConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	ChainID int64  `yaml:"chain_id"`
}

// ServerConfig holds the gRPC listen address.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Config holds every configurable engine parameter.
type Config struct {
	EngineAddress      string              `yaml:"engine_address"`
	Delay              time.Duration       `yaml:"delay"`
	Installation       string              `yaml:"installation"`
	StrictGuardRemoval bool                `yaml:"strict_guard_removal"`
	Limits             calldata.Limits     `yaml:"limits"`
	Store              StoreConfig         `yaml:"store"`
	Chain              ChainConfig         `yaml:"chain"`
	Server             ServerConfig        `yaml:"server"`
	Alerts             []alert.AlertConfig `yaml:"alerts"`
	AuditLog           string              `yaml:"audit_log"`
	RateLimits         ratelimit.Config    `yaml:"rate_limits"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Delay:        24 * time.Hour,
		Installation: "dual",
		Limits:       calldata.DefaultLimits(),
		Store:        StoreConfig{Driver: "memory"},
		Chain:        ChainConfig{ChainID: 1},
		Server:       ServerConfig{Listen: "127.0.0.1:9411"},
	}
}

// DefaultPath returns ~/.delayguard/config.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".delayguard", "config.yaml")
}

// Load loads configuration from a YAML file.
// Empty path falls back to ~/.delayguard/config.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 hash of the raw
// YAML bytes on disk. When no file exists the hash is over empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
		data = raw
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.EngineAddress != "" && !common.IsHexAddress(c.EngineAddress) {
		return fmt.Errorf("engine_address %q is not a hex address", c.EngineAddress)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %s", c.Delay)
	}
	if _, err := integrity.ParseStrategy(c.Installation); err != nil {
		return fmt.Errorf("installation: %w", err)
	}
	if c.Limits.MaxDepth < 0 || c.Limits.MaxCalls < 0 || c.Limits.MaxPayloadBytes < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	switch c.Store.Driver {
	case "", "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return err
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("alerts[%d]: url is required", i)
		}
	}
	return nil
}

// Engine returns the configured engine address.
func (c *Config) Engine() common.Address {
	return common.HexToAddress(c.EngineAddress)
}

// Strategy returns the configured installation strategy.
func (c *Config) Strategy() integrity.Strategy {
	s, err := integrity.ParseStrategy(c.Installation)
	if err != nil {
		return integrity.DualGuard{}
	}
	return s
}

// ChainID returns the configured chain id as a big integer.
func (c *Config) ChainID() *big.Int {
	return big.NewInt(c.Chain.ChainID)
}

// DefaultConfigYAML returns the default configuration as commented YAML.
func DefaultConfigYAML() string {
	return `# delayguard configuration
# Docs: https://github.com/ppiankov/delayguard

# Address of this engine instance. Calls to it with a configuration
# selector are always allowed.
engine_address: "0x0000000000000000000000000000000000000000"

# How long a new allowance waits before it can be used once the engine
# is installed as a guard.
delay: 24h

# dual: transaction guard and module guard must both be this engine.
# single: only the transaction guard is required.
installation: dual

# When true, guard removal after a matured schedule also requires the
# setter argument to be the zero address.
strict_guard_removal: false

# Caps on nested multiSend payloads.
limits:
  max_batch_depth: 8
  max_batch_calls: 256
  max_payload_bytes: 1048576

# Allowlist storage: memory or sqlite.
store:
  driver: sqlite
  path: ~/.delayguard/state.db

# JSON-RPC endpoint for deployed accounts and contract signers.
# Leave rpc_url empty to keep accounts in process.
chain:
  rpc_url: ""
  chain_id: 1

server:
  listen: 127.0.0.1:9411

# Hash-chained event log.
audit_log: ~/.delayguard/audit.jsonl

# Per-caller RPC limits. Config requests are keyed by the signing
# account, queries by the peer address. Reloaded on change.
# rate_limits:
#   config:
#     max_requests: 30
#     window: 1m
#   query:
#     max_requests: 600
#     window: 1m

# Webhook alerts. Reloaded on change while serving.
# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack
#     events: [denied, guard_removal_scheduled, guard_removed]
#   - url: https://events.pagerduty.com/v2/enqueue
#     format: pagerduty
#     events: [guard_removed]
#     headers:
#       Authorization: "Token token=..."
`
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
