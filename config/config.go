// Package config handles btcflow configuration.
//
// Values are layered, later sources winning:
//   - Network defaults (Default)
//   - A key = value .conf file (LoadFile / ApplyFileConfig)
//   - The process environment, optionally seeded from a .env file (ApplyEnv)
//   - Command-line flags
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkType identifies the Bitcoin network the node runs.
type NetworkType string

const (
	Regtest NetworkType = "regtest"
	Testnet NetworkType = "testnet"
	Signet  NetworkType = "signet"
	Mainnet NetworkType = "mainnet"
)

// Config holds runtime configuration for a btcflow run.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Node connection
	RPC RPCConfig

	// Node wallet
	Wallet WalletConfig

	// Amounts used by the scenarios, as decimal BTC strings
	Amounts AmountsConfig

	// Address ledger file
	Ledger LedgerConfig

	// Lifecycle journal
	Journal JournalConfig

	// Logging
	Log LogConfig

	// Prometheus endpoint
	Metrics MetricsConfig
}

// RPCConfig holds the node's JSON-RPC connection parameters.
type RPCConfig struct {
	Host     string `conf:"rpc.host"`
	Port     int    `conf:"rpc.port"`
	User     string `conf:"rpc.user"`
	Password string `conf:"rpc.password"`
}

// WalletConfig names the node wallet to load or create.
type WalletConfig struct {
	Name string `conf:"wallet.name"`
	// Bootstrap mines maturing blocks when the wallet cannot cover the
	// funding amount. Honored on regtest only.
	Bootstrap bool `conf:"wallet.bootstrap"`
}

// AmountsConfig holds the scenario amounts. They are parsed with
// truncation to 8 decimals.
type AmountsConfig struct {
	Fee          string `conf:"amount.fee"`
	Fund         string `conf:"amount.fund"`
	LegacySend   string `conf:"amount.legacy_send"`
	Spend        string `conf:"amount.spend"`
	SegwitFirst  string `conf:"amount.segwit_first"`
	SegwitSecond string `conf:"amount.segwit_second"`
}

// LedgerConfig locates the three-line address file.
type LedgerConfig struct {
	Path string `conf:"ledger.path"`
}

// JournalConfig controls the on-disk lifecycle journal.
type JournalConfig struct {
	Enabled bool   `conf:"journal.enabled"`
	Dir     string `conf:"journal.dir"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// MetricsConfig holds the optional Prometheus listener address.
type MetricsConfig struct {
	Addr string `conf:"metrics.addr"`
}

// =============================================================================
// Derived values
// =============================================================================

// ChainParams returns the btcd parameters for the configured network.
func (c *Config) ChainParams() (*chaincfg.Params, error) {
	switch c.Network {
	case Regtest:
		return &chaincfg.RegressionNetParams, nil
	case Testnet:
		return &chaincfg.TestNet3Params, nil
	case Signet:
		return &chaincfg.SigNetParams, nil
	case Mainnet:
		return &chaincfg.MainNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", c.Network)
	}
}

// RPCAddr returns host:port of the node's RPC listener.
func (c *Config) RPCAddr() string {
	return net.JoinHostPort(c.RPC.Host, strconv.Itoa(c.RPC.Port))
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.btcflow
//	macOS:   ~/Library/Application Support/btcflow
//	Windows: %APPDATA%\btcflow
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".btcflow"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "btcflow")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "btcflow")
		}
		return filepath.Join(home, "AppData", "Roaming", "btcflow")
	default:
		return filepath.Join(home, ".btcflow")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// JournalDir returns the journal database directory.
func (c *Config) JournalDir() string {
	if c.Journal.Dir != "" {
		return c.Journal.Dir
	}
	return filepath.Join(c.NetworkDataDir(), "journal")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "btcflow.conf")
}
