package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads configuration values from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// RPC
	case "rpc.host":
		cfg.RPC.Host = value
	case "rpc.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RPC.Port = port
	case "rpc.user":
		cfg.RPC.User = value
	case "rpc.password":
		cfg.RPC.Password = value

	// Wallet
	case "wallet.name", "wallet":
		cfg.Wallet.Name = value
	case "wallet.bootstrap":
		cfg.Wallet.Bootstrap = parseBool(value)

	// Amounts
	case "amount.fee", "fee":
		cfg.Amounts.Fee = value
	case "amount.fund":
		cfg.Amounts.Fund = value
	case "amount.legacy_send":
		cfg.Amounts.LegacySend = value
	case "amount.spend":
		cfg.Amounts.Spend = value
	case "amount.segwit_first":
		cfg.Amounts.SegwitFirst = value
	case "amount.segwit_second":
		cfg.Amounts.SegwitSecond = value

	// Ledger / journal
	case "ledger.path", "ledger":
		cfg.Ledger.Path = value
	case "journal.enabled", "journal":
		cfg.Journal.Enabled = parseBool(value)
	case "journal.dir":
		cfg.Journal.Dir = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	// Metrics
	case "metrics.addr":
		cfg.Metrics.Addr = value

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	content := `# btcflow configuration
#
# Environment variables (RPC_HOST, RPC_PORT, RPC_USER, RPC_PASSWORD,
# WALLET_NAME) and command-line flags override the values below.

# Network: regtest, testnet, signet or mainnet
network = ` + string(network) + `

# Data directory (default: ~/.btcflow)
# datadir = ~/.btcflow

# ============================================================================
# Node RPC
# ============================================================================

rpc.host = 127.0.0.1
rpc.port = ` + strconv.Itoa(DefaultRPCPort(network)) + `
# rpc.user =
# rpc.password =

# ============================================================================
# Wallet
# ============================================================================

wallet.name = btcflow
# Mine 101 blocks when the wallet is too poor to fund a scenario (regtest only)
wallet.bootstrap = ` + strconv.FormatBool(network == Regtest) + `

# ============================================================================
# Amounts (BTC, truncated to 8 decimals)
# ============================================================================

amount.fee = ` + DefaultFee + `
amount.fund = ` + DefaultFund + `
amount.legacy_send = ` + DefaultLegacySend + `
amount.spend = ` + DefaultSpend + `
amount.segwit_first = ` + DefaultSegwitFirst + `
amount.segwit_second = ` + DefaultSegwitSecond + `

# ============================================================================
# State
# ============================================================================

ledger.path = addresses.txt
journal.enabled = true
# journal.dir =

# ============================================================================
# Logging / metrics
# ============================================================================

log.level = info
# log.file =
log.json = false
# metrics.addr = 127.0.0.1:9464
`
	return os.WriteFile(path, []byte(content), 0644)
}
