package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variable names. The first five match the variables an
// operator already keeps in a .env next to the node.
const (
	EnvRPCHost     = "RPC_HOST"
	EnvRPCPort     = "RPC_PORT"
	EnvRPCUser     = "RPC_USER"
	EnvRPCPassword = "RPC_PASSWORD"
	EnvWalletName  = "WALLET_NAME"
	EnvNetwork     = "BTCFLOW_NETWORK"
	EnvDataDir     = "BTCFLOW_DATADIR"
	EnvLedger      = "BTCFLOW_LEDGER"
	EnvLogLevel    = "BTCFLOW_LOG_LEVEL"
)

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. lookup is normally
// os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvNetwork); ok && v != "" {
		cfg.Network = NetworkType(v)
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		cfg.DataDir = v
	}
	if v, ok := lookup(EnvRPCHost); ok && v != "" {
		cfg.RPC.Host = v
	}
	if v, ok := lookup(EnvRPCPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRPCPort, err)
		}
		cfg.RPC.Port = port
	}
	if v, ok := lookup(EnvRPCUser); ok {
		cfg.RPC.User = v
	}
	if v, ok := lookup(EnvRPCPassword); ok {
		cfg.RPC.Password = v
	}
	if v, ok := lookup(EnvWalletName); ok && v != "" {
		cfg.Wallet.Name = v
	}
	if v, ok := lookup(EnvLedger); ok && v != "" {
		cfg.Ledger.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
	return nil
}

func lookupNonEmpty(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok && v != ""
}
