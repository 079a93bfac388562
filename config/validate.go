package config

import (
	"fmt"
	"strings"

	"github.com/Klingon-tech/btcflow/internal/wallet"
)

// Validate checks the configuration for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := cfg.ChainParams(); err != nil {
		return fmt.Errorf("network must be one of %q, %q, %q, %q", Regtest, Testnet, Signet, Mainnet)
	}
	if strings.TrimSpace(cfg.RPC.Host) == "" {
		return fmt.Errorf("rpc.host is required")
	}
	if cfg.RPC.Port <= 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [1, 65535]")
	}
	if strings.TrimSpace(cfg.Wallet.Name) == "" {
		return fmt.Errorf("wallet.name is required")
	}
	if strings.TrimSpace(cfg.Ledger.Path) == "" {
		return fmt.Errorf("ledger.path is required")
	}

	amounts := []struct {
		key   string
		value string
	}{
		{"amount.fee", cfg.Amounts.Fee},
		{"amount.fund", cfg.Amounts.Fund},
		{"amount.legacy_send", cfg.Amounts.LegacySend},
		{"amount.spend", cfg.Amounts.Spend},
		{"amount.segwit_first", cfg.Amounts.SegwitFirst},
		{"amount.segwit_second", cfg.Amounts.SegwitSecond},
	}
	for _, a := range amounts {
		amt, err := wallet.ParseAmount(a.value)
		if err != nil {
			return fmt.Errorf("%s: %w", a.key, err)
		}
		if amt < 0 {
			return fmt.Errorf("%s must not be negative", a.key)
		}
		if amt == 0 && a.key != "amount.fee" {
			return fmt.Errorf("%s must be positive", a.key)
		}
	}
	return nil
}
