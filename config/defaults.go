package config

// Scenario amounts, as used against a fresh regtest wallet.
const (
	DefaultFee          = "0.00001"
	DefaultFund         = "0.5"
	DefaultLegacySend   = "0.5"
	DefaultSpend        = "0.05"
	DefaultSegwitFirst  = "0.3"
	DefaultSegwitSecond = "0.2"
)

// DefaultRegtest returns the default configuration for a local regtest node.
func DefaultRegtest() *Config {
	return &Config{
		Network: Regtest,
		DataDir: DefaultDataDir(),
		RPC: RPCConfig{
			Host: "127.0.0.1",
			Port: 18443,
		},
		Wallet: WalletConfig{
			Name:      "btcflow",
			Bootstrap: true,
		},
		Amounts: AmountsConfig{
			Fee:          DefaultFee,
			Fund:         DefaultFund,
			LegacySend:   DefaultLegacySend,
			Spend:        DefaultSpend,
			SegwitFirst:  DefaultSegwitFirst,
			SegwitSecond: DefaultSegwitSecond,
		},
		Ledger: LedgerConfig{
			Path: "addresses.txt",
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	cfg := DefaultRegtest()
	cfg.Network = network
	cfg.RPC.Port = DefaultRPCPort(network)
	cfg.Wallet.Bootstrap = network == Regtest
	return cfg
}

// DefaultRPCPort returns Bitcoin Core's default RPC port for network.
func DefaultRPCPort(network NetworkType) int {
	switch network {
	case Testnet:
		return 18332
	case Signet:
		return 38332
	case Mainnet:
		return 8332
	default:
		return 18443
	}
}
