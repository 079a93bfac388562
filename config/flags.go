package config

import (
	"github.com/urfave/cli/v2"
)

// Flag names shared by every btcflow command.
const (
	FlagConfig   = "config"
	FlagEnvFile  = "env-file"
	FlagNetwork  = "network"
	FlagDataDir  = "datadir"
	FlagRPCHost  = "rpc-host"
	FlagRPCPort  = "rpc-port"
	FlagRPCUser  = "rpc-user"
	FlagRPCPass  = "rpc-password"
	FlagWallet   = "wallet"
	FlagLedger   = "ledger"
	FlagFee      = "fee"
	FlagJournal  = "journal"
	FlagLogLevel = "log-level"
	FlagLogFile  = "log-file"
	FlagLogJSON  = "log-json"
	FlagMetrics  = "metrics-addr"
	FlagNoMine   = "no-bootstrap"
)

// Flags returns the global command-line flags.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: FlagConfig, Aliases: []string{"c"}, Usage: "Config file path (default: <datadir>/btcflow.conf)"},
		&cli.StringFlag{Name: FlagEnvFile, Value: ".env", Usage: "dotenv file with RPC_* and WALLET_NAME variables"},
		&cli.StringFlag{Name: FlagNetwork, Usage: "Network type (regtest, testnet, signet, mainnet)"},
		&cli.StringFlag{Name: FlagDataDir, Usage: "Data directory path"},
		&cli.StringFlag{Name: FlagRPCHost, Usage: "Node RPC host"},
		&cli.IntFlag{Name: FlagRPCPort, Usage: "Node RPC port"},
		&cli.StringFlag{Name: FlagRPCUser, Usage: "Node RPC user"},
		&cli.StringFlag{Name: FlagRPCPass, Usage: "Node RPC password"},
		&cli.StringFlag{Name: FlagWallet, Aliases: []string{"w"}, Usage: "Node wallet name"},
		&cli.StringFlag{Name: FlagLedger, Usage: "Address ledger file"},
		&cli.StringFlag{Name: FlagFee, Usage: "Flat fee per transaction in BTC"},
		&cli.BoolFlag{Name: FlagJournal, Value: true, Usage: "Record lifecycle transitions in the journal"},
		&cli.StringFlag{Name: FlagLogLevel, Usage: "Log level (debug, info, warn, error)"},
		&cli.StringFlag{Name: FlagLogFile, Usage: "Log file path"},
		&cli.BoolFlag{Name: FlagLogJSON, Usage: "Output logs as JSON"},
		&cli.BoolFlag{Name: FlagNoMine, Usage: "Never mine maturing blocks to fund an empty regtest wallet"},
		&cli.StringFlag{Name: FlagMetrics, Usage: "Serve Prometheus metrics on this address while running"},
	}
}

// ApplyFlags overlays flags that were explicitly set onto cfg.
func ApplyFlags(cfg *Config, c *cli.Context) {
	if c.IsSet(FlagNetwork) {
		cfg.Network = NetworkType(c.String(FlagNetwork))
	}
	if c.IsSet(FlagDataDir) {
		cfg.DataDir = c.String(FlagDataDir)
	}
	if c.IsSet(FlagRPCHost) {
		cfg.RPC.Host = c.String(FlagRPCHost)
	}
	if c.IsSet(FlagRPCPort) {
		cfg.RPC.Port = c.Int(FlagRPCPort)
	}
	if c.IsSet(FlagRPCUser) {
		cfg.RPC.User = c.String(FlagRPCUser)
	}
	if c.IsSet(FlagRPCPass) {
		cfg.RPC.Password = c.String(FlagRPCPass)
	}
	if c.IsSet(FlagWallet) {
		cfg.Wallet.Name = c.String(FlagWallet)
	}
	if c.IsSet(FlagLedger) {
		cfg.Ledger.Path = c.String(FlagLedger)
	}
	if c.IsSet(FlagFee) {
		cfg.Amounts.Fee = c.String(FlagFee)
	}
	if c.IsSet(FlagJournal) {
		cfg.Journal.Enabled = c.Bool(FlagJournal)
	}
	if c.IsSet(FlagLogLevel) {
		cfg.Log.Level = c.String(FlagLogLevel)
	}
	if c.IsSet(FlagLogFile) {
		cfg.Log.File = c.String(FlagLogFile)
	}
	if c.IsSet(FlagLogJSON) {
		cfg.Log.JSON = c.Bool(FlagLogJSON)
	}
	if c.Bool(FlagNoMine) {
		cfg.Wallet.Bootstrap = false
	}
	if c.IsSet(FlagMetrics) {
		cfg.Metrics.Addr = c.String(FlagMetrics)
	}
}

// Load builds the configuration for a command: defaults for the selected
// network, then the config file, the environment (after .env), and flags.
func Load(c *cli.Context) (*Config, error) {
	if err := LoadDotEnv(c.String(FlagEnvFile)); err != nil {
		return nil, err
	}

	network := Regtest
	if v, ok := lookupNonEmpty(EnvNetwork); ok {
		network = NetworkType(v)
	}
	if c.IsSet(FlagNetwork) {
		network = NetworkType(c.String(FlagNetwork))
	}
	cfg := Default(network)
	if c.IsSet(FlagDataDir) {
		cfg.DataDir = c.String(FlagDataDir)
	}

	path := c.String(FlagConfig)
	if path == "" {
		path = cfg.ConfigFile()
	}
	values, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	ApplyFlags(cfg, c)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
