package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_Ports(t *testing.T) {
	tests := []struct {
		network NetworkType
		port    int
	}{
		{Regtest, 18443},
		{Testnet, 18332},
		{Signet, 38332},
		{Mainnet, 8332},
	}
	for _, tt := range tests {
		cfg := Default(tt.network)
		if cfg.Network != tt.network {
			t.Errorf("Default(%s).Network = %s", tt.network, cfg.Network)
		}
		if cfg.RPC.Port != tt.port {
			t.Errorf("Default(%s).RPC.Port = %d, want %d", tt.network, cfg.RPC.Port, tt.port)
		}
		if err := Validate(cfg); err != nil {
			t.Errorf("Validate(Default(%s)): %v", tt.network, err)
		}
		if cfg.Wallet.Bootstrap != (tt.network == Regtest) {
			t.Errorf("Default(%s).Wallet.Bootstrap = %v", tt.network, cfg.Wallet.Bootstrap)
		}
	}
}

func TestChainParams(t *testing.T) {
	cfg := DefaultRegtest()
	params, err := cfg.ChainParams()
	if err != nil {
		t.Fatalf("ChainParams: %v", err)
	}
	if params.Name != "regtest" {
		t.Errorf("params.Name = %q, want regtest", params.Name)
	}

	cfg.Network = "bogus"
	if _, err := cfg.ChainParams(); err == nil {
		t.Error("ChainParams accepted an unknown network")
	}
}

func TestRPCAddr(t *testing.T) {
	cfg := DefaultRegtest()
	if got := cfg.RPCAddr(); got != "127.0.0.1:18443" {
		t.Errorf("RPCAddr = %q", got)
	}
	cfg.RPC.Host = "::1"
	if got := cfg.RPCAddr(); got != "[::1]:18443" {
		t.Errorf("RPCAddr = %q", got)
	}
}

func TestLoadFile_AndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btcflow.conf")
	content := `# comment
network = regtest
rpc.host = 10.0.0.2
rpc.port = 19000
rpc.user = "alice"
rpc.password = 'secret'
wallet.name = testwallet
amount.fee = 0.00002
ledger.path = /tmp/ledger.txt
journal.enabled = no
log.level = debug
log.json = true
metrics.addr = 127.0.0.1:9464
unknown.key = ignored
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg := DefaultRegtest()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.RPC.Host != "10.0.0.2" || cfg.RPC.Port != 19000 {
		t.Errorf("rpc = %s:%d", cfg.RPC.Host, cfg.RPC.Port)
	}
	if cfg.RPC.User != "alice" || cfg.RPC.Password != "secret" {
		t.Errorf("credentials = %q/%q, quotes not stripped", cfg.RPC.User, cfg.RPC.Password)
	}
	if cfg.Wallet.Name != "testwallet" {
		t.Errorf("wallet = %q", cfg.Wallet.Name)
	}
	if cfg.Amounts.Fee != "0.00002" {
		t.Errorf("fee = %q", cfg.Amounts.Fee)
	}
	if cfg.Amounts.Spend != DefaultSpend {
		t.Errorf("spend = %q, default lost", cfg.Amounts.Spend)
	}
	if cfg.Ledger.Path != "/tmp/ledger.txt" {
		t.Errorf("ledger = %q", cfg.Ledger.Path)
	}
	if cfg.Journal.Enabled {
		t.Error("journal.enabled = no was not applied")
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9464" {
		t.Errorf("metrics = %q", cfg.Metrics.Addr)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("values = %v, want empty", values)
	}
}

func TestLoadFile_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.conf")
	os.WriteFile(path, []byte("network regtest\n"), 0644)
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile accepted a line without '='")
	}
}

func TestApplyFileConfig_BadPort(t *testing.T) {
	cfg := DefaultRegtest()
	if err := ApplyFileConfig(cfg, map[string]string{"rpc.port": "abc"}); err == nil {
		t.Error("ApplyFileConfig accepted a non-numeric port")
	}
}

func TestWriteDefaultConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btcflow.conf")
	if err := WriteDefaultConfig(path, Testnet); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg := DefaultRegtest()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if cfg.Network != Testnet || cfg.RPC.Port != 18332 {
		t.Errorf("network/port = %s/%d", cfg.Network, cfg.RPC.Port)
	}
	if cfg.Wallet.Bootstrap {
		t.Error("testnet config file enables wallet.bootstrap")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvRPCUser:     "bob",
		EnvRPCPassword: "pw",
		EnvRPCPort:     "18444",
		EnvWalletName:  "w1",
		EnvLedger:      "ledger.txt",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultRegtest()
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.RPC.User != "bob" || cfg.RPC.Password != "pw" || cfg.RPC.Port != 18444 {
		t.Errorf("rpc = %+v", cfg.RPC)
	}
	if cfg.RPC.Host != "127.0.0.1" {
		t.Errorf("host = %q, default lost", cfg.RPC.Host)
	}
	if cfg.Wallet.Name != "w1" || cfg.Ledger.Path != "ledger.txt" {
		t.Errorf("wallet/ledger = %q/%q", cfg.Wallet.Name, cfg.Ledger.Path)
	}

	env[EnvRPCPort] = "nope"
	if err := ApplyEnv(cfg, lookup); err == nil {
		t.Error("ApplyEnv accepted a non-numeric port")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(path, []byte("WALLET_NAME=fromfile\nRPC_USER=fromfile\n"), 0644)

	// Already-set variables win over the file.
	t.Setenv(EnvRPCUser, "fromenv")
	t.Setenv(EnvWalletName, "")
	os.Unsetenv(EnvWalletName)

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(EnvWalletName); got != "fromfile" {
		t.Errorf("WALLET_NAME = %q, want fromfile", got)
	}
	if got := os.Getenv(EnvRPCUser); got != "fromenv" {
		t.Errorf("RPC_USER = %q, want fromenv", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("LoadDotEnv(missing): %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown network", func(c *Config) { c.Network = "moon" }},
		{"empty host", func(c *Config) { c.RPC.Host = " " }},
		{"bad port", func(c *Config) { c.RPC.Port = 70000 }},
		{"no wallet", func(c *Config) { c.Wallet.Name = "" }},
		{"no ledger", func(c *Config) { c.Ledger.Path = "" }},
		{"bad fee", func(c *Config) { c.Amounts.Fee = "abc" }},
		{"negative fee", func(c *Config) { c.Amounts.Fee = "-0.1" }},
		{"zero spend", func(c *Config) { c.Amounts.Spend = "0" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRegtest()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}

	cfg := DefaultRegtest()
	cfg.Amounts.Fee = "0"
	if err := Validate(cfg); err != nil {
		t.Errorf("zero fee rejected: %v", err)
	}
	if err := Validate(nil); err == nil {
		t.Error("Validate(nil) returned nil")
	}
}

func TestJournalDir(t *testing.T) {
	cfg := DefaultRegtest()
	cfg.DataDir = "/data"
	if got := cfg.JournalDir(); got != filepath.Join("/data", "regtest", "journal") {
		t.Errorf("JournalDir = %q", got)
	}
	cfg.Journal.Dir = "/elsewhere"
	if got := cfg.JournalDir(); got != "/elsewhere" {
		t.Errorf("JournalDir = %q", got)
	}
}
