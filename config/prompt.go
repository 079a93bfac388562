package config

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// PromptPassword asks for the RPC password on the terminal when none was
// configured. It does nothing when stdin is not a terminal, leaving the
// password empty so the node rejects the call with a clear auth error.
func PromptPassword(cfg *Config) error {
	if cfg.RPC.Password != "" || cfg.RPC.User == "" {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	fmt.Fprintf(os.Stderr, "RPC password for %s@%s: ", cfg.RPC.User, cfg.RPCAddr())
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	cfg.RPC.Password = string(pw)
	return nil
}
