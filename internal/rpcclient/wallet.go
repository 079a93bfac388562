package rpcclient

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
)

// Bitcoin Core wallet RPC error codes.
const (
	codeWalletNotFound      btcjson.RPCErrorCode = -18
	codeWalletAlreadyLoaded btcjson.RPCErrorCode = -35
)

// WalletStatus reports how LoadOrCreateWallet reached a loaded wallet.
type WalletStatus int

const (
	WalletLoaded WalletStatus = iota
	WalletCreated
	WalletAlreadyLoaded
)

func (s WalletStatus) String() string {
	switch s {
	case WalletLoaded:
		return "loaded"
	case WalletCreated:
		return "created"
	case WalletAlreadyLoaded:
		return "already_loaded"
	default:
		return fmt.Sprintf("WalletStatus(%d)", int(s))
	}
}

type loadOutcome int

const (
	loadOK loadOutcome = iota
	loadNotFound
	loadAlreadyLoaded
	loadFailed
)

// classifyLoad maps a loadwallet/createwallet error onto an outcome by
// error code only. Message text is never inspected.
func classifyLoad(err error) loadOutcome {
	if err == nil {
		return loadOK
	}
	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		return loadFailed
	}
	switch rpcErr.Code {
	case codeWalletNotFound:
		return loadNotFound
	case codeWalletAlreadyLoaded:
		return loadAlreadyLoaded
	default:
		return loadFailed
	}
}

// LoadOrCreateWallet ensures the client's wallet is loaded on the node,
// creating it when the node has no wallet of that name. Calling it again
// once the wallet is loaded is a no-op returning WalletAlreadyLoaded.
func (c *Client) LoadOrCreateWallet() (WalletStatus, error) {
	name := c.walletName
	err := c.call(c.node, "loadwallet", nil, name)
	switch classifyLoad(err) {
	case loadOK:
		c.logger.Info().Msg("Wallet loaded")
		return WalletLoaded, nil
	case loadAlreadyLoaded:
		c.logger.Debug().Msg("Wallet already loaded")
		return WalletAlreadyLoaded, nil
	case loadNotFound:
	default:
		return 0, connOrState(err)
	}

	c.logger.Info().Msg("Wallet not found, creating")
	err = c.call(c.node, "createwallet", nil, name)
	switch classifyLoad(err) {
	case loadOK, loadAlreadyLoaded:
	default:
		return 0, connOrState(err)
	}

	// createwallet loads the wallet; a second load confirms it.
	err = c.call(c.node, "loadwallet", nil, name)
	switch classifyLoad(err) {
	case loadOK, loadAlreadyLoaded:
		c.logger.Info().Msg("Wallet created")
		return WalletCreated, nil
	default:
		return 0, connOrState(err)
	}
}

// connOrState keeps connection failures distinct from wallet-state errors.
func connOrState(err error) error {
	if errors.Is(err, ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrWalletState, err)
}
