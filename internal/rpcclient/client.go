// Package rpcclient is the service handle for a Bitcoin Core node and one of
// its wallets, built on btcd's JSON-RPC client in HTTP POST mode.
package rpcclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/btcflow/internal/log"
	"github.com/Klingon-tech/btcflow/pkg/types"
)

// Client errors.
var (
	ErrConnection   = errors.New("node unreachable")
	ErrWalletState  = errors.New("wallet state error")
	ErrWrongNetwork = errors.New("node is on a different network")
)

// dialTimeout bounds the reachability check made before every request.
const dialTimeout = 3 * time.Second

// Config holds connection parameters.
type Config struct {
	Host   string // host:port of the node RPC listener
	User   string
	Pass   string
	Wallet string
	Params *chaincfg.Params
}

// Client talks to the node (chain RPCs) and to the named wallet endpoint
// (/wallet/<name>). Calls are synchronous and never retried here.
//
// btcd's POST mode retries a failed HTTP round trip up to ten times with
// growing backoff. Every request is therefore preceded by a plain TCP dial
// so an unreachable node fails at once with ErrConnection.
type Client struct {
	node   *rpcclient.Client
	wallet *rpcclient.Client

	addr       string
	walletName string
	params     *chaincfg.Params
	logger     zerolog.Logger
}

// New creates a client. No request is made until the first call.
func New(cfg Config) (*Client, error) {
	node, err := rpcclient.New(connConfig(cfg, cfg.Host), nil)
	if err != nil {
		return nil, fmt.Errorf("node client: %w", err)
	}
	wallet, err := rpcclient.New(connConfig(cfg, cfg.Host+"/wallet/"+cfg.Wallet), nil)
	if err != nil {
		node.Shutdown()
		return nil, fmt.Errorf("wallet client: %w", err)
	}
	params := cfg.Params
	if params == nil {
		params = &chaincfg.RegressionNetParams
	}
	return &Client{
		node:       node,
		wallet:     wallet,
		addr:       cfg.Host,
		walletName: cfg.Wallet,
		params:     params,
		logger:     log.RPC.With().Str("wallet", cfg.Wallet).Logger(),
	}, nil
}

func connConfig(cfg Config, host string) *rpcclient.ConnConfig {
	return &rpcclient.ConnConfig{
		Host:         host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
}

// Shutdown releases both underlying clients.
func (c *Client) Shutdown() {
	c.wallet.Shutdown()
	c.node.Shutdown()
	c.wallet.WaitForShutdown()
	c.node.WaitForShutdown()
}

// reachable dials the node's RPC listener and hangs up.
func (c *Client) reachable(method string) error {
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", method, ErrConnection, err)
	}
	return conn.Close()
}

// Ping checks that the node answers and runs the expected chain.
func (c *Client) Ping() (int64, error) {
	if err := c.reachable("getblockcount"); err != nil {
		return 0, err
	}
	height, err := c.node.GetBlockCount()
	if err != nil {
		return 0, wrap("getblockcount", err)
	}

	var info chainInfo
	if err := c.call(c.node, "getblockchaininfo", &info); err != nil {
		return 0, err
	}
	if want := coreChainName(c.params); info.Chain != want {
		return 0, fmt.Errorf("%w: node reports %q, configured %q", ErrWrongNetwork, info.Chain, want)
	}

	c.logger.Debug().Int64("height", height).Str("chain", info.Chain).Msg("Node reachable")
	return height, nil
}

type chainInfo struct {
	Chain  string `json:"chain"`
	Blocks int64  `json:"blocks"`
}

// coreChainName maps btcd network names to what getblockchaininfo reports.
func coreChainName(params *chaincfg.Params) string {
	switch params.Name {
	case chaincfg.MainNetParams.Name:
		return "main"
	case chaincfg.TestNet3Params.Name:
		return "test"
	default:
		return params.Name
	}
}

// NewAddress asks the wallet for a fresh address of the given type.
func (c *Client) NewAddress(addrType types.AddressType) (string, error) {
	if !addrType.Valid() {
		return "", fmt.Errorf("unsupported address type %q", addrType)
	}
	var addr string
	if err := c.call(c.wallet, "getnewaddress", &addr, "", string(addrType)); err != nil {
		return "", err
	}
	return addr, nil
}

// SendToAddress pays amount to addr from the wallet and returns the txid.
func (c *Client) SendToAddress(addr string, amount btcutil.Amount) (string, error) {
	var txid string
	if err := c.call(c.wallet, "sendtoaddress", &txid, addr, btcParam(amount)); err != nil {
		return "", err
	}
	return txid, nil
}

// ListUnspent returns the wallet's unspent outputs.
func (c *Client) ListUnspent() ([]types.UTXO, error) {
	defer log.Benchmark("listunspent")()
	if err := c.reachable("listunspent"); err != nil {
		return nil, err
	}
	results, err := c.wallet.ListUnspent()
	if err != nil {
		return nil, wrap("listunspent", err)
	}
	utxos := make([]types.UTXO, 0, len(results))
	for _, r := range results {
		amt, err := btcutil.NewAmount(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("listunspent: utxo %s:%d amount: %w", r.TxID, r.Vout, err)
		}
		utxos = append(utxos, types.UTXO{
			Outpoint:  types.Outpoint{TxID: r.TxID, Vout: r.Vout},
			Address:   r.Address,
			Amount:    amt,
			Spendable: r.Spendable,

			Confirmations: r.Confirmations,
		})
	}
	return utxos, nil
}

// CreateRawTransaction returns the unsigned transaction hex.
func (c *Client) CreateRawTransaction(inputs []types.Outpoint, outputs map[string]btcutil.Amount) (string, error) {
	amounts := make(map[string]json.Number, len(outputs))
	for addr, amt := range outputs {
		amounts[addr] = btcParam(amt)
	}
	var rawHex string
	if err := c.call(c.wallet, "createrawtransaction", &rawHex, inputs, amounts); err != nil {
		return "", err
	}
	return rawHex, nil
}

// SignRawTransactionWithWallet signs rawHex with the wallet's keys.
func (c *Client) SignRawTransactionWithWallet(rawHex string) (*types.SignedTx, error) {
	var res btcjson.SignRawTransactionWithWalletResult
	if err := c.call(c.wallet, "signrawtransactionwithwallet", &res, rawHex); err != nil {
		return nil, err
	}
	for _, e := range res.Errors {
		c.logger.Warn().
			Str("txid", e.TxID).
			Uint32("vout", e.Vout).
			Str("error", e.Error).
			Msg("Input not signed")
	}
	return &types.SignedTx{Hex: res.Hex, Complete: res.Complete}, nil
}

// SendRawTransaction broadcasts signedHex and returns its txid.
func (c *Client) SendRawTransaction(signedHex string) (string, error) {
	var txid string
	if err := c.call(c.node, "sendrawtransaction", &txid, signedHex); err != nil {
		return "", err
	}
	return txid, nil
}

// DecodeRawTransaction returns the node's decoding of txHex.
func (c *Client) DecodeRawTransaction(txHex string) (*types.DecodedTx, error) {
	var res btcjson.TxRawResult
	if err := c.call(c.node, "decoderawtransaction", &res, txHex); err != nil {
		return nil, err
	}
	return convertDecoded(&res)
}

// GenerateToAddress mines n blocks paying addr and returns their hashes.
func (c *Client) GenerateToAddress(n int64, addr string) ([]string, error) {
	var hashes []string
	if err := c.call(c.node, "generatetoaddress", &hashes, n, addr); err != nil {
		return nil, err
	}
	return hashes, nil
}

// GetBalance returns the wallet's trusted balance.
func (c *Client) GetBalance() (btcutil.Amount, error) {
	var btc float64
	if err := c.call(c.wallet, "getbalance", &btc); err != nil {
		return 0, err
	}
	return btcutil.NewAmount(btc)
}

// call issues a raw request and decodes the result into out (if non-nil).
func (c *Client) call(rc *rpcclient.Client, method string, out interface{}, params ...interface{}) error {
	defer log.Benchmark(method)()

	if err := c.reachable(method); err != nil {
		return err
	}
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("%s: marshal param: %w", method, err)
		}
		raw = append(raw, b)
	}

	res, err := rc.RawRequest(method, raw)
	if err != nil {
		return wrap(method, err)
	}
	if out != nil && len(res) > 0 {
		if err := json.Unmarshal(res, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// wrap keeps node-side *btcjson.RPCError values reachable through
// errors.As. Any other btcd error means no JSON-RPC reply came back (a
// dropped connection, an HTTP error page, a shut down client) and is
// tagged ErrConnection.
func wrap(method string, err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %w", method, err)
	}
	return fmt.Errorf("%s: %w: %w", method, ErrConnection, err)
}

// btcParam renders amt as an exact 8-decimal JSON number.
func btcParam(amt btcutil.Amount) json.Number {
	return json.Number(strconv.FormatFloat(amt.ToBTC(), 'f', 8, 64))
}

func convertDecoded(res *btcjson.TxRawResult) (*types.DecodedTx, error) {
	tx := &types.DecodedTx{
		TxID:    res.Txid,
		Hash:    res.Hash,
		Inputs:  make([]types.DecodedInput, 0, len(res.Vin)),
		Outputs: make([]types.DecodedOutput, 0, len(res.Vout)),
	}
	for _, vin := range res.Vin {
		in := types.DecodedInput{
			Outpoint: types.Outpoint{TxID: vin.Txid, Vout: vin.Vout},
			Witness:  vin.Witness,
		}
		if vin.ScriptSig != nil {
			in.ScriptSigAsm = vin.ScriptSig.Asm
			in.ScriptSigHex = vin.ScriptSig.Hex
		}
		tx.Inputs = append(tx.Inputs, in)
	}
	for _, vout := range res.Vout {
		amt, err := btcutil.NewAmount(vout.Value)
		if err != nil {
			return nil, fmt.Errorf("decoderawtransaction: vout %d value: %w", vout.N, err)
		}
		addr := vout.ScriptPubKey.Address
		if addr == "" && len(vout.ScriptPubKey.Addresses) > 0 {
			addr = vout.ScriptPubKey.Addresses[0]
		}
		tx.Outputs = append(tx.Outputs, types.DecodedOutput{
			N:          vout.N,
			Value:      amt,
			Address:    addr,
			ScriptAsm:  vout.ScriptPubKey.Asm,
			ScriptHex:  vout.ScriptPubKey.Hex,
			ScriptType: vout.ScriptPubKey.Type,
		})
	}
	return tx, nil
}
