// Package types defines the wallet-facing data shared between the builder,
// the lifecycle driver and the node client.
package types

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
)

// AddressType is the script type requested from the node wallet.
type AddressType string

const (
	Legacy     AddressType = "legacy"
	P2SHSegwit AddressType = "p2sh-segwit"
)

// Valid reports whether t is a supported address type.
func (t AddressType) Valid() bool {
	return t == Legacy || t == P2SHSegwit
}

// Outpoint references a previous transaction output.
type Outpoint struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Vout)
}

// UTXO is a snapshot of an unspent output as reported by listunspent.
// It is stale as soon as a transaction spending it is broadcast.
type UTXO struct {
	Outpoint
	Address   string         `json:"address"`
	Amount    btcutil.Amount `json:"amount"`
	Spendable bool           `json:"spendable"`
	// Confirmations is 0 for mempool outputs.
	Confirmations int64 `json:"confirmations"`
}

// UnsignedTx is the input to createrawtransaction: the outpoints being spent
// and the destination amounts. InputValue, Fee, Change and Forfeited describe
// how the outputs were derived and are not sent to the node.
type UnsignedTx struct {
	Inputs  []Outpoint                `json:"inputs"`
	Outputs map[string]btcutil.Amount `json:"outputs"`

	InputValue btcutil.Amount `json:"input_value"`
	Fee        btcutil.Amount `json:"fee"`
	Change     btcutil.Amount `json:"change"`
	Forfeited  btcutil.Amount `json:"forfeited"`
}

// OutputTotal returns the sum of all output amounts.
func (u *UnsignedTx) OutputTotal() btcutil.Amount {
	var total btcutil.Amount
	for _, amt := range u.Outputs {
		total += amt
	}
	return total
}

// EffectiveFee is what the miner collects: inputs minus outputs.
func (u *UnsignedTx) EffectiveFee() btcutil.Amount {
	return u.InputValue - u.OutputTotal()
}

// SortedAddresses returns the output addresses in lexical order.
func (u *UnsignedTx) SortedAddresses() []string {
	addrs := make([]string, 0, len(u.Outputs))
	for a := range u.Outputs {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs
}

// SignedTx is the wallet's answer to signrawtransactionwithwallet.
type SignedTx struct {
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

// DecodedInput is one vin entry of decoderawtransaction.
type DecodedInput struct {
	Outpoint
	ScriptSigAsm string   `json:"script_sig_asm"`
	ScriptSigHex string   `json:"script_sig_hex"`
	Witness      []string `json:"witness,omitempty"`
}

// HasUnlockingData reports whether the input carries a scriptSig or witness.
func (in DecodedInput) HasUnlockingData() bool {
	return in.ScriptSigHex != "" || len(in.Witness) > 0
}

// DecodedOutput is one vout entry of decoderawtransaction.
type DecodedOutput struct {
	N          uint32         `json:"n"`
	Value      btcutil.Amount `json:"value"`
	Address    string         `json:"address"`
	ScriptAsm  string         `json:"script_asm"`
	ScriptHex  string         `json:"script_hex"`
	ScriptType string         `json:"script_type"`
}

// DecodedTx is the node's view of a serialized transaction.
type DecodedTx struct {
	TxID    string          `json:"txid"`
	Hash    string          `json:"hash"`
	Inputs  []DecodedInput  `json:"inputs"`
	Outputs []DecodedOutput `json:"outputs"`
}

// OutputTo returns the first output paying addr.
func (d *DecodedTx) OutputTo(addr string) (DecodedOutput, bool) {
	for _, out := range d.Outputs {
		if out.Address == addr {
			return out, true
		}
	}
	return DecodedOutput{}, false
}
