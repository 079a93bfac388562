package wallet

import (
	"github.com/btcsuite/btcd/btcutil"

	"github.com/Klingon-tech/btcflow/pkg/types"
)

// Balance tracks UTXO balances for an address.
type Balance struct {
	Confirmed   btcutil.Amount
	Unconfirmed btcutil.Amount
}

// Total returns confirmed plus unconfirmed.
func (b Balance) Total() btcutil.Amount {
	return b.Confirmed + b.Unconfirmed
}

// BalancesByAddress sums a listunspent snapshot per address. Unspendable
// outputs are ignored.
func BalancesByAddress(utxos []types.UTXO) map[string]Balance {
	out := make(map[string]Balance)
	for _, u := range utxos {
		if !u.Spendable {
			continue
		}
		b := out[u.Address]
		if u.Confirmations > 0 {
			b.Confirmed += u.Amount
		} else {
			b.Unconfirmed += u.Amount
		}
		out[u.Address] = b
	}
	return out
}
