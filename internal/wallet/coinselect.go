package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/Klingon-tech/btcflow/pkg/types"
)

// Coin selection errors.
var (
	ErrNoSpendableInput  = errors.New("no spendable input")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// SelectionStrategy picks the single UTXO a transaction will spend.
type SelectionStrategy interface {
	// Select returns the chosen UTXO, or false if no candidate qualifies.
	Select(utxos []types.UTXO) (types.UTXO, bool)
	String() string
}

// LargestAvailable spends the largest spendable UTXO in the wallet,
// whichever address holds it.
type LargestAvailable struct{}

// Select implements SelectionStrategy.
func (LargestAvailable) Select(utxos []types.UTXO) (types.UTXO, bool) {
	return largest(utxos, func(types.UTXO) bool { return true })
}

func (LargestAvailable) String() string { return "largest-available" }

// MatchingAddress spends the largest spendable UTXO held by Address.
type MatchingAddress struct {
	Address string
}

// Select implements SelectionStrategy.
func (m MatchingAddress) Select(utxos []types.UTXO) (types.UTXO, bool) {
	return largest(utxos, func(u types.UTXO) bool { return u.Address == m.Address })
}

func (m MatchingAddress) String() string { return "matching-address(" + m.Address + ")" }

// largest returns the highest-value spendable UTXO accepted by keep.
// Ties keep the first one in node order.
func largest(utxos []types.UTXO, keep func(types.UTXO) bool) (types.UTXO, bool) {
	var (
		best  types.UTXO
		found bool
	)
	for _, u := range utxos {
		if !u.Spendable || u.Amount <= 0 || !keep(u) {
			continue
		}
		if !found || u.Amount > best.Amount {
			best = u
			found = true
		}
	}
	return best, found
}

// SelectCoin applies strategy to utxos and checks that the chosen input can
// cover target. Only one input is ever selected.
func SelectCoin(utxos []types.UTXO, strategy SelectionStrategy, target btcutil.Amount) (types.UTXO, error) {
	u, ok := strategy.Select(utxos)
	if !ok {
		return types.UTXO{}, fmt.Errorf("%w: strategy %s matched none of %d utxos", ErrNoSpendableInput, strategy, len(utxos))
	}
	if u.Amount < target {
		return types.UTXO{}, fmt.Errorf("%w: utxo %s has %s, need %s",
			ErrInsufficientFunds, u.Outpoint, FormatAmount(u.Amount), FormatAmount(target))
	}
	return u, nil
}
