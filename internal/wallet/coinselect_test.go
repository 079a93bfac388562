package wallet

import (
	"errors"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/Klingon-tech/btcflow/pkg/types"
)

func makeUTXOs(addr string, values ...btcutil.Amount) []types.UTXO {
	utxos := make([]types.UTXO, len(values))
	for i, v := range values {
		utxos[i] = types.UTXO{
			Outpoint:  types.Outpoint{TxID: fmt.Sprintf("%064x", i+1), Vout: uint32(i)},
			Address:   addr,
			Amount:    v,
			Spendable: true,
		}
	}
	return utxos
}

func TestLargestAvailable_IgnoresAddress(t *testing.T) {
	utxos := append(makeUTXOs("addrA", 1000, 2000), makeUTXOs("addrB", 9000)...)
	u, ok := LargestAvailable{}.Select(utxos)
	if !ok {
		t.Fatal("Select returned no utxo")
	}
	if u.Amount != 9000 || u.Address != "addrB" {
		t.Errorf("selected %s %d, want addrB 9000", u.Address, u.Amount)
	}
}

func TestLargestAvailable_SkipsUnspendable(t *testing.T) {
	utxos := makeUTXOs("addrA", 1000, 5000)
	utxos[1].Spendable = false
	u, ok := LargestAvailable{}.Select(utxos)
	if !ok {
		t.Fatal("Select returned no utxo")
	}
	if u.Amount != 1000 {
		t.Errorf("amount = %d, want 1000", u.Amount)
	}
}

func TestMatchingAddress_OnlySource(t *testing.T) {
	utxos := append(makeUTXOs("addrA", 50_000), makeUTXOs("addrB", 3000, 7000)...)
	u, ok := MatchingAddress{Address: "addrB"}.Select(utxos)
	if !ok {
		t.Fatal("Select returned no utxo")
	}
	if u.Address != "addrB" {
		t.Errorf("address = %s, want addrB", u.Address)
	}
	if u.Amount != 7000 {
		t.Errorf("amount = %d, want 7000 (largest of source)", u.Amount)
	}
}

func TestMatchingAddress_NoMatch(t *testing.T) {
	utxos := makeUTXOs("addrA", 1000)
	if _, ok := (MatchingAddress{Address: "addrZ"}).Select(utxos); ok {
		t.Error("Select matched a utxo of another address")
	}
}

func TestSelectCoin_Empty(t *testing.T) {
	_, err := SelectCoin(nil, LargestAvailable{}, 1)
	if !errors.Is(err, ErrNoSpendableInput) {
		t.Errorf("err = %v, want ErrNoSpendableInput", err)
	}
}

func TestSelectCoin_Insufficient(t *testing.T) {
	utxos := makeUTXOs("addrA", 1000)
	_, err := SelectCoin(utxos, LargestAvailable{}, 1001)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestSelectCoin_ExactTarget(t *testing.T) {
	utxos := makeUTXOs("addrA", 1000)
	u, err := SelectCoin(utxos, LargestAvailable{}, 1000)
	if err != nil {
		t.Fatalf("SelectCoin: %v", err)
	}
	if u.Amount != 1000 {
		t.Errorf("amount = %d, want 1000", u.Amount)
	}
}

func TestSelectCoin_SingleInputOnly(t *testing.T) {
	// 600 + 600 would cover 1000 but only one input may be used.
	utxos := makeUTXOs("addrA", 600, 600)
	_, err := SelectCoin(utxos, LargestAvailable{}, 1000)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
}
