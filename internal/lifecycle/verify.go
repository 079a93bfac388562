package lifecycle

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/btcflow/pkg/types"
)

// Verification holds the post-broadcast checks. Any failed check adds a
// warning; none of them undo the broadcast.
type Verification struct {
	RecipientFound  bool           `json:"recipient_found"`
	RecipientValue  btcutil.Amount `json:"recipient_value"`
	RecipientClass  string         `json:"recipient_class"`
	RecipientScript bool           `json:"recipient_script_matches"`
	InputsUnlocked  bool           `json:"inputs_unlocked"`
	InputsMatch     bool           `json:"inputs_match"`
	OutputsMatch    bool           `json:"outputs_match"`
	LocalTxID       string         `json:"local_txid"`
	TxIDConsistent  bool           `json:"txid_consistent"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// OK reports whether every check passed.
func (v *Verification) OK() bool {
	return len(v.Warnings) == 0
}

func (v *Verification) warnf(format string, args ...interface{}) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// Verify compares the node's decoding of a broadcast transaction with the
// spec it was built from and with a local parse of signedHex.
func Verify(spec *types.UnsignedTx, recipient, signedHex, broadcastTxID string, decoded *types.DecodedTx, params *chaincfg.Params) *Verification {
	v := &Verification{}
	verifyRecipient(v, spec, recipient, decoded, params)

	for _, in := range decoded.Inputs {
		if in.HasUnlockingData() {
			v.InputsUnlocked = true
			break
		}
	}
	if !v.InputsUnlocked {
		v.warnf("no input carries a scriptSig or witness")
	}

	v.InputsMatch = sameInputs(spec.Inputs, decoded.Inputs)
	if !v.InputsMatch {
		v.warnf("decoded inputs differ from the built inputs")
	}
	v.OutputsMatch = sameOutputs(spec.Outputs, decoded.Outputs)
	if !v.OutputsMatch {
		v.warnf("decoded outputs differ from the built outputs")
	}

	local, err := localTxID(signedHex)
	if err != nil {
		v.warnf("parse signed transaction: %v", err)
		return v
	}
	v.LocalTxID = local
	v.TxIDConsistent = local == decoded.TxID && local == broadcastTxID
	if !v.TxIDConsistent {
		v.warnf("txid mismatch: local %s, decoded %s, broadcast %s", local, decoded.TxID, broadcastTxID)
	}
	return v
}

func verifyRecipient(v *Verification, spec *types.UnsignedTx, recipient string, decoded *types.DecodedTx, params *chaincfg.Params) {
	out, ok := decoded.OutputTo(recipient)
	if !ok {
		v.warnf("no output pays recipient %s", recipient)
		return
	}
	v.RecipientFound = true
	v.RecipientValue = out.Value
	if want := spec.Outputs[recipient]; out.Value != want {
		v.warnf("recipient output is %s, built %s", out.Value, want)
	}

	script, err := hex.DecodeString(out.ScriptHex)
	if err != nil {
		v.warnf("recipient script hex: %v", err)
		return
	}
	v.RecipientClass = txscript.GetScriptClass(script).String()

	addr, err := btcutil.DecodeAddress(recipient, params)
	if err != nil {
		v.warnf("decode recipient address: %v", err)
		return
	}
	expected, err := txscript.PayToAddrScript(addr)
	if err != nil {
		v.warnf("recipient script for %s: %v", recipient, err)
		return
	}
	v.RecipientScript = bytes.Equal(script, expected)
	if !v.RecipientScript {
		v.warnf("recipient locking script does not pay %s", recipient)
	}
}

func sameInputs(built []types.Outpoint, decoded []types.DecodedInput) bool {
	if len(built) != len(decoded) {
		return false
	}
	want := make(map[types.Outpoint]int, len(built))
	for _, op := range built {
		want[op]++
	}
	for _, in := range decoded {
		if want[in.Outpoint] == 0 {
			return false
		}
		want[in.Outpoint]--
	}
	return true
}

func sameOutputs(built map[string]btcutil.Amount, decoded []types.DecodedOutput) bool {
	if len(built) != len(decoded) {
		return false
	}
	got := make(map[string]btcutil.Amount, len(decoded))
	for _, out := range decoded {
		got[out.Address] += out.Value
	}
	for addr, amt := range built {
		if got[addr] != amt {
			return false
		}
	}
	return len(got) == len(built)
}

// localTxID parses signedHex and returns its txid (witness excluded).
func localTxID(signedHex string) (string, error) {
	raw, err := hex.DecodeString(signedHex)
	if err != nil {
		return "", err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}
