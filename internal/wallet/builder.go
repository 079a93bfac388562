package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/Klingon-tech/btcflow/internal/log"
	"github.com/Klingon-tech/btcflow/pkg/types"
)

// Builder errors.
var (
	ErrInvalidRequest = errors.New("invalid build request")
	ErrDustChange     = errors.New("change at or below dust threshold")
)

// ChangePolicy decides what happens to change that is too small to output.
type ChangePolicy int

const (
	// ForfeitDust drops dust change and lets it go to the miner fee.
	ForfeitDust ChangePolicy = iota
	// RequireChange refuses to build a transaction without a change output.
	RequireChange
)

func (p ChangePolicy) String() string {
	switch p {
	case ForfeitDust:
		return "forfeit-dust"
	case RequireChange:
		return "require-change"
	default:
		return fmt.Sprintf("ChangePolicy(%d)", int(p))
	}
}

// BuildRequest describes a single-input payment.
type BuildRequest struct {
	Strategy      SelectionStrategy
	Destination   string
	Amount        btcutil.Amount
	Fee           btcutil.Amount
	ChangeAddress string
	ChangePolicy  ChangePolicy
}

func (r *BuildRequest) validate() error {
	switch {
	case r.Strategy == nil:
		return fmt.Errorf("%w: no selection strategy", ErrInvalidRequest)
	case r.Destination == "":
		return fmt.Errorf("%w: empty destination", ErrInvalidRequest)
	case r.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidRequest, FormatAmount(r.Amount))
	case r.Fee < 0:
		return fmt.Errorf("%w: negative fee %s", ErrInvalidRequest, FormatAmount(r.Fee))
	case r.ChangeAddress == "":
		return fmt.Errorf("%w: empty change address", ErrInvalidRequest)
	}
	return nil
}

// Build selects one input from utxos and lays out the outputs:
// the destination always receives Amount, the change address receives
// input - Amount - Fee only when that exceeds DustThreshold.
// It does not talk to the node.
func Build(utxos []types.UTXO, req BuildRequest) (*types.UnsignedTx, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	u, err := SelectCoin(utxos, req.Strategy, req.Amount+req.Fee)
	if err != nil {
		return nil, err
	}

	change := u.Amount - req.Amount - req.Fee
	log.Wallet.Debug().
		Str("input", u.Outpoint.String()).
		Str("value", FormatAmount(u.Amount)).
		Str("change", FormatAmount(change)).
		Msg("Selected input")

	spec := &types.UnsignedTx{
		Inputs:     []types.Outpoint{u.Outpoint},
		Outputs:    map[string]btcutil.Amount{req.Destination: req.Amount},
		InputValue: u.Amount,
		Fee:        req.Fee,
	}

	if change > DustThreshold {
		spec.Outputs[req.ChangeAddress] += change
		spec.Change = change
	} else {
		if req.ChangePolicy == RequireChange {
			return nil, fmt.Errorf("%w: %s left after paying %s + fee %s from %s",
				ErrDustChange, FormatAmount(change), FormatAmount(req.Amount), FormatAmount(req.Fee), u.Outpoint)
		}
		spec.Forfeited = change
	}

	return spec, nil
}
