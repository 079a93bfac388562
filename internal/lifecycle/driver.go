// Package lifecycle drives a built transaction through signing, broadcast,
// verification and confirmation against a node wallet.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/btcflow/internal/log"
	"github.com/Klingon-tech/btcflow/pkg/types"
)

// Lifecycle errors.
var (
	ErrInvalidSpec        = errors.New("invalid transaction spec")
	ErrCreateFailed       = errors.New("create raw transaction failed")
	ErrSigningIncomplete  = errors.New("signing incomplete")
	ErrBroadcastRejected  = errors.New("broadcast rejected")
	errIncompleteByWallet = errors.New("wallet could not sign every input")
)

// State is a lifecycle state name.
type State string

const (
	StateBuilt           State = "built"
	StateSigned          State = "signed"
	StateBroadcast       State = "broadcast"
	StateConfirmed       State = "confirmed"
	StateSignFailed      State = "sign_failed"
	StateBroadcastFailed State = "broadcast_failed"
)

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateSignFailed || s == StateBroadcastFailed
}

const (
	eventSign          = "sign"
	eventSignFail      = "sign_fail"
	eventBroadcast     = "broadcast"
	eventBroadcastFail = "broadcast_fail"
	eventConfirm       = "confirm"
)

// Node is the subset of the node client the driver needs.
type Node interface {
	CreateRawTransaction(inputs []types.Outpoint, outputs map[string]btcutil.Amount) (string, error)
	SignRawTransactionWithWallet(rawHex string) (*types.SignedTx, error)
	SendRawTransaction(signedHex string) (string, error)
	DecodeRawTransaction(txHex string) (*types.DecodedTx, error)
	GenerateToAddress(n int64, addr string) ([]string, error)
	NewAddress(addrType types.AddressType) (string, error)
}

// Transition is handed to the Recorder each time a state is entered.
type Transition struct {
	ID    string
	State State
	TxID  string
	Spec  *types.UnsignedTx
	Err   error
	At    time.Time
}

// Recorder persists transitions. Record failures are logged, never fatal.
type Recorder interface {
	Record(ctx context.Context, t Transition) error
}

// Options configures a Driver.
type Options struct {
	// Params is used to derive the expected recipient script. Defaults to regtest.
	Params *chaincfg.Params
	// Recorder, if set, receives every entered state.
	Recorder Recorder
	// SkipConfirm disables mining the confirmation block.
	SkipConfirm bool
}

// Result is everything observed while executing one transaction.
type Result struct {
	ID           string
	State        State
	UnsignedHex  string
	Signed       *types.SignedTx
	TxID         string
	Decoded      *types.DecodedTx
	Verification *Verification
	BlockHashes  []string
}

// Driver executes unsigned transaction specs. It holds no per-transaction
// state; every Execute call gets its own state machine.
type Driver struct {
	node     Node
	params   *chaincfg.Params
	recorder Recorder
	confirm  bool
	logger   zerolog.Logger
}

// New creates a driver bound to node.
func New(node Node, opts Options) *Driver {
	initPrometheusMetrics()

	params := opts.Params
	if params == nil {
		params = &chaincfg.RegressionNetParams
	}
	return &Driver{
		node:     node,
		params:   params,
		recorder: opts.Recorder,
		confirm:  !opts.SkipConfirm,
		logger:   log.Lifecycle,
	}
}

// execution is the per-call state shared with fsm callbacks.
type execution struct {
	res    *Result
	spec   *types.UnsignedTx
	logger zerolog.Logger
}

func (d *Driver) newMachine(x *execution) *fsm.FSM {
	return fsm.NewFSM(
		string(StateBuilt),
		fsm.Events{
			{Name: eventSign, Src: []string{string(StateBuilt)}, Dst: string(StateSigned)},
			{Name: eventSignFail, Src: []string{string(StateBuilt)}, Dst: string(StateSignFailed)},
			{Name: eventBroadcast, Src: []string{string(StateSigned)}, Dst: string(StateBroadcast)},
			{Name: eventBroadcastFail, Src: []string{string(StateSigned)}, Dst: string(StateBroadcastFailed)},
			{Name: eventConfirm, Src: []string{string(StateBroadcast)}, Dst: string(StateConfirmed)},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				var cause error
				if len(e.Args) > 0 {
					cause, _ = e.Args[0].(error)
				}
				d.enter(ctx, x, State(e.Dst), cause)
			},
		},
	)
}

// enter updates the result and fans the new state out to logs, metrics
// and the recorder.
func (d *Driver) enter(ctx context.Context, x *execution, state State, cause error) {
	x.res.State = state
	prometheusLifecycleStates.WithLabelValues(string(state)).Inc()

	ev := x.logger.Info()
	if cause != nil {
		ev = x.logger.Warn().Err(cause)
	}
	ev.Str("state", string(state)).Str("txid", x.res.TxID).Msg("Lifecycle transition")

	if d.recorder == nil {
		return
	}
	err := d.recorder.Record(ctx, Transition{
		ID:    x.res.ID,
		State: state,
		TxID:  x.res.TxID,
		Spec:  x.spec,
		Err:   cause,
		At:    time.Now(),
	})
	if err != nil {
		prometheusLifecycleRecordErrors.Inc()
		x.logger.Warn().Err(err).Str("state", string(state)).Msg("Failed to journal transition")
	}
}

func fire(ctx context.Context, machine *fsm.FSM, event string, cause error) error {
	var err error
	if cause != nil {
		err = machine.Event(ctx, event, cause)
	} else {
		err = machine.Event(ctx, event)
	}
	if err != nil {
		return fmt.Errorf("state machine %s: %w", event, err)
	}
	return nil
}

// Execute creates, signs, broadcasts, verifies and confirms spec. recipient
// is the address whose output verification looks for. The returned Result
// is non-nil whenever spec was valid, including on failure.
func (d *Driver) Execute(ctx context.Context, spec *types.UnsignedTx, recipient string) (*Result, error) {
	if spec == nil || len(spec.Inputs) == 0 || len(spec.Outputs) == 0 {
		return nil, ErrInvalidSpec
	}
	if _, ok := spec.Outputs[recipient]; !ok {
		return nil, fmt.Errorf("%w: recipient %s not among outputs", ErrInvalidSpec, recipient)
	}

	start := time.Now()
	defer func() {
		prometheusLifecycleExecuteTime.Observe(time.Since(start).Seconds())
	}()

	res := &Result{ID: newExecutionID(), State: StateBuilt}
	x := &execution{
		res:    res,
		spec:   spec,
		logger: d.logger.With().Str("exec", res.ID[len(res.ID)-8:]).Logger(),
	}
	machine := d.newMachine(x)

	rawHex, err := d.node.CreateRawTransaction(spec.Inputs, spec.Outputs)
	if err != nil {
		d.enter(ctx, x, StateBuilt, err)
		return res, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	res.UnsignedHex = rawHex
	d.enter(ctx, x, StateBuilt, nil)

	// Sign.
	signed, err := d.node.SignRawTransactionWithWallet(rawHex)
	if err == nil && !signed.Complete {
		err = errIncompleteByWallet
	}
	res.Signed = signed
	if err != nil {
		if ferr := fire(ctx, machine, eventSignFail, err); ferr != nil {
			return res, ferr
		}
		return res, fmt.Errorf("%w: %w", ErrSigningIncomplete, err)
	}
	if err := fire(ctx, machine, eventSign, nil); err != nil {
		return res, err
	}

	// Broadcast.
	txid, err := d.node.SendRawTransaction(signed.Hex)
	if err != nil {
		if ferr := fire(ctx, machine, eventBroadcastFail, err); ferr != nil {
			return res, ferr
		}
		return res, fmt.Errorf("%w: %w", ErrBroadcastRejected, err)
	}
	res.TxID = txid
	if err := fire(ctx, machine, eventBroadcast, nil); err != nil {
		return res, err
	}

	// Decode and verify. Findings are reported, never rolled back.
	decoded, err := d.node.DecodeRawTransaction(signed.Hex)
	if err != nil {
		x.logger.Warn().Err(err).Str("txid", txid).Msg("Decode after broadcast failed")
		res.Verification = &Verification{Warnings: []string{fmt.Sprintf("decode failed: %v", err)}}
	} else {
		res.Decoded = decoded
		res.Verification = Verify(spec, recipient, signed.Hex, txid, decoded, d.params)
	}
	for _, w := range res.Verification.Warnings {
		prometheusLifecycleVerifyWarn.Inc()
		x.logger.Warn().Str("txid", txid).Msg(w)
	}

	if !d.confirm {
		return res, nil
	}

	// Confirm. Best effort: the transaction is already in the mempool.
	hashes, err := d.mineOne()
	if err != nil {
		x.logger.Warn().Err(err).Str("txid", txid).Msg("Confirmation block not mined")
		return res, nil
	}
	res.BlockHashes = hashes
	if err := fire(ctx, machine, eventConfirm, nil); err != nil {
		return res, err
	}
	return res, nil
}

// mineOne mines a block to a fresh legacy throwaway address.
func (d *Driver) mineOne() ([]string, error) {
	addr, err := d.node.NewAddress(types.Legacy)
	if err != nil {
		return nil, fmt.Errorf("throwaway address: %w", err)
	}
	hashes, err := d.node.GenerateToAddress(1, addr)
	if err != nil {
		return nil, fmt.Errorf("generatetoaddress: %w", err)
	}
	return hashes, nil
}

// newExecutionID returns a time-ordered id so journal keys sort by start time.
func newExecutionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
