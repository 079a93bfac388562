// Package runner composes the wallet builder, lifecycle driver and address
// ledger into the end-to-end scenarios btcflow runs against a node.
package runner

import (
	"context"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/btcflow/config"
	"github.com/Klingon-tech/btcflow/internal/journal"
	"github.com/Klingon-tech/btcflow/internal/ledger"
	"github.com/Klingon-tech/btcflow/internal/lifecycle"
	"github.com/Klingon-tech/btcflow/internal/log"
	"github.com/Klingon-tech/btcflow/internal/rpcclient"
	"github.com/Klingon-tech/btcflow/internal/wallet"
	"github.com/Klingon-tech/btcflow/pkg/types"
)

// MaturityBlocks is how many blocks bootstrap mines so one coinbase matures.
const MaturityBlocks = 101

// FundingFeeMargin is headroom for the fee the node wallet adds to
// sendtoaddress on top of the funding amount.
const FundingFeeMargin btcutil.Amount = 100_000

// Node is everything the scenarios need from the node client.
type Node interface {
	lifecycle.Node
	LoadOrCreateWallet() (rpcclient.WalletStatus, error)
	SendToAddress(addr string, amount btcutil.Amount) (string, error)
	ListUnspent() ([]types.UTXO, error)
	GetBalance() (btcutil.Amount, error)
}

// Amounts are the scenario amounts in satoshis.
type Amounts struct {
	Fee          btcutil.Amount
	Fund         btcutil.Amount
	LegacySend   btcutil.Amount
	Spend        btcutil.Amount
	SegwitFirst  btcutil.Amount
	SegwitSecond btcutil.Amount
}

// AmountsFromConfig parses the configured decimal strings.
func AmountsFromConfig(c config.AmountsConfig) (Amounts, error) {
	var a Amounts
	fields := []struct {
		key string
		in  string
		out *btcutil.Amount
	}{
		{"fee", c.Fee, &a.Fee},
		{"fund", c.Fund, &a.Fund},
		{"legacy_send", c.LegacySend, &a.LegacySend},
		{"spend", c.Spend, &a.Spend},
		{"segwit_first", c.SegwitFirst, &a.SegwitFirst},
		{"segwit_second", c.SegwitSecond, &a.SegwitSecond},
	}
	for _, f := range fields {
		v, err := wallet.ParseAmount(f.in)
		if err != nil {
			return Amounts{}, fmt.Errorf("amount.%s: %w", f.key, err)
		}
		*f.out = v
	}
	return a, nil
}

// Options configures a Runner.
type Options struct {
	Amounts Amounts
	// Bootstrap mines MaturityBlocks when the balance cannot cover funding.
	Bootstrap bool
	// Journal backs History; nil disables it.
	Journal *journal.Journal
	// Out receives the human-readable report.
	Out io.Writer
}

// Runner executes scenarios. Each scenario halts at its first error.
type Runner struct {
	node      Node
	driver    *lifecycle.Driver
	ledger    *ledger.Ledger
	journal   *journal.Journal
	amounts   Amounts
	bootstrap bool
	out       io.Writer
	logger    zerolog.Logger
}

// New creates a runner.
func New(node Node, driver *lifecycle.Driver, l *ledger.Ledger, opts Options) *Runner {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		node:      node,
		driver:    driver,
		ledger:    l,
		journal:   opts.Journal,
		amounts:   opts.Amounts,
		bootstrap: opts.Bootstrap,
		out:       out,
		logger:    log.Runner,
	}
}

// Report summarizes one scenario.
type Report struct {
	Scenario  string
	Wallet    rpcclient.WalletStatus
	Triple    ledger.Triple
	FundTxID  string
	Transfers []*lifecycle.Result
	Balance   btcutil.Amount
}

// Legacy allocates legacy addresses A, B, C, funds A, sends the configured
// amount to B from the largest wallet coin with change to A, and persists
// the triple.
func (r *Runner) Legacy(ctx context.Context) (*Report, error) {
	rep := &Report{Scenario: "legacy"}
	if err := r.prepare(ctx, rep, types.Legacy); err != nil {
		return rep, err
	}

	// The block confirming the funding is mined to A itself.
	txid, err := r.fund(rep.Triple.A, rep.Triple.A)
	if err != nil {
		return rep, err
	}
	rep.FundTxID = txid

	res, err := r.transfer(ctx, wallet.BuildRequest{
		Strategy:      wallet.LargestAvailable{},
		Destination:   rep.Triple.B,
		Amount:        r.amounts.LegacySend,
		Fee:           r.amounts.Fee,
		ChangeAddress: rep.Triple.A,
	}, false)
	if res != nil {
		rep.Transfers = append(rep.Transfers, res)
	}
	if err != nil {
		return rep, fmt.Errorf("A to B: %w", err)
	}

	return rep, r.finish(rep)
}

// Spend loads the persisted triple and sends from B to C with change back
// to B. Dust change is an error here.
func (r *Runner) Spend(ctx context.Context) (*Report, error) {
	rep := &Report{Scenario: "spend"}
	triple, err := r.ledger.Load()
	if err != nil {
		return rep, err
	}
	rep.Triple = triple
	r.printTriple(triple)

	res, err := r.transfer(ctx, wallet.BuildRequest{
		Strategy:      wallet.MatchingAddress{Address: triple.B},
		Destination:   triple.C,
		Amount:        r.amounts.Spend,
		Fee:           r.amounts.Fee,
		ChangeAddress: triple.B,
		ChangePolicy:  wallet.RequireChange,
	}, true)
	if res != nil {
		rep.Transfers = append(rep.Transfers, res)
	}
	if err != nil {
		return rep, fmt.Errorf("B to C: %w", err)
	}

	return rep, r.finish(rep)
}

// Segwit repeats the flow with p2sh-segwit addresses: fund A', send A' to
// B', then B' to C', each spending only the source address's coins.
func (r *Runner) Segwit(ctx context.Context) (*Report, error) {
	rep := &Report{Scenario: "segwit"}
	if err := r.prepare(ctx, rep, types.P2SHSegwit); err != nil {
		return rep, err
	}
	t := rep.Triple

	miner, err := r.node.NewAddress(types.Legacy)
	if err != nil {
		return rep, fmt.Errorf("miner address: %w", err)
	}
	txid, err := r.fund(t.A, miner)
	if err != nil {
		return rep, err
	}
	rep.FundTxID = txid

	hops := []struct {
		name     string
		from, to string
		amount   btcutil.Amount
		scripts  bool
	}{
		{"A' to B'", t.A, t.B, r.amounts.SegwitFirst, false},
		{"B' to C'", t.B, t.C, r.amounts.SegwitSecond, true},
	}
	for _, hop := range hops {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, err := r.transfer(ctx, wallet.BuildRequest{
			Strategy:      wallet.MatchingAddress{Address: hop.from},
			Destination:   hop.to,
			Amount:        hop.amount,
			Fee:           r.amounts.Fee,
			ChangeAddress: hop.from,
		}, hop.scripts)
		if res != nil {
			rep.Transfers = append(rep.Transfers, res)
		}
		if err != nil {
			return rep, fmt.Errorf("%s: %w", hop.name, err)
		}
	}

	return rep, r.finish(rep)
}

// Balance prints and returns the wallet balance.
func (r *Runner) Balance(ctx context.Context) (btcutil.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	bal, err := r.node.GetBalance()
	if err != nil {
		return 0, fmt.Errorf("getbalance: %w", err)
	}
	fmt.Fprintf(r.out, "Wallet balance: %s BTC\n", wallet.FormatAmount(bal))
	return bal, nil
}

// ClearHistory deletes every journal entry and reports how many went.
func (r *Runner) ClearHistory(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if r.journal == nil {
		return 0, fmt.Errorf("journal is disabled")
	}
	entries, err := r.journal.List(0)
	if err != nil {
		return 0, err
	}
	if err := r.journal.Prune(); err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	fmt.Fprintf(r.out, "Removed %d journaled transactions.\n", len(entries))
	return len(entries), nil
}

// History prints the most recent journal entries, oldest first.
func (r *Runner) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.journal == nil {
		return nil, fmt.Errorf("journal is disabled")
	}
	entries, err := r.journal.List(limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.out, "No journaled transactions.")
		return entries, nil
	}
	for _, e := range entries {
		txid := e.TxID
		if txid == "" {
			txid = "-"
		}
		fmt.Fprintf(r.out, "%s  %-16s  %s  fee %s",
			e.UpdatedAt.Format("2006-01-02 15:04:05"), e.State, txid, wallet.FormatAmount(e.Fee))
		if e.Error != "" {
			fmt.Fprintf(r.out, "  error: %s", e.Error)
		}
		fmt.Fprintln(r.out)
	}
	return entries, nil
}

// prepare loads the wallet, tops it up if allowed, and allocates a triple.
func (r *Runner) prepare(ctx context.Context, rep *Report, addrType types.AddressType) error {
	status, err := r.node.LoadOrCreateWallet()
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	rep.Wallet = status
	fmt.Fprintf(r.out, "Wallet %s\n", status)

	if err := r.ensureFunds(r.amounts.Fund); err != nil {
		return err
	}

	triple, err := r.ledger.AllocateTriple(ctx, addrType)
	if err != nil {
		return err
	}
	rep.Triple = triple
	r.printTriple(triple)
	return nil
}

// ensureFunds mines MaturityBlocks when bootstrap is enabled and the
// wallet cannot pay need plus the wallet's own fee.
func (r *Runner) ensureFunds(need btcutil.Amount) error {
	if !r.bootstrap {
		return nil
	}
	bal, err := r.node.GetBalance()
	if err != nil {
		return fmt.Errorf("getbalance: %w", err)
	}
	if bal >= need+FundingFeeMargin {
		return nil
	}

	addr, err := r.node.NewAddress(types.Legacy)
	if err != nil {
		return fmt.Errorf("bootstrap address: %w", err)
	}
	r.logger.Info().
		Str("balance", wallet.FormatAmount(bal)).
		Int("blocks", MaturityBlocks).
		Msg("Wallet underfunded, mining maturing blocks")
	if _, err := r.node.GenerateToAddress(MaturityBlocks, addr); err != nil {
		return fmt.Errorf("bootstrap mining: %w", err)
	}
	return nil
}

// fund pays the funding amount to addr and mines one block to mineTo.
func (r *Runner) fund(addr, mineTo string) (string, error) {
	txid, err := r.node.SendToAddress(addr, r.amounts.Fund)
	if err != nil {
		return "", fmt.Errorf("fund %s: %w", addr, err)
	}
	fmt.Fprintf(r.out, "Funded %s with %s BTC (txid %s)\n", addr, wallet.FormatAmount(r.amounts.Fund), txid)

	if _, err := r.node.GenerateToAddress(1, mineTo); err != nil {
		return "", fmt.Errorf("mine funding block: %w", err)
	}
	return txid, nil
}

// transfer snapshots the wallet's coins, builds and executes one
// transaction. The result is returned even when execution fails.
func (r *Runner) transfer(ctx context.Context, req wallet.BuildRequest, showUnlocking bool) (*lifecycle.Result, error) {
	utxos, err := r.node.ListUnspent()
	if err != nil {
		return nil, fmt.Errorf("listunspent: %w", err)
	}
	spec, err := wallet.Build(utxos, req)
	if err != nil {
		return nil, err
	}
	r.logger.Info().
		Str("strategy", req.Strategy.String()).
		Str("input", spec.Inputs[0].String()).
		Str("to", req.Destination).
		Str("amount", wallet.FormatAmount(req.Amount)).
		Str("change", wallet.FormatAmount(spec.Change)).
		Str("forfeited", wallet.FormatAmount(spec.Forfeited)).
		Msg("Built transaction")
	fmt.Fprintf(r.out, "Spending %s (%s BTC)\n", spec.Inputs[0], wallet.FormatAmount(spec.InputValue))
	for _, addr := range spec.SortedAddresses() {
		fmt.Fprintf(r.out, "  pay %s BTC to %s\n", wallet.FormatAmount(spec.Outputs[addr]), addr)
	}

	res, err := r.driver.Execute(ctx, spec, req.Destination)
	if res != nil {
		r.printResult(res, req.Destination, showUnlocking)
	}
	return res, err
}

// finish reports the balance and persists the triple.
func (r *Runner) finish(rep *Report) error {
	bal, err := r.node.GetBalance()
	if err != nil {
		return fmt.Errorf("getbalance: %w", err)
	}
	rep.Balance = bal
	fmt.Fprintf(r.out, "Final wallet balance: %s BTC\n", wallet.FormatAmount(bal))

	utxos, err := r.node.ListUnspent()
	if err != nil {
		return fmt.Errorf("listunspent: %w", err)
	}
	byAddr := wallet.BalancesByAddress(utxos)
	for i, addr := range rep.Triple.Addresses() {
		b := byAddr[addr]
		fmt.Fprintf(r.out, "  %c %s: %s confirmed, %s unconfirmed\n",
			'A'+i, addr, wallet.FormatAmount(b.Confirmed), wallet.FormatAmount(b.Unconfirmed))
	}

	if err := r.ledger.Persist(rep.Triple); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Addresses saved to %s\n", r.ledger.Path())
	return nil
}

func (r *Runner) printTriple(t ledger.Triple) {
	fmt.Fprintf(r.out, "Address A: %s\nAddress B: %s\nAddress C: %s\n", t.A, t.B, t.C)
}

func (r *Runner) printResult(res *lifecycle.Result, recipient string, showUnlocking bool) {
	fmt.Fprintf(r.out, "Transaction %s: %s\n", res.State, orDash(res.TxID))
	if res.Decoded == nil {
		return
	}
	if showUnlocking {
		for _, in := range res.Decoded.Inputs {
			fmt.Fprintf(r.out, "  scriptSig asm: %s\n  scriptSig hex: %s\n", in.ScriptSigAsm, in.ScriptSigHex)
			for i, w := range in.Witness {
				fmt.Fprintf(r.out, "  witness[%d]: %s\n", i, w)
			}
		}
	}
	if out, ok := res.Decoded.OutputTo(recipient); ok {
		fmt.Fprintf(r.out, "  locking script for %s (%s): %s\n  locking script hex: %s\n",
			recipient, out.ScriptType, out.ScriptAsm, out.ScriptHex)
	}
	if v := res.Verification; v != nil && !v.OK() {
		for _, w := range v.Warnings {
			fmt.Fprintf(r.out, "  warning: %s\n", w)
		}
	}
	for _, h := range res.BlockHashes {
		fmt.Fprintf(r.out, "  mined block %s\n", h)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
