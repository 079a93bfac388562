// Package ledger allocates address triples from the node wallet and keeps
// the most recent one in a small text file between runs.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/btcflow/internal/log"
	"github.com/Klingon-tech/btcflow/pkg/types"
)

// Ledger errors.
var (
	ErrMissingLedger   = errors.New("address ledger not found")
	ErrMalformedLedger = errors.New("address ledger malformed")
)

// AddressSource hands out fresh wallet addresses.
type AddressSource interface {
	NewAddress(addrType types.AddressType) (string, error)
}

// Triple is the (A, B, C) address set one scenario works with. Type is
// known only for freshly allocated triples; the file does not store it.
type Triple struct {
	Type types.AddressType
	A    string
	B    string
	C    string
}

// Addresses returns A, B and C in file order.
func (t Triple) Addresses() [3]string {
	return [3]string{t.A, t.B, t.C}
}

// Ledger persists a Triple at a fixed path.
type Ledger struct {
	path   string
	src    AddressSource
	logger zerolog.Logger
}

// New creates a ledger backed by path. src may be nil when only Load and
// Persist are used.
func New(path string, src AddressSource) *Ledger {
	return &Ledger{
		path:   path,
		src:    src,
		logger: log.Ledger.With().Str("path", path).Logger(),
	}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// AllocateTriple requests three new addresses of addrType. Uniqueness is
// left to the wallet.
func (l *Ledger) AllocateTriple(ctx context.Context, addrType types.AddressType) (Triple, error) {
	if l.src == nil {
		return Triple{}, errors.New("ledger has no address source")
	}
	if !addrType.Valid() {
		return Triple{}, fmt.Errorf("unsupported address type %q", addrType)
	}

	var addrs [3]string
	for i := range addrs {
		if err := ctx.Err(); err != nil {
			return Triple{}, err
		}
		addr, err := l.src.NewAddress(addrType)
		if err != nil {
			return Triple{}, fmt.Errorf("allocate address %d: %w", i, err)
		}
		addrs[i] = addr
	}

	t := Triple{Type: addrType, A: addrs[0], B: addrs[1], C: addrs[2]}
	l.logger.Info().
		Str("type", string(addrType)).
		Str("A", t.A).
		Str("B", t.B).
		Str("C", t.C).
		Msg("Allocated address triple")
	return t, nil
}

// Persist overwrites the ledger with t as three newline-separated lines.
func (l *Ledger) Persist(t Triple) error {
	for i, addr := range t.Addresses() {
		if addr == "" || strings.ContainsAny(addr, "\r\n") {
			return fmt.Errorf("persist: address %d is not a single non-empty line", i)
		}
	}
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("persist: create dir: %w", err)
		}
	}

	content := t.A + "\n" + t.B + "\n" + t.C
	if err := os.WriteFile(l.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	l.logger.Debug().Msg("Address ledger written")
	return nil
}

// Load reads the triple written by the last Persist.
func (l *Ledger) Load() (Triple, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return Triple{}, fmt.Errorf("%w: %s", ErrMissingLedger, l.path)
	}
	if err != nil {
		return Triple{}, fmt.Errorf("load: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\r\n"), "\n")
	if len(lines) != 3 {
		return Triple{}, fmt.Errorf("%w: %d lines, want 3", ErrMalformedLedger, len(lines))
	}
	var addrs [3]string
	for i, line := range lines {
		addrs[i] = strings.TrimSpace(line)
		if addrs[i] == "" {
			return Triple{}, fmt.Errorf("%w: line %d is empty", ErrMalformedLedger, i+1)
		}
	}
	return Triple{A: addrs[0], B: addrs[1], C: addrs[2]}, nil
}
