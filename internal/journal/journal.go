// Package journal persists one record per executed transaction, updated on
// every lifecycle transition, so past runs can be listed later.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/btcflow/internal/lifecycle"
	"github.com/Klingon-tech/btcflow/internal/log"
	"github.com/Klingon-tech/btcflow/internal/storage"
	"github.com/Klingon-tech/btcflow/pkg/types"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("journal entry not found")

var entryPrefix = []byte("journal/entry/")

// StateChange is one entered state.
type StateChange struct {
	State lifecycle.State `json:"state"`
	At    time.Time       `json:"at"`
	Error string          `json:"error,omitempty"`
}

// Entry is the persisted view of one Execute call.
type Entry struct {
	ID        string                    `json:"id"`
	State     lifecycle.State           `json:"state"`
	TxID      string                    `json:"txid,omitempty"`
	Inputs    []types.Outpoint          `json:"inputs"`
	Outputs   map[string]btcutil.Amount `json:"outputs"`
	Fee       btcutil.Amount            `json:"fee"`
	Error     string                    `json:"error,omitempty"`
	History   []StateChange             `json:"history"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// Journal stores entries in a storage.DB namespace. It implements
// lifecycle.Recorder.
type Journal struct {
	db     *storage.PrefixDB
	logger zerolog.Logger
}

var _ lifecycle.Recorder = (*Journal)(nil)

// New creates a journal over db. The journal does not own db.
func New(db storage.DB) *Journal {
	return &Journal{
		db:     storage.NewPrefixDB(db, entryPrefix),
		logger: log.Journal,
	}
}

// Record merges t into the entry for t.ID, creating it on first sight.
func (j *Journal) Record(ctx context.Context, t lifecycle.Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.ID == "" {
		return errors.New("journal: transition without id")
	}

	e, err := j.Get(t.ID)
	if errors.Is(err, ErrNotFound) {
		e = &Entry{ID: t.ID, CreatedAt: t.At}
	} else if err != nil {
		return err
	}

	change := StateChange{State: t.State, At: t.At}
	if t.Err != nil {
		change.Error = t.Err.Error()
		e.Error = change.Error
	}
	e.History = append(e.History, change)
	e.State = t.State
	e.UpdatedAt = t.At
	if t.TxID != "" {
		e.TxID = t.TxID
	}
	if t.Spec != nil {
		e.Inputs = t.Spec.Inputs
		e.Outputs = t.Spec.Outputs
		e.Fee = t.Spec.EffectiveFee()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", t.ID, err)
	}
	if err := j.db.Put([]byte(t.ID), data); err != nil {
		return fmt.Errorf("journal: write %s: %w", t.ID, err)
	}
	j.logger.Debug().Str("id", t.ID).Str("state", string(t.State)).Msg("Journaled transition")
	return nil
}

// Get returns the entry with the given id.
func (j *Journal) Get(id string) (*Entry, error) {
	data, err := j.db.Get([]byte(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("journal: read %s: %w", id, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("journal: decode %s: %w", id, err)
	}
	return &e, nil
}

// List returns all entries, oldest first. limit <= 0 means no limit; with a
// limit the most recent entries are kept.
func (j *Journal) List(limit int) ([]Entry, error) {
	var entries []Entry
	err := j.db.ForEach(nil, func(key, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			j.logger.Warn().Err(err).Str("id", string(key)).Msg("Skipping undecodable journal entry")
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].CreatedAt.Before(entries[b].CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Prune deletes every entry.
func (j *Journal) Prune() error {
	return j.db.DeleteAll()
}
