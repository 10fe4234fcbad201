package utxo

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/ledger"
)

// MemorySet is an in-memory unspent output set.
type MemorySet struct {
	mu     sync.RWMutex
	utxos  map[ledger.Outpoint]ledger.Utxo
	undo   map[uint64]*UndoRecord
	height uint64
}

var _ ledger.Ledger = (*MemorySet)(nil)

func NewMemorySet(genesis ...ledger.Utxo) *MemorySet {
	s := &MemorySet{
		utxos: make(map[ledger.Outpoint]ledger.Utxo, len(genesis)),
		undo:  make(map[uint64]*UndoRecord),
	}
	for _, utxo := range genesis {
		s.utxos[utxo.Outpoint] = utxo
	}
	return s
}

func (s *MemorySet) GetUtxo(_ context.Context, outpoint ledger.Outpoint) (*ledger.Utxo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memEntries(s.utxos).get(outpoint)
}

func (s *MemorySet) BestHeight(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, nil
}

func (s *MemorySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.utxos)
}

func (s *MemorySet) Connect(_ context.Context, height uint64, effects []ledger.Effects) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if height != s.height+1 {
		return fmt.Errorf("%w: connecting %d on top of %d", ErrHeightMismatch, height, s.height)
	}

	// work on a copy so a failed block leaves the set untouched
	next := maps.Clone(s.utxos)
	undo, err := connect(memEntries(next), effects)
	if err != nil {
		return err
	}
	s.utxos = next
	s.undo[height] = undo
	s.height = height

	logger.Debug().
		Uint64(logging.FieldBlockNumber, height).
		Int("spent", len(undo.Spent)).
		Int("created", len(undo.Created)).
		Msg("Block connected")
	return nil
}

func (s *MemorySet) Disconnect(_ context.Context, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if height != s.height || height == 0 {
		return fmt.Errorf("%w: disconnecting %d with tip %d", ErrHeightMismatch, height, s.height)
	}
	undo, ok := s.undo[height]
	if !ok {
		return fmt.Errorf("%w at %d", ErrUndoMissing, height)
	}
	if err := disconnect(memEntries(s.utxos), undo); err != nil {
		return err
	}
	delete(s.undo, height)
	s.height = height - 1

	logger.Debug().Uint64(logging.FieldBlockNumber, height).Msg("Block disconnected")
	return nil
}

type memEntries map[ledger.Outpoint]ledger.Utxo

func (m memEntries) get(outpoint ledger.Outpoint) (*ledger.Utxo, error) {
	utxo, ok := m[outpoint]
	if !ok {
		return nil, ledger.NewUtxoNotFoundError(outpoint)
	}
	return &utxo, nil
}

func (m memEntries) put(utxo *ledger.Utxo) error {
	m[utxo.Outpoint] = *utxo
	return nil
}

func (m memEntries) del(outpoint ledger.Outpoint) error {
	delete(m, outpoint)
	return nil
}
