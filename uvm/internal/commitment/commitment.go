package commitment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	ssz "github.com/NilFoundation/fastssz"
	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/contracts"
	"github.com/btccom/UnitedBitcoin/uvm/internal/db"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
)

var logger = logging.NewLogger("commitment")

var (
	ErrNoSnapshot         = errors.New("no snapshot retained at height")
	ErrAlreadyCurrent     = errors.New("height is already current")
	ErrHeightNotAscending = errors.New("committed height must be above the current one")
)

var currentKey = []byte("current")

const snapshotSize = 40 + 3*common.HashSize

// Snapshot is the height index entry: the state root and the trie roots it was computed from.
type Snapshot struct {
	Root      types.StateRoot `json:"root"`
	Contracts common.Hash     `json:"contractsRoot"`
	Names     common.Hash     `json:"namesRoot"`
	Events    common.Hash     `json:"eventsRoot"`
}

func (s *Snapshot) Roots() contracts.Roots {
	return contracts.Roots{Contracts: s.Contracts, Names: s.Names, Events: s.Events}
}

func (s *Snapshot) MarshalSSZ() ([]byte, error) {
	buf, err := s.Root.MarshalSSZTo(make([]byte, 0, snapshotSize))
	if err != nil {
		return nil, err
	}
	buf = append(buf, s.Contracts[:]...)
	buf = append(buf, s.Names[:]...)
	return append(buf, s.Events[:]...), nil
}

func (s *Snapshot) UnmarshalSSZ(buf []byte) error {
	if len(buf) != snapshotSize {
		return ssz.ErrSize
	}
	rootSize := s.Root.SizeSSZ()
	if err := s.Root.UnmarshalSSZ(buf[:rootSize]); err != nil {
		return err
	}
	buf = buf[rootSize:]
	copy(s.Contracts[:], buf[:common.HashSize])
	copy(s.Names[:], buf[common.HashSize:2*common.HashSize])
	copy(s.Events[:], buf[2*common.HashSize:])
	return nil
}

func (s *Snapshot) MarshalUvm() ([]byte, error) {
	return s.MarshalSSZ()
}

func (s *Snapshot) UnmarshalUvm(buf []byte) error {
	return s.UnmarshalSSZ(buf)
}

// StateHash is the commitment to a contract store. Events are not part of it.
func StateHash(roots contracts.Roots) common.Hash {
	if roots.Contracts.Empty() && roots.Names.Empty() {
		return common.EmptyHash
	}
	return common.PoseidonHash(slices.Concat(roots.Contracts.Bytes(), roots.Names.Bytes()))
}

func genesis() *Snapshot {
	return &Snapshot{Root: types.StateRoot{Height: 0, Hash: common.EmptyHash}}
}

// Commitment maintains the height index of state roots and the pointer to the current one.
type Commitment struct {
	mu sync.RWMutex
	db db.DB
}

// New opens the index, writing the genesis entry into an empty database.
func New(ctx context.Context, database db.DB) (*Commitment, error) {
	c := &Commitment{db: database}

	tx, err := database.CreateRwTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	exists, err := tx.Exists(db.CurrentStateTable, currentKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return c, nil
	}
	if err := writeSnapshot(tx, genesis()); err != nil {
		return nil, err
	}
	if err := db.WriteEncodable(tx, db.CurrentStateTable, currentKey, &genesis().Root); err != nil {
		return nil, err
	}
	if err := db.WriteVersionInfo(tx, &db.VersionInfo{Version: db.SchemeVersion}); err != nil {
		return nil, err
	}
	return c, tx.Commit()
}

func writeSnapshot(tx db.RwTx, s *Snapshot) error {
	return db.WriteEncodable(tx, db.StateRootByHeightTable, db.HeightKey(s.Root.Height), s)
}

func readSnapshot(tx db.RoTx, height uint64) (*Snapshot, error) {
	s, err := db.ReadDecodable[*Snapshot](tx, db.StateRootByHeightTable, db.HeightKey(height))
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w %d", ErrNoSnapshot, height)
	}
	return s, err
}

func readCurrent(tx db.RoTx) (*Snapshot, error) {
	root, err := db.ReadDecodable[*types.StateRoot](tx, db.CurrentStateTable, currentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read current state pointer: %w", err)
	}
	return readSnapshot(tx, root.Height)
}

// Commit records roots as the state at height and moves the current pointer there.
// The entry becomes visible when tx is committed.
func (c *Commitment) Commit(ctx context.Context, tx db.RwTx, height uint64, roots contracts.Roots) (types.StateRoot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := readCurrent(tx)
	if err != nil {
		return types.StateRoot{}, err
	}
	if height <= cur.Root.Height {
		return types.StateRoot{}, fmt.Errorf("%w: %d <= %d", ErrHeightNotAscending, height, cur.Root.Height)
	}

	s := &Snapshot{
		Root:      types.StateRoot{Height: height, Hash: StateHash(roots)},
		Contracts: roots.Contracts,
		Names:     roots.Names,
		Events:    roots.Events,
	}
	if err := writeSnapshot(tx, s); err != nil {
		return types.StateRoot{}, err
	}
	if err := db.WriteEncodable(tx, db.CurrentStateTable, currentKey, &s.Root); err != nil {
		return types.StateRoot{}, err
	}
	logger.Debug().
		Uint64(logging.FieldBlockNumber, height).
		Stringer(logging.FieldStateRoot, s.Root.Hash).
		Msg("State root committed")
	return s.Root, nil
}

// Current returns the current index entry as seen by tx.
func (c *Commitment) Current(tx db.RoTx) (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return readCurrent(tx)
}

func (c *Commitment) CurrentRoot(ctx context.Context) (types.StateRoot, error) {
	tx, err := c.db.CreateRoTx(ctx)
	if err != nil {
		return types.StateRoot{}, err
	}
	defer tx.Rollback()

	s, err := c.Current(tx)
	if err != nil {
		return types.StateRoot{}, err
	}
	return s.Root, nil
}

// SnapshotAt returns the index entry at height.
func (c *Commitment) SnapshotAt(tx db.RoTx, height uint64) (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return readSnapshot(tx, height)
}

func (c *Commitment) RootAt(ctx context.Context, height uint64) (types.StateRoot, error) {
	tx, err := c.db.CreateRoTx(ctx)
	if err != nil {
		return types.StateRoot{}, err
	}
	defer tx.Rollback()

	s, err := c.SnapshotAt(tx, height)
	if err != nil {
		return types.StateRoot{}, err
	}
	return s.Root, nil
}

// IsCurrentAheadOfBestBlock reports whether the contract state is ahead of the ledger tip, which
// means it must be rolled back to bestHeight before new blocks are applied.
func (c *Commitment) IsCurrentAheadOfBestBlock(ctx context.Context, bestHeight uint64) (bool, error) {
	root, err := c.CurrentRoot(ctx)
	if err != nil {
		return false, err
	}
	return root.Height > bestHeight, nil
}

// findHeight returns the highest retained height below the current one whose state hash is hash.
// A hash is shared by every height at which no contract changed.
func findHeight(tx db.RoTx, cur *Snapshot, hash common.Hash) (uint64, error) {
	if hash == cur.Root.Hash {
		return 0, fmt.Errorf("%w: state root %s", ErrAlreadyCurrent, hash)
	}
	notFound := fmt.Errorf("%w: state root %s", ErrNoSnapshot, hash)
	if cur.Root.Height == 0 {
		return 0, notFound
	}

	iter, err := tx.Range(db.StateRootByHeightTable, db.HeightKey(0), db.HeightKey(cur.Root.Height-1))
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var height uint64
	found := false
	for iter.HasNext() {
		_, data, err := iter.Next()
		if err != nil {
			return 0, err
		}
		var s Snapshot
		if err := s.UnmarshalUvm(data); err != nil {
			return 0, err
		}
		if s.Root.Hash == hash {
			height, found = s.Root.Height, true
		}
	}
	if !found {
		return 0, notFound
	}
	return height, nil
}

// HeightOf returns the height RollbackToHash would move to.
func (c *Commitment) HeightOf(ctx context.Context, hash common.Hash) (uint64, error) {
	tx, err := c.db.CreateRoTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	c.mu.RLock()
	defer c.mu.RUnlock()
	cur, err := readCurrent(tx)
	if err != nil {
		return 0, err
	}
	return findHeight(tx, cur, hash)
}

// RollbackTo makes the retained snapshot at height current and forgets every entry above it.
// Trie nodes are content-addressed, so the snapshot is exact.
func (c *Commitment) RollbackTo(ctx context.Context, height uint64) (types.StateRoot, error) {
	return c.rollback(ctx, func(db.RoTx, *Snapshot) (uint64, error) {
		return height, nil
	})
}

// RollbackToHash rolls back to the most recent snapshot below the current one with the given state hash.
func (c *Commitment) RollbackToHash(ctx context.Context, hash common.Hash) (types.StateRoot, error) {
	return c.rollback(ctx, func(tx db.RoTx, cur *Snapshot) (uint64, error) {
		return findHeight(tx, cur, hash)
	})
}

func (c *Commitment) rollback(
	ctx context.Context, target func(tx db.RoTx, cur *Snapshot) (uint64, error),
) (types.StateRoot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.CreateRwTx(ctx)
	if err != nil {
		return types.StateRoot{}, err
	}
	defer tx.Rollback()

	cur, err := readCurrent(tx)
	if err != nil {
		return types.StateRoot{}, err
	}
	height, err := target(tx, cur)
	if err != nil {
		return types.StateRoot{}, err
	}
	switch {
	case height == cur.Root.Height:
		return types.StateRoot{}, fmt.Errorf("%w: %d", ErrAlreadyCurrent, height)
	case height > cur.Root.Height:
		return types.StateRoot{}, fmt.Errorf("%w %d: current is %d", ErrNoSnapshot, height, cur.Root.Height)
	}
	snapshot, err := readSnapshot(tx, height)
	if err != nil {
		return types.StateRoot{}, err
	}

	iter, err := tx.Range(db.StateRootByHeightTable, db.HeightKey(height+1), nil)
	if err != nil {
		return types.StateRoot{}, err
	}
	var keys [][]byte
	for iter.HasNext() {
		key, _, err := iter.Next()
		if err != nil {
			iter.Close()
			return types.StateRoot{}, err
		}
		keys = append(keys, key)
	}
	iter.Close()
	for _, key := range keys {
		if err := tx.Delete(db.StateRootByHeightTable, key); err != nil {
			return types.StateRoot{}, err
		}
	}

	if err := db.WriteEncodable(tx, db.CurrentStateTable, currentKey, &snapshot.Root); err != nil {
		return types.StateRoot{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.StateRoot{}, err
	}
	logger.Info().
		Uint64(logging.FieldBlockNumber, height).
		Uint64("from", cur.Root.Height).
		Int("dropped", len(keys)).
		Stringer(logging.FieldStateRoot, snapshot.Root.Hash).
		Msg("Rolled back contract state")
	return snapshot.Root, nil
}
