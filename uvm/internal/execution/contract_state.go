package execution

import (
	"errors"
	"fmt"

	"github.com/btccom/UnitedBitcoin/uvm/internal/contracts"
	"github.com/btccom/UnitedBitcoin/uvm/internal/db"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/google/btree"
)

const storageBTreeDegree = 16

// storageSlot is a pending write to a contract storage. Deleted slots mask the committed value.
type storageSlot struct {
	key     string
	value   types.StorageValue
	deleted bool
}

func storageSlotLess(a, b storageSlot) bool {
	return a.key < b.key
}

// ContractState is a contract loaded into an ExecutionState. Storage writes are kept
// in key order until Commit.
type ContractState struct {
	es      *ExecutionState
	Record  *types.ContractRecord
	storage *contracts.StorageTrie
	dirty   *btree.BTreeG[storageSlot]
}

func newContractState(es *ExecutionState, rec *types.ContractRecord) *ContractState {
	return &ContractState{
		es:      es,
		Record:  rec,
		storage: es.store.OpenStorage(rec.StorageRoot),
		dirty:   btree.NewG(storageBTreeDegree, storageSlotLess),
	}
}

func (cs *ContractState) Address() types.Address {
	return cs.Record.Address
}

// GetState reads key, pending writes first.
func (cs *ContractState) GetState(key string) (types.StorageValue, bool, error) {
	if slot, ok := cs.dirty.Get(storageSlot{key: key}); ok {
		return slot.value, !slot.deleted, nil
	}
	return contracts.ReadStorageValue(cs.storage, key)
}

func (cs *ContractState) SetState(key string, value types.StorageValue) {
	cs.setSlot(storageSlot{key: key, value: value})
}

func (cs *ContractState) DeleteState(key string) {
	cs.setSlot(storageSlot{key: key, deleted: true})
}

func (cs *ContractState) setSlot(slot storageSlot) {
	prev, hadPrev := cs.dirty.ReplaceOrInsert(slot)
	cs.es.journal.append(storageChange{
		address: cs.Address(),
		key:     slot.key,
		prev:    prev,
		hadPrev: hadPrev,
	})
}

func (cs *ContractState) setBalance(amount types.Value) {
	cs.es.journal.append(balanceChange{address: cs.Address(), prev: cs.Record.Balance})
	cs.Record.Balance = amount
}

func (cs *ContractState) AddBalance(amount types.Value) error {
	balance, err := cs.Record.Balance.AddOverflow(amount)
	if err != nil {
		return fmt.Errorf("balance overflow of %s: %w", cs.Address(), err)
	}
	logger.Trace().
		Stringer("address", cs.Address()).
		Msgf("Balance change: adding balance %s + %s = %s", cs.Record.Balance, amount, balance)
	cs.setBalance(balance)
	return nil
}

func (cs *ContractState) SubBalance(amount types.Value) error {
	balance, err := cs.Record.Balance.SubOverflow(amount)
	if err != nil {
		return fmt.Errorf("balance underflow of %s: %w", cs.Address(), err)
	}
	logger.Trace().
		Stringer("address", cs.Address()).
		Msgf("Balance change: withdrawing balance %s - %s = %s", cs.Record.Balance, amount, balance)
	cs.setBalance(balance)
	return nil
}

// SetInfo names the contract and bumps its version.
func (cs *ContractState) SetInfo(name, description string) {
	cs.es.journal.append(recordChange{address: cs.Address(), prev: cs.Record.Copy()})
	cs.Record.Name = name
	cs.Record.Description = description
	cs.Record.Version++
}

// commit writes pending storage into the storage trie and the record into the contract trie.
func (cs *ContractState) commit() error {
	var err error
	cs.dirty.Ascend(func(slot storageSlot) bool {
		if slot.deleted {
			if err = cs.storage.Delete(slot.key); errors.Is(err, db.ErrKeyNotFound) {
				err = nil
			}
		} else {
			err = contracts.WriteStorageValue(cs.storage, slot.key, slot.value)
		}
		return err == nil
	})
	if err != nil {
		return fmt.Errorf("failed to write storage of %s: %w", cs.Address(), err)
	}
	cs.dirty.Clear(false)
	cs.Record.StorageRoot = cs.storage.RootHash()
	return cs.es.store.PutContract(cs.Record)
}
