package execution

import (
	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
)

// journalEntry is a modification entry in the state change journal that can be
// reverted on demand.
type journalEntry interface {
	// revert undoes the changes introduced by this journal entry.
	revert(*ExecutionState)
}

// journal contains the list of state modifications applied since the last state
// commit. These are tracked to be able to be reverted in the case of an execution
// error.
type journal struct {
	entries []journalEntry
}

func newJournal() *journal {
	return &journal{}
}

// append inserts a new modification entry to the end of the change journal.
func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

// revert undoes a batch of journalled modifications
func (j *journal) revert(es *ExecutionState, snapshot int) {
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i].revert(es)
	}
	j.entries = j.entries[:snapshot]
}

func (j *journal) length() int {
	return len(j.entries)
}

type (
	createContractChange struct {
		address types.Address
	}

	balanceChange struct {
		address types.Address
		prev    types.Value
	}

	storageChange struct {
		address types.Address
		key     string
		prev    storageSlot
		hadPrev bool
	}

	// recordChange keeps the whole record header. Entries after it are reverted first,
	// so restoring the copy is exact.
	recordChange struct {
		address types.Address
		prev    *types.ContractRecord
	}

	nameChange struct {
		name string
	}

	governanceChange struct {
		prev *types.Address
	}

	eventChange struct {
		txId common.Hash
	}
)

func (ch createContractChange) revert(es *ExecutionState) {
	delete(es.contracts, ch.address)
}

func (ch balanceChange) revert(es *ExecutionState) {
	if cs, ok := es.contracts[ch.address]; ok {
		cs.Record.Balance = ch.prev
	}
}

func (ch storageChange) revert(es *ExecutionState) {
	cs, ok := es.contracts[ch.address]
	if !ok {
		return
	}
	if ch.hadPrev {
		cs.dirty.ReplaceOrInsert(ch.prev)
	} else {
		cs.dirty.Delete(storageSlot{key: ch.key})
	}
}

func (ch recordChange) revert(es *ExecutionState) {
	if cs, ok := es.contracts[ch.address]; ok {
		cs.Record = ch.prev
	}
}

func (ch nameChange) revert(es *ExecutionState) {
	delete(es.names, ch.name)
}

func (ch governanceChange) revert(es *ExecutionState) {
	es.governance = ch.prev
}

func (ch eventChange) revert(es *ExecutionState) {
	events := es.events[ch.txId]
	if len(events) == 1 {
		delete(es.events, ch.txId)
		es.eventOrder = es.eventOrder[:len(es.eventOrder)-1]
	} else {
		es.events[ch.txId] = events[:len(events)-1]
	}
}
