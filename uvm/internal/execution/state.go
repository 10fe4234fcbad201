package execution

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/contracts"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
)

var logger = logging.NewLogger("execution")

var ErrContractExists = errors.New("contract already exists")

type revision struct {
	id           int
	journalIndex int
}

// ExecutionState buffers the changes of a sequence of operations on top of a contract store.
// Nothing reaches the store before Commit.
type ExecutionState struct {
	store *contracts.Store

	contracts  map[types.Address]*ContractState
	names      map[string]types.Address
	governance *types.Address
	events     map[common.Hash]types.Events
	eventOrder []common.Hash

	// Journal of state modifications. This is the backbone of
	// Snapshot and RevertToSnapshot.
	journal        *journal
	validRevisions []revision
	nextRevisionId int
}

func NewExecutionState(store *contracts.Store) *ExecutionState {
	es := &ExecutionState{store: store}
	es.reset()
	return es
}

func (es *ExecutionState) reset() {
	es.contracts = make(map[types.Address]*ContractState)
	es.names = make(map[string]types.Address)
	es.governance = nil
	es.events = make(map[common.Hash]types.Events)
	es.eventOrder = nil
	es.journal = newJournal()
	es.validRevisions = es.validRevisions[:0]
}

func (es *ExecutionState) Store() *contracts.Store {
	return es.store
}

// GetContract loads a contract. Unknown addresses fail with ErrorNoSuchContract.
func (es *ExecutionState) GetContract(addr types.Address) (*ContractState, error) {
	if cs, ok := es.contracts[addr]; ok {
		return cs, nil
	}
	rec, err := es.store.GetContract(addr)
	if err != nil {
		return nil, err
	}
	cs := newContractState(es, rec)
	es.contracts[addr] = cs
	return cs, nil
}

func (es *ExecutionState) ContractExists(addr types.Address) (bool, error) {
	_, err := es.GetContract(addr)
	if types.IsErrorCode(err, types.ErrorNoSuchContract) {
		return false, nil
	}
	return err == nil, err
}

func (es *ExecutionState) CreateContract(rec *types.ContractRecord) (*ContractState, error) {
	exists, err := es.ContractExists(rec.Address)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrContractExists, rec.Address)
	}
	cs := newContractState(es, rec)
	es.contracts[rec.Address] = cs
	es.journal.append(createContractChange{address: rec.Address})
	return cs, nil
}

func (es *ExecutionState) AddressByName(name string) (types.Address, error) {
	if addr, ok := es.names[name]; ok {
		return addr, nil
	}
	return es.store.AddressByName(name)
}

// BindName registers a unique name for addr.
func (es *ExecutionState) BindName(name string, addr types.Address) error {
	if err := contracts.ValidateName(name); err != nil {
		return err
	}
	_, err := es.AddressByName(name)
	if err == nil {
		return types.NewVerboseError(types.ErrorContractNameTaken, name)
	}
	if !types.IsErrorCode(err, types.ErrorNoSuchContract) {
		return err
	}
	es.names[name] = addr
	es.journal.append(nameChange{name: name})
	return nil
}

func (es *ExecutionState) GovernanceAddress() (types.Address, bool, error) {
	if es.governance != nil {
		return *es.governance, true, nil
	}
	return es.store.GovernanceAddress()
}

func (es *ExecutionState) SetGovernanceAddress(addr types.Address) {
	es.journal.append(governanceChange{prev: es.governance})
	es.governance = &addr
}

func (es *ExecutionState) AddEvent(event types.Event) {
	if _, ok := es.events[event.TxId]; !ok {
		es.eventOrder = append(es.eventOrder, event.TxId)
	}
	es.events[event.TxId] = append(es.events[event.TxId], event)
	es.journal.append(eventChange{txId: event.TxId})
}

// Events returns the uncommitted events of a transaction.
func (es *ExecutionState) Events(txId common.Hash) types.Events {
	return es.events[txId]
}

// Snapshot returns an identifier for the current revision of the state.
func (es *ExecutionState) Snapshot() int {
	id := es.nextRevisionId
	es.nextRevisionId++
	es.validRevisions = append(es.validRevisions, revision{id, es.journal.length()})
	return id
}

// RevertToSnapshot reverts all state changes made since the given revision.
func (es *ExecutionState) RevertToSnapshot(revid int) {
	idx := sort.Search(len(es.validRevisions), func(i int) bool {
		return es.validRevisions[i].id >= revid
	})
	if idx == len(es.validRevisions) || es.validRevisions[idx].id != revid {
		panic(fmt.Errorf("revision id %v cannot be reverted", revid))
	}
	snapshot := es.validRevisions[idx].journalIndex

	es.journal.revert(es, snapshot)
	es.validRevisions = es.validRevisions[:idx]
}

// Commit writes every touched contract, pending names, the governance pointer and events to the store
// and returns the new roots. The state is empty afterwards.
func (es *ExecutionState) Commit() (contracts.Roots, error) {
	addrs := make([]types.Address, 0, len(es.contracts))
	for addr := range es.contracts {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, types.Address.Compare)
	for _, addr := range addrs {
		if err := es.contracts[addr].commit(); err != nil {
			return contracts.Roots{}, err
		}
	}

	names := make([]string, 0, len(es.names))
	for name := range es.names {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := es.store.BindName(name, es.names[name]); err != nil {
			return contracts.Roots{}, err
		}
	}

	if es.governance != nil {
		if err := es.store.SetGovernanceAddress(*es.governance); err != nil {
			return contracts.Roots{}, err
		}
	}

	for _, txId := range es.eventOrder {
		if err := es.store.AppendEvents(txId, es.events[txId]); err != nil {
			return contracts.Roots{}, err
		}
	}

	roots := es.store.Roots()
	logger.Debug().
		Int("contracts", len(addrs)).
		Stringer("contractsRoot", roots.Contracts).
		Msg("Execution state committed")
	es.reset()
	return roots, nil
}
