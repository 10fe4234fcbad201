package execution

import (
	"fmt"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/native"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
)

// contractHost binds a running contract to the execution state. It serves both native templates and Lua code.
type contractHost struct {
	run       *opRun
	contract  *ContractState
	inDeposit bool
}

var _ native.Host = (*contractHost)(nil)

func (h *contractHost) Caller() types.Address {
	return h.run.caller
}

func (h *contractHost) ContractAddress() types.Address {
	return h.contract.Address()
}

func (h *contractHost) Creator() types.Address {
	return h.contract.Record.Creator
}

func (h *contractHost) BlockHeight() uint64 {
	return h.run.txc.Height
}

func (h *contractHost) TxId() common.Hash {
	return h.run.txc.TxId
}

func (h *contractHost) GetStorage(key string) (types.StorageValue, bool, error) {
	if err := h.run.meter.Charge(types.GasStorageRead); err != nil {
		return types.StorageValue{}, false, err
	}
	return h.contract.GetState(key)
}

// words rounds a byte count up to 32-byte words.
func words(size int) types.Gas {
	return types.Gas((size + 31) / 32)
}

// checkWrite charges a storage write by the bytes it puts into the trie, key included.
func (h *contractHost) checkWrite(key string, size int) error {
	if native.IsReservedKey(key) {
		return types.NewVerboseError(types.ErrorInvalidArgument, "storage key "+key+" is reserved")
	}
	if limit := h.run.engine.cfg.MaxStorageValueSize; size > limit {
		return types.NewVerboseError(types.ErrorInvalidArgument,
			fmt.Sprintf("storage value of %d bytes exceeds the limit of %d", size, limit))
	}
	return h.run.meter.Charge(types.GasStorageWrite + words(len(key)+size)*types.GasStorageWriteWord)
}

func (h *contractHost) SetStorage(key string, value types.StorageValue) error {
	if err := h.checkWrite(key, len(value.Data)); err != nil {
		return err
	}
	h.contract.SetState(key, value)
	return nil
}

func (h *contractHost) DeleteStorage(key string) error {
	if err := h.checkWrite(key, 0); err != nil {
		return err
	}
	h.contract.DeleteState(key)
	return nil
}

func (h *contractHost) Balance() types.Value {
	return h.contract.Record.Balance
}

func (h *contractHost) Transfer(to types.Address, amount types.Value) (int, error) {
	if err := h.run.meter.Charge(types.GasTransfer); err != nil {
		return 0, err
	}
	if amount.IsZero() {
		return 0, types.NewVerboseError(types.ErrorInvalidArgument, "transfer amount must be positive")
	}
	if h.inDeposit {
		return native.TransferInDepositHandler, nil
	}
	if h.contract.Record.Balance.Lt(amount) {
		return native.TransferInsufficientBalance, nil
	}

	if err := h.contract.SubBalance(amount); err != nil {
		return 0, err
	}
	h.run.changes = append(h.run.changes, types.BalanceChange{
		Address: h.ContractAddress(), Amount: amount, IsContract: true,
	})

	target, err := h.run.es.GetContract(to)
	switch {
	case err == nil:
		if err := target.AddBalance(amount); err != nil {
			return 0, err
		}
		h.run.changes = append(h.run.changes, types.BalanceChange{Address: to, Amount: amount, IsContract: true, IsAdd: true})
	case types.IsErrorCode(err, types.ErrorNoSuchContract):
		h.run.changes = append(h.run.changes, types.BalanceChange{Address: to, Amount: amount, IsAdd: true})
	default:
		return 0, err
	}

	logger.Debug().
		Stringer(logging.FieldContractAddress, h.ContractAddress()).
		Stringer(logging.FieldAmount, amount).
		Msgf("Transfer to %s", to)
	return native.TransferOk, nil
}

func (h *contractHost) Emit(name, arg string) error {
	size := len(name) + len(arg)
	if limit := h.run.engine.cfg.MaxStorageValueSize; size > limit {
		return types.NewVerboseError(types.ErrorInvalidArgument,
			fmt.Sprintf("event of %d bytes exceeds the limit of %d", size, limit))
	}
	if err := h.run.meter.Charge(types.GasEmit + words(size)*types.GasEmitWord); err != nil {
		return err
	}
	h.run.es.AddEvent(types.Event{
		TxId:     h.run.txc.TxId,
		Contract: h.ContractAddress(),
		Name:     name,
		Arg:      arg,
	})
	return nil
}
