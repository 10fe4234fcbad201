package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// OperationVersion is the only supported version byte of contract operations.
const OperationVersion uint8 = 1

type OpCode uint8

const (
	OpCreate OpCode = iota + 1
	OpCreateNative
	OpCall
	OpSpend
	OpUpgrade
	OpDeposit
)

func (c OpCode) String() string {
	switch c {
	case OpCreate:
		return "create"
	case OpCreateNative:
		return "create_native"
	case OpCall:
		return "call"
	case OpSpend:
		return "spend"
	case OpUpgrade:
		return "upgrade"
	case OpDeposit:
		return "deposit"
	}
	return fmt.Sprintf("OpCode(%d)", uint8(c))
}

var ErrUnknownOpCode = errors.New("unknown operation code")

// Operation is one of CreateOp, CreateNativeOp, CallOp, SpendOp, UpgradeOp, DepositOp.
type Operation interface {
	OpCode() OpCode
	isOperation()
}

// OpHeader holds the fields shared by every operation except Spend.
type OpHeader struct {
	Version  uint8
	Caller   Address
	GasLimit Gas
	GasPrice Value
}

func (h *OpHeader) Header() *OpHeader {
	return h
}

// HeaderedOperation is implemented by every operation that pays for gas.
type HeaderedOperation interface {
	Operation
	Header() *OpHeader
}

type CreateOp struct {
	OpHeader
	Code []byte
}

type CreateNativeOp struct {
	OpHeader
	Template string
}

type CallOp struct {
	OpHeader
	Target Address
	Api    string
	Arg    string
}

// SpendOp declares that the enclosing transaction pulls Amount from the contract Source.
type SpendOp struct {
	Source Address
	Amount Value
}

type UpgradeOp struct {
	OpHeader
	Target      Address
	Name        string
	Description string
}

type DepositOp struct {
	OpHeader
	Target Address
	Amount Value
	Memo   string
}

var (
	_ HeaderedOperation = (*CreateOp)(nil)
	_ HeaderedOperation = (*CreateNativeOp)(nil)
	_ HeaderedOperation = (*CallOp)(nil)
	_ HeaderedOperation = (*UpgradeOp)(nil)
	_ HeaderedOperation = (*DepositOp)(nil)
	_ Operation         = (*SpendOp)(nil)
)

func (*CreateOp) OpCode() OpCode       { return OpCreate }
func (*CreateNativeOp) OpCode() OpCode { return OpCreateNative }
func (*CallOp) OpCode() OpCode         { return OpCall }
func (*SpendOp) OpCode() OpCode        { return OpSpend }
func (*UpgradeOp) OpCode() OpCode      { return OpUpgrade }
func (*DepositOp) OpCode() OpCode      { return OpDeposit }

func (*CreateOp) isOperation()       {}
func (*CreateNativeOp) isOperation() {}
func (*CallOp) isOperation()         {}
func (*SpendOp) isOperation()        {}
func (*UpgradeOp) isOperation()      {}
func (*DepositOp) isOperation()      {}

// OperationTarget returns the existing contract an operation refers to.
// Create operations have no target.
func OperationTarget(op Operation) (Address, bool) {
	switch op := op.(type) {
	case *CallOp:
		return op.Target, true
	case *UpgradeOp:
		return op.Target, true
	case *DepositOp:
		return op.Target, true
	case *SpendOp:
		return op.Source, true
	case *CreateOp, *CreateNativeOp:
		return EmptyAddress, false
	}
	panic(fmt.Sprintf("unexpected operation %T", op))
}

// Wire layouts: [version, ...fields..., opcode_tag].
type createWire struct {
	Version  uint8
	Code     []byte
	Creator  Address
	GasLimit Gas
	GasPrice Value
	Tag      OpCode
}

type createNativeWire struct {
	Version  uint8
	Template string
	Creator  Address
	GasLimit Gas
	GasPrice Value
	Tag      OpCode
}

type callWire struct {
	Version  uint8
	Arg      string
	Api      string
	Target   Address
	Caller   Address
	GasLimit Gas
	GasPrice Value
	Tag      OpCode
}

type spendWire struct {
	Amount Value
	Source Address
	Tag    OpCode
}

type depositWire struct {
	Version  uint8
	Memo     string
	Amount   Value
	Target   Address
	Caller   Address
	GasLimit Gas
	GasPrice Value
	Tag      OpCode
}

type upgradeWire struct {
	Version     uint8
	Description string
	Name        string
	Target      Address
	Caller      Address
	GasLimit    Gas
	GasPrice    Value
	Tag         OpCode
}

func EncodeOperation(op Operation) ([]byte, error) {
	var wire any
	switch op := op.(type) {
	case *CreateOp:
		wire = &createWire{op.Version, op.Code, op.Caller, op.GasLimit, op.GasPrice, OpCreate}
	case *CreateNativeOp:
		wire = &createNativeWire{op.Version, op.Template, op.Caller, op.GasLimit, op.GasPrice, OpCreateNative}
	case *CallOp:
		wire = &callWire{op.Version, op.Arg, op.Api, op.Target, op.Caller, op.GasLimit, op.GasPrice, OpCall}
	case *SpendOp:
		wire = &spendWire{op.Amount, op.Source, OpSpend}
	case *DepositOp:
		wire = &depositWire{op.Version, op.Memo, op.Amount, op.Target, op.Caller, op.GasLimit, op.GasPrice, OpDeposit}
	case *UpgradeOp:
		wire = &upgradeWire{
			op.Version, op.Description, op.Name, op.Target, op.Caller, op.GasLimit, op.GasPrice, OpUpgrade,
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownOpCode, op)
	}
	return rlp.EncodeToBytes(wire)
}

func DecodeOperation(data []byte) (Operation, error) {
	var fields []rlp.RawValue
	if err := rlp.DecodeBytes(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode operation: %w", err)
	}
	if len(fields) == 0 {
		return nil, errors.New("empty operation")
	}
	var tag OpCode
	if err := rlp.DecodeBytes(fields[len(fields)-1], &tag); err != nil {
		return nil, fmt.Errorf("failed to decode operation tag: %w", err)
	}

	switch tag {
	case OpCreate:
		var w createWire
		if err := rlp.DecodeBytes(data, &w); err != nil {
			return nil, err
		}
		return &CreateOp{OpHeader{w.Version, w.Creator, w.GasLimit, w.GasPrice}, w.Code}, nil
	case OpCreateNative:
		var w createNativeWire
		if err := rlp.DecodeBytes(data, &w); err != nil {
			return nil, err
		}
		return &CreateNativeOp{OpHeader{w.Version, w.Creator, w.GasLimit, w.GasPrice}, w.Template}, nil
	case OpCall:
		var w callWire
		if err := rlp.DecodeBytes(data, &w); err != nil {
			return nil, err
		}
		return &CallOp{OpHeader{w.Version, w.Caller, w.GasLimit, w.GasPrice}, w.Target, w.Api, w.Arg}, nil
	case OpSpend:
		var w spendWire
		if err := rlp.DecodeBytes(data, &w); err != nil {
			return nil, err
		}
		return &SpendOp{w.Source, w.Amount}, nil
	case OpDeposit:
		var w depositWire
		if err := rlp.DecodeBytes(data, &w); err != nil {
			return nil, err
		}
		return &DepositOp{OpHeader{w.Version, w.Caller, w.GasLimit, w.GasPrice}, w.Target, w.Amount, w.Memo}, nil
	case OpUpgrade:
		var w upgradeWire
		if err := rlp.DecodeBytes(data, &w); err != nil {
			return nil, err
		}
		return &UpgradeOp{OpHeader{w.Version, w.Caller, w.GasLimit, w.GasPrice}, w.Target, w.Name, w.Description}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownOpCode, tag)
}
