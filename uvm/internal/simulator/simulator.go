package simulator

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/commitment"
	"github.com/btccom/UnitedBitcoin/uvm/internal/contracts"
	"github.com/btccom/UnitedBitcoin/uvm/internal/db"
	"github.com/btccom/UnitedBitcoin/uvm/internal/execution"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
)

var logger = logging.NewLogger("simulator")

// Options fix the transaction context of a dry run. A zero height means the block after the current one,
// a zero gas limit means the offline gas limit.
type Options struct {
	TxId     common.Hash
	Height   uint64
	GasLimit types.Gas
}

type Result struct {
	Result          string               `json:"result"`
	GasCount        types.Gas            `json:"gasCount"`
	BalanceChanges  types.BalanceChanges `json:"balanceChanges"`
	Events          types.Events         `json:"events,omitempty"`
	ContractAddress types.Address        `json:"contractAddress"`
	Height          uint64               `json:"height"`
	TxId            common.Hash          `json:"txid"`
}

// Simulator runs operations against the current contract state without committing anything.
// It is safe for concurrent use: every run reads a consistent database snapshot and buffers its writes in memory.
type Simulator struct {
	db         db.DB
	commitment *commitment.Commitment
	engine     *execution.Engine
}

func New(database db.DB, c *commitment.Commitment, engine *execution.Engine) *Simulator {
	return &Simulator{db: database, commitment: c, engine: engine}
}

// Simulate executes op as the next block would and reports its result, gas and balance changes.
// Spends are taken from the contract debits, so the result tells which spends a real transaction must declare.
func (s *Simulator) Simulate(ctx context.Context, op types.Operation, opts Options) (*Result, error) {
	op, err := s.withGasLimit(op, opts.GasLimit)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = s.run(ctx, op, opts, func(es *execution.ExecutionState, txc *execution.TxContext) error {
		outcome, err := s.engine.Execute(ctx, es, txc, op, nil)
		if err != nil {
			return err
		}
		res = newResult(outcome, txc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug().
		Stringer(logging.FieldOperation, op.OpCode()).
		Stringer(logging.FieldGasUsed, res.GasCount).
		Msg("Operation simulated")
	return res, nil
}

// InvokeOffline calls an offline api of target.
func (s *Simulator) InvokeOffline(
	ctx context.Context,
	caller, target types.Address,
	api, arg string,
	opts Options,
) (*Result, error) {
	var res *Result
	err := s.run(ctx, nil, opts, func(es *execution.ExecutionState, txc *execution.TxContext) error {
		outcome, err := s.engine.Query(ctx, es, txc, caller, target, api, arg)
		if err != nil {
			return err
		}
		res = newResult(outcome, txc)
		return nil
	})
	return res, err
}

func (s *Simulator) run(
	ctx context.Context,
	op types.Operation,
	opts Options,
	f func(es *execution.ExecutionState, txc *execution.TxContext) error,
) error {
	tx, err := s.db.CreateRoTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := s.commitment.Current(tx)
	if err != nil {
		return err
	}

	txc := &execution.TxContext{TxId: opts.TxId, Height: opts.Height, Offline: true}
	if txc.Height == 0 {
		txc.Height = current.Root.Height + 1
	}
	if txc.TxId.Empty() {
		if txc.TxId, err = simulatedTxId(op, txc.Height); err != nil {
			return err
		}
	}

	store := contracts.NewStore(contracts.NewOverlayBackend(tx), current.Roots())
	return f(execution.NewExecutionState(store), txc)
}

func (s *Simulator) withGasLimit(op types.Operation, limit types.Gas) (types.Operation, error) {
	if op == nil {
		return nil, types.NewVerboseError(types.ErrorInvalidArgument, "no operation to simulate")
	}
	if limit == 0 {
		limit = s.engine.Config().OfflineGasLimit
	}
	switch op := op.(type) {
	case *types.CreateOp:
		c := *op
		c.GasLimit = limit
		return &c, nil
	case *types.CreateNativeOp:
		c := *op
		c.GasLimit = limit
		return &c, nil
	case *types.CallOp:
		c := *op
		c.GasLimit = limit
		return &c, nil
	case *types.UpgradeOp:
		c := *op
		c.GasLimit = limit
		return &c, nil
	case *types.DepositOp:
		c := *op
		c.GasLimit = limit
		return &c, nil
	}
	return nil, types.NewVerboseError(types.ErrorInvalidArgument, fmt.Sprintf("cannot simulate %s", op.OpCode()))
}

func simulatedTxId(op types.Operation, height uint64) (common.Hash, error) {
	var heightBytes [8]byte
	binary.BigEndian.PutUint64(heightBytes[:], height)
	if op == nil {
		return common.KeccakHash([]byte("offline"), heightBytes[:]), nil
	}
	data, err := types.EncodeOperation(op)
	if err != nil {
		return common.EmptyHash, err
	}
	return common.KeccakHash(data, heightBytes[:]), nil
}

func newResult(outcome *execution.ExecutionOutcome, txc *execution.TxContext) *Result {
	return &Result{
		Result:          outcome.Result,
		GasCount:        outcome.GasUsed,
		BalanceChanges:  outcome.BalanceChanges,
		Events:          outcome.Events,
		ContractAddress: outcome.ContractAddress,
		Height:          txc.Height,
		TxId:            txc.TxId,
	}
}
