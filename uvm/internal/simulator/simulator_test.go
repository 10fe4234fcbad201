package simulator

import (
	"context"
	"testing"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/commitment"
	"github.com/btccom/UnitedBitcoin/uvm/internal/contracts"
	"github.com/btccom/UnitedBitcoin/uvm/internal/db"
	"github.com/btccom/UnitedBitcoin/uvm/internal/execution"
	"github.com/btccom/UnitedBitcoin/uvm/internal/native"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/stretchr/testify/suite"
)

type SuiteSimulator struct {
	suite.Suite

	ctx        context.Context
	db         db.DB
	commitment *commitment.Commitment
	engine     *execution.Engine
	sim        *Simulator

	user types.Address
	demo types.Address
}

func (s *SuiteSimulator) SetupTest() {
	s.ctx = context.Background()
	var err error
	s.db, err = db.NewBadgerDbInMemory()
	s.Require().NoError(err)
	s.commitment, err = commitment.New(s.ctx, s.db)
	s.Require().NoError(err)
	s.engine = execution.NewEngine(execution.NewDefaultConfig(), native.NewRegistry(native.NewDefaultConfig()))
	s.sim = New(s.db, s.commitment, s.engine)
	s.user = types.BytesToAddress([]byte("user"))

	out := s.apply(1, common.KeccakHash([]byte("create")),
		&types.CreateNativeOp{OpHeader: s.header(), Template: native.DemoTemplate})
	s.demo = out.ContractAddress
}

func (s *SuiteSimulator) TearDownTest() {
	s.db.Close()
}

func (s *SuiteSimulator) header() types.OpHeader {
	return types.OpHeader{
		Version:  types.OperationVersion,
		Caller:   s.user,
		GasLimit: 1_000_000,
		GasPrice: types.NewValueFromUint64(types.DefaultMinGasPrice),
	}
}

// apply executes op for real as the only operation of the block at height.
func (s *SuiteSimulator) apply(height uint64, txId common.Hash, op types.Operation, spends ...types.SpendOp) *execution.ExecutionOutcome {
	s.T().Helper()
	tx, err := s.db.CreateRwTx(s.ctx)
	s.Require().NoError(err)
	defer tx.Rollback()

	current, err := s.commitment.Current(tx)
	s.Require().NoError(err)
	es := execution.NewExecutionState(contracts.NewStore(contracts.NewDbBackend(tx), current.Roots()))
	out, err := s.engine.Execute(s.ctx, es, &execution.TxContext{TxId: txId, Height: height}, op, spends)
	s.Require().NoError(err)
	roots, err := es.Commit()
	s.Require().NoError(err)
	_, err = s.commitment.Commit(s.ctx, tx, height, roots)
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit())
	return out
}

func (s *SuiteSimulator) currentRoot() types.StateRoot {
	s.T().Helper()
	root, err := s.commitment.CurrentRoot(s.ctx)
	s.Require().NoError(err)
	return root
}

func (s *SuiteSimulator) TestSimulateLeavesStateUntouched() {
	before := s.currentRoot()

	deposit := &types.DepositOp{OpHeader: s.header(), Target: s.demo, Amount: types.NewValueFromUint64(30_000_000)}
	res, err := s.sim.Simulate(s.ctx, deposit, Options{})
	s.Require().NoError(err)
	s.Equal(uint64(2), res.Height)
	s.Positive(res.GasCount.Uint64())
	s.Equal(types.BalanceChanges{
		{Address: s.user, Amount: deposit.Amount, IsContract: false, IsAdd: false},
		{Address: s.demo, Amount: deposit.Amount, IsContract: true, IsAdd: true},
	}, res.BalanceChanges)

	s.Equal(before, s.currentRoot())

	// the deposit was never committed
	_, err = s.sim.Simulate(s.ctx, &types.CallOp{OpHeader: s.header(), Target: s.demo, Api: "withdraw", Arg: "0.3"}, Options{})
	s.Require().True(types.IsErrorCode(err, types.ErrorInsufficientBalance), err)
}

func (s *SuiteSimulator) TestSimulationMatchesExecution() {
	deposit := &types.DepositOp{OpHeader: s.header(), Target: s.demo, Amount: types.NewValueFromUint64(30_000_000)}
	s.apply(2, common.KeccakHash([]byte("deposit")), deposit)

	withdraw := &types.CallOp{OpHeader: s.header(), Target: s.demo, Api: "withdraw", Arg: "0.3"}
	txId := common.KeccakHash([]byte("withdraw"))
	preview, err := s.sim.Simulate(s.ctx, withdraw, Options{TxId: txId, GasLimit: withdraw.GasLimit})
	s.Require().NoError(err)
	s.Equal("0", preview.Result)
	s.Equal([]types.SpendOp{{Source: s.demo, Amount: deposit.Amount}}, preview.BalanceChanges.ContractDebits())

	out := s.apply(3, txId, withdraw, preview.BalanceChanges.ContractDebits()...)
	s.Equal(preview.Result, out.Result)
	s.Equal(preview.GasCount, out.GasUsed)
	s.Equal(preview.BalanceChanges, out.BalanceChanges)
	s.Equal(preview.Events, out.Events)
}

func (s *SuiteSimulator) TestSimulateCreate() {
	txId := common.KeccakHash([]byte("token"))
	res, err := s.sim.Simulate(s.ctx, &types.CreateNativeOp{OpHeader: s.header(), Template: native.TokenTemplate}, Options{TxId: txId})
	s.Require().NoError(err)
	s.Equal(types.CreateContractAddress(txId), res.ContractAddress)

	_, err = s.sim.InvokeOffline(s.ctx, s.user, res.ContractAddress, "state", "", Options{})
	s.Require().True(types.IsErrorCode(err, types.ErrorNoSuchContract), err)
}

func (s *SuiteSimulator) TestInvokeOffline() {
	res, err := s.sim.InvokeOffline(s.ctx, s.user, s.demo, "contract_balance", "", Options{})
	s.Require().NoError(err)
	s.Equal("0", res.Result)

	_, err = s.sim.InvokeOffline(s.ctx, s.user, s.demo, "withdraw", "0.1", Options{})
	s.Require().True(types.IsErrorCode(err, types.ErrorNoSuchApi), err)
}

func (s *SuiteSimulator) TestRejects() {
	_, err := s.sim.Simulate(s.ctx, &types.SpendOp{Source: s.demo, Amount: types.NewValueFromUint64(1)}, Options{})
	s.Require().True(types.IsErrorCode(err, types.ErrorInvalidArgument), err)

	_, err = s.sim.Simulate(s.ctx, nil, Options{})
	s.Require().True(types.IsErrorCode(err, types.ErrorInvalidArgument), err)

	// the gas limit of a dry run is the one from the options
	_, err = s.sim.Simulate(s.ctx, &types.CallOp{OpHeader: s.header(), Target: s.demo, Api: "hello", Arg: "x"}, Options{GasLimit: 1})
	s.Require().True(types.IsErrorCode(err, types.ErrorOutOfGas), err)
}

func TestSuiteSimulator(t *testing.T) {
	t.Parallel()

	suite.Run(t, new(SuiteSimulator))
}
