package uvmservice

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/commitment"
	"github.com/btccom/UnitedBitcoin/uvm/internal/config"
	"github.com/btccom/UnitedBitcoin/uvm/internal/db"
	"github.com/btccom/UnitedBitcoin/uvm/internal/ledger"
	"github.com/btccom/UnitedBitcoin/uvm/internal/native"
	"github.com/btccom/UnitedBitcoin/uvm/internal/simulator"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/btccom/UnitedBitcoin/uvm/internal/utxo"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent())
}

const (
	gasLimit = types.Gas(1_000_000)
	gasPrice = types.DefaultMinGasPrice
	coin     = 100_000_000
)

const onceCode = `
local M = {}
M.once_apis = {"once"}

function M:init()
end

function M:once(arg)
	uvm.set_storage("once_called", arg)
	return "done"
end

return M
`

const setCode = `
local M = {}

function M:init()
end

function M:set(arg)
	uvm.set_storage("value", arg)
end

return M
`

// wallet tracks the single output a test user spends from.
type wallet struct {
	addr types.Address
	coin ledger.Utxo
}

type SuiteService struct {
	suite.Suite

	ctx  context.Context
	db   db.DB
	set  *utxo.MemorySet
	svc  *Service
	user wallet
	seq  int

	applied map[uint64]*Block
}

func (s *SuiteService) SetupTest() {
	s.ctx = context.Background()
	s.seq = 0
	s.applied = make(map[uint64]*Block)
	s.svc, s.db, s.set, s.user = s.newService()
}

func (s *SuiteService) TearDownTest() {
	s.db.Close()
}

func (s *SuiteService) newService() (*Service, db.DB, *utxo.MemorySet, wallet) {
	s.T().Helper()
	database, err := db.NewBadgerDbInMemory()
	s.Require().NoError(err)

	user := wallet{addr: types.BytesToAddress([]byte("user"))}
	user.coin = ledger.Utxo{
		Outpoint: ledger.Outpoint{TxId: common.KeccakHash([]byte("genesis"))},
		Out:      ledger.TxOut{Address: user.addr, Value: types.NewValueFromUint64(10 * coin)},
	}
	set := utxo.NewMemorySet(user.coin)
	svc, err := New(s.ctx, config.NewDefaultConfig(), database, set)
	s.Require().NoError(err)
	return svc, database, set, user
}

func (s *SuiteService) header() types.OpHeader {
	return types.OpHeader{
		Version:  types.OperationVersion,
		Caller:   s.user.addr,
		GasLimit: gasLimit,
		GasPrice: types.NewValueFromUint64(gasPrice),
	}
}

func (s *SuiteService) nextTxId() common.Hash {
	s.seq++
	return common.KeccakHash([]byte("tx" + strconv.Itoa(s.seq)))
}

// tx spends the user's output, pays the maximum fee of op and returns the change to the user as output 0.
func (s *SuiteService) tx(txId common.Hash, op types.Operation, spends []types.SpendOp, extra ...ledger.TxOut) *ledger.Transaction {
	fee := types.NewValueFromUint64(0)
	if op != nil {
		fee = gasLimit.ToValue(types.NewValueFromUint64(gasPrice))
	}
	change := s.user.coin.Out.Value.Sub(fee)
	if deposit, ok := op.(*types.DepositOp); ok {
		change = change.Sub(deposit.Amount)
	}
	return &ledger.Transaction{
		TxId:    txId,
		Inputs:  []ledger.Outpoint{s.user.coin.Outpoint},
		Outputs: append([]ledger.TxOut{{Address: s.user.addr, Value: change}}, extra...),
		Fee:     fee,
		Op:      op,
		Spends:  spends,
	}
}

// apply applies a block of txs and moves the user to the change output of the last one.
func (s *SuiteService) apply(height uint64, txs ...*ledger.Transaction) *BlockResult {
	s.T().Helper()
	block := &Block{Height: height, Transactions: txs}
	res, err := s.svc.ApplyBlock(s.ctx, block)
	s.Require().NoError(err)
	s.applied[height] = block
	s.moveCoin(height, txs[len(txs)-1])
	return res
}

func (s *SuiteService) moveCoin(height uint64, tx *ledger.Transaction) {
	s.user.coin = ledger.Utxo{
		Outpoint: ledger.Outpoint{TxId: tx.TxId, Index: 0},
		Out:      tx.Outputs[0],
		Height:   height,
	}
}

func (s *SuiteService) createNative(height uint64, template string) types.Address {
	s.T().Helper()
	txId := s.nextTxId()
	s.apply(height, s.tx(txId, &types.CreateNativeOp{OpHeader: s.header(), Template: template}, nil))
	return types.CreateContractAddress(txId)
}

func (s *SuiteService) requireRejected(height uint64, code types.ErrorCode, txs ...*ledger.Transaction) {
	s.T().Helper()
	before, err := s.svc.CurrentRoot(s.ctx)
	s.Require().NoError(err)
	best, err := s.set.BestHeight(s.ctx)
	s.Require().NoError(err)

	_, err = s.svc.ApplyBlock(s.ctx, &Block{Height: height, Transactions: txs})
	s.Require().True(types.IsErrorCode(err, code), "%v", err)

	after, err := s.svc.CurrentRoot(s.ctx)
	s.Require().NoError(err)
	s.Equal(before, after)
	bestAfter, err := s.set.BestHeight(s.ctx)
	s.Require().NoError(err)
	s.Equal(best, bestAfter)
}

func (s *SuiteService) balance(addr types.Address) types.Value {
	s.T().Helper()
	rec, err := s.svc.GetContract(s.ctx, addr)
	s.Require().NoError(err)
	return rec.Balance
}

func (s *SuiteService) TestDepositWithdraw() {
	demo := s.createNative(1, native.DemoTemplate)

	amount := types.NewValueFromUint64(30_000_000)
	deposit := &types.DepositOp{OpHeader: s.header(), Target: demo, Amount: amount}
	s.apply(2, s.tx(s.nextTxId(), deposit, nil))
	s.Equal(amount, s.balance(demo))

	info, err := s.svc.ContractInfo(s.ctx, demo)
	s.Require().NoError(err)
	s.Equal("0.3", info.Coins.String())
	s.Equal("native", info.Type)
	s.Equal(native.DemoTemplate, info.Template)

	withdraw := &types.CallOp{OpHeader: s.header(), Target: demo, Api: "withdraw", Arg: "0.3"}
	txId := s.nextTxId()
	preview, err := s.svc.Simulate(s.ctx, withdraw, simulator.Options{TxId: txId, Height: 3})
	s.Require().NoError(err)
	spends := ledger.DeclaredSpends(preview.BalanceChanges)
	payouts := ledger.BuildWithdrawOutputs(preview.BalanceChanges)
	s.Require().Len(payouts, 1)
	s.Equal(ledger.TxOut{Address: s.user.addr, Value: amount}, payouts[0])

	// undeclared spends and unpaid credits reject the block
	s.requireRejected(3, types.ErrorSpendDeclarationMismatch, s.tx(txId, withdraw, nil, payouts...))
	s.requireRejected(3, types.ErrorBalanceConservationViolation, s.tx(txId, withdraw, spends))

	tx := s.tx(txId, withdraw, spends, payouts...)
	res := s.apply(3, tx)
	s.Require().Len(res.Receipts, 1)
	s.Equal("0", res.Receipts[0].Outcome.Result)
	s.Equal(preview.GasCount, res.Receipts[0].Outcome.GasUsed)
	s.True(s.balance(demo).IsZero())

	paid, err := s.set.GetUtxo(s.ctx, ledger.Outpoint{TxId: txId, Index: 1})
	s.Require().NoError(err)
	s.Equal(amount, paid.Out.Value)
	s.Equal(s.user.addr, paid.Out.Address)

	v, ok, err := s.svc.GetStorage(s.ctx, demo, "withdrawn")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("30000000", v.String())
}

func (s *SuiteService) TestDepositsAccumulateWithinBlock() {
	demo := s.createNative(1, native.DemoTemplate)

	var txs []*ledger.Transaction
	for range 5 {
		tx := s.tx(s.nextTxId(), &types.DepositOp{
			OpHeader: s.header(),
			Target:   demo,
			Amount:   types.NewValueFromUint64(coin / 10),
		}, nil)
		txs = append(txs, tx)
		s.moveCoin(2, tx)
	}
	res := s.apply(2, txs...)
	s.Len(res.Receipts, 5)
	s.Equal(types.NewValueFromUint64(coin/2), s.balance(demo))

	v, ok, err := s.svc.GetStorage(s.ctx, demo, "deposits")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("5", v.String())
}

func (s *SuiteService) TestOnceApiTwice() {
	txId := s.nextTxId()
	s.apply(1, s.tx(txId, &types.CreateOp{OpHeader: s.header(), Code: []byte(onceCode)}, nil))
	addr := types.CreateContractAddress(txId)

	call := &types.CallOp{OpHeader: s.header(), Target: addr, Api: "once", Arg: "first"}
	res := s.apply(2, s.tx(s.nextTxId(), call, nil))
	s.Equal("done", res.Receipts[0].Outcome.Result)

	again := *call
	again.Arg = "second"
	s.requireRejected(3, types.ErrorAlreadyInvoked, s.tx(s.nextTxId(), &again, nil))

	v, ok, err := s.svc.GetStorage(s.ctx, addr, "once_called")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("first", v.String())
}

func (s *SuiteService) TestRollback() {
	demo := s.createNative(1, native.DemoTemplate)
	root1, err := s.svc.CurrentRoot(s.ctx)
	s.Require().NoError(err)
	coin1 := s.user.coin

	token := s.createNative(2, native.TokenTemplate)
	helloTx := s.nextTxId()
	s.apply(3, s.tx(helloTx, &types.CallOp{OpHeader: s.header(), Target: demo, Api: "hello", Arg: "hi"}, nil))

	events, err := s.svc.EventsByTx(s.ctx, helloTx)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal("hello", events[0].Name)

	_, err = s.svc.Rollback(s.ctx, 3)
	s.Require().ErrorIs(err, commitment.ErrAlreadyCurrent)
	_, err = s.svc.Rollback(s.ctx, 4)
	s.Require().ErrorIs(err, commitment.ErrNoSnapshot)

	root, err := s.svc.Rollback(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(root1, root)

	_, err = s.svc.GetContract(s.ctx, token)
	s.Require().True(types.IsErrorCode(err, types.ErrorNoSuchContract), err)
	_, err = s.svc.GetContract(s.ctx, demo)
	s.Require().NoError(err)
	events, err = s.svc.EventsByTx(s.ctx, helloTx)
	s.Require().NoError(err)
	s.Empty(events)

	best, err := s.set.BestHeight(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint64(1), best)
	_, err = s.set.GetUtxo(s.ctx, coin1.Outpoint)
	s.Require().NoError(err)

	// the chain continues from the restored state
	s.user.coin = coin1
	s.createNative(2, native.TokenTemplate)
}

func (s *SuiteService) TestPlainTransactionsKeepRootHash() {
	s.createNative(1, native.DemoTemplate)
	root1, err := s.svc.CurrentRoot(s.ctx)
	s.Require().NoError(err)

	res := s.apply(2, s.tx(s.nextTxId(), nil, nil))
	s.Equal(root1.Hash, res.Root.Hash)
	s.Equal(uint64(2), res.Root.Height)

	at, err := s.svc.RootAt(s.ctx, 2)
	s.Require().NoError(err)
	s.Equal(res.Root, at)

	spend := []types.SpendOp{{Source: types.BytesToAddress([]byte("x")), Amount: types.NewValueFromUint64(1)}}
	s.requireRejected(3, types.ErrorInvalidArgument, s.tx(s.nextTxId(), nil, spend))
}

func (s *SuiteService) TestStateAheadOfLedger() {
	s.createNative(1, native.DemoTemplate)

	ahead, err := s.svc.IsCurrentAheadOfBestBlock(s.ctx)
	s.Require().NoError(err)
	s.False(ahead)

	// the ledger moves back on its own
	s.Require().NoError(s.set.Disconnect(s.ctx, 1))
	ahead, err = s.svc.IsCurrentAheadOfBestBlock(s.ctx)
	s.Require().NoError(err)
	s.True(ahead)

	_, err = s.svc.ApplyBlock(s.ctx, &Block{Height: 1})
	s.Require().ErrorIs(err, ErrStateAhead)

	_, err = s.svc.Rollback(s.ctx, 0)
	s.Require().NoError(err)
	ahead, err = s.svc.IsCurrentAheadOfBestBlock(s.ctx)
	s.Require().NoError(err)
	s.False(ahead)
}

func (s *SuiteService) TestDeterministicReplay() {
	other, otherDb, _, _ := s.newService()
	defer otherDb.Close()

	var blocks []*Block
	demo := s.createNative(1, native.DemoTemplate)
	blocks = append(blocks, s.lastBlock(1))
	for h := uint64(2); h <= 4; h++ {
		txId := s.nextTxId()
		var op types.Operation = &types.DepositOp{OpHeader: s.header(), Target: demo, Amount: types.NewValueFromUint64(h * 1000)}
		if h%2 == 1 {
			op = &types.CallOp{OpHeader: s.header(), Target: demo, Api: "hello", Arg: strconv.FormatUint(h, 10)}
		}
		s.apply(h, s.tx(txId, op, nil))
		blocks = append(blocks, s.lastBlock(h))
	}

	for _, b := range blocks {
		res, err := other.ApplyBlock(s.ctx, b)
		s.Require().NoError(err)
		root, err := s.svc.RootAt(s.ctx, b.Height)
		s.Require().NoError(err)
		s.Equal(root, res.Root)
	}
}

// createSet creates a contract storing the argument of its set api and returns its address.
func (s *SuiteService) createSet(height uint64) types.Address {
	s.T().Helper()
	txId := s.nextTxId()
	s.apply(height, s.tx(txId, &types.CreateOp{OpHeader: s.header(), Code: []byte(setCode)}, nil))
	return types.CreateContractAddress(txId)
}

// applySets applies one block calling set on addr with each of args in order.
func (s *SuiteService) applySets(height uint64, addr types.Address, args ...string) *BlockResult {
	s.T().Helper()
	txs := make([]*ledger.Transaction, 0, len(args))
	for _, arg := range args {
		tx := s.tx(s.nextTxId(), &types.CallOp{OpHeader: s.header(), Target: addr, Api: "set", Arg: arg}, nil)
		txs = append(txs, tx)
		s.moveCoin(height, tx)
	}
	return s.apply(height, txs...)
}

func (s *SuiteService) TestOrderChangesRoot() {
	addr := s.createSet(1)
	coin1 := s.user.coin

	ab := s.applySets(2, addr, "a", "b")
	v, ok, err := s.svc.GetStorage(s.ctx, addr, "value")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("b", v.String())

	_, err = s.svc.Rollback(s.ctx, 1)
	s.Require().NoError(err)
	s.user.coin = coin1

	ba := s.applySets(2, addr, "b", "a")
	v, ok, err = s.svc.GetStorage(s.ctx, addr, "value")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("a", v.String())

	s.Equal(ab.Root.Height, ba.Root.Height)
	s.NotEqual(ab.Root.Hash, ba.Root.Hash)
}

func (s *SuiteService) TestRollbackThenOtherBranch() {
	other, otherDb, _, _ := s.newService()
	defer otherDb.Close()

	addr := s.createSet(1)
	coin1 := s.user.coin
	_, err := other.ApplyBlock(s.ctx, s.lastBlock(1))
	s.Require().NoError(err)

	discarded := s.applySets(2, addr, "a")
	s.applySets(3, addr, "aa", "aaa")

	root, err := s.svc.Rollback(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(uint64(1), root.Height)
	s.user.coin = coin1

	var kept *BlockResult
	for h := uint64(2); h <= 3; h++ {
		kept = s.applySets(h, addr, "b"+strconv.FormatUint(h, 10))
		res, err := other.ApplyBlock(s.ctx, s.lastBlock(h))
		s.Require().NoError(err)
		s.Equal(res.Root, kept.Root)
	}

	fresh, err := other.CurrentRoot(s.ctx)
	s.Require().NoError(err)
	current, err := s.svc.CurrentRoot(s.ctx)
	s.Require().NoError(err)
	s.Equal(fresh, current)

	at2, err := s.svc.RootAt(s.ctx, 2)
	s.Require().NoError(err)
	s.NotEqual(discarded.Root.Hash, at2.Hash)
}

// lastBlock returns the block applied at height.
func (s *SuiteService) lastBlock(height uint64) *Block {
	s.T().Helper()
	b, ok := s.applied[height]
	s.Require().True(ok)
	return b
}

func TestSuiteService(t *testing.T) {
	t.Parallel()

	suite.Run(t, new(SuiteService))
}

func TestOpen(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefaultConfig()
	cfg.DB.Path = t.TempDir()
	cfg.DB.UtxoPath = t.TempDir() + "/utxo.db"

	ctx := context.Background()
	svc, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer svc.Close()

	root, err := svc.CurrentRoot(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), root.Height)

	stop := errors.New("stop")
	err = svc.Run(ctx, func(ctx context.Context) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
}
