package blockfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/ledger"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	user = types.BytesToAddress([]byte("user"))
	demo = types.BytesToAddress([]byte("demo"))
	txA  = common.KeccakHash([]byte("a"))
	txB  = common.KeccakHash([]byte("b"))
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func expand(s string) string {
	return strings.NewReplacer(
		"$USER", user.Hex(),
		"$DEMO", demo.Hex(),
		"$TXA", txA.Hex(),
		"$TXB", txB.Hex(),
	).Replace(s)
}

func TestLoadBlock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "once.lua", "return {}")
	path := writeFile(t, dir, "block.yaml", expand(`
height: 3
transactions:
  - txid: $TXB
    inputs: ["$TXA:0"]
    outputs:
      - address: $USER
        amount: "9.5"
      - address: $USER
        amount: "0.3"
    fee: "0.1"
    op:
      type: call
      caller: $USER
      gasLimit: 1000000
      target: $DEMO
      api: withdraw
      arg: "0.3"
    spends:
      - source: $DEMO
        amount: "0.3"
  - txid: $TXA
    fee: "0.1"
    op:
      type: create
      caller: $USER
      gasLimit: 500
      gasPrice: 20
      codeFile: once.lua
`))

	block, err := LoadBlock(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), block.Height)
	require.Len(t, block.Transactions, 2)

	tx := block.Transactions[0]
	assert.Equal(t, txB, tx.TxId)
	assert.Equal(t, []ledger.Outpoint{{TxId: txA, Index: 0}}, tx.Inputs)
	assert.Equal(t, []ledger.TxOut{
		{Address: user, Value: types.NewValueFromUint64(950_000_000)},
		{Address: user, Value: types.NewValueFromUint64(30_000_000)},
	}, tx.Outputs)
	assert.Equal(t, types.NewValueFromUint64(10_000_000), tx.Fee)
	assert.Equal(t, &types.CallOp{
		OpHeader: types.OpHeader{
			Version:  types.OperationVersion,
			Caller:   user,
			GasLimit: 1_000_000,
			GasPrice: types.NewValueFromUint64(types.DefaultMinGasPrice),
		},
		Target: demo,
		Api:    "withdraw",
		Arg:    "0.3",
	}, tx.Op)
	assert.Equal(t, []types.SpendOp{{Source: demo, Amount: types.NewValueFromUint64(30_000_000)}}, tx.Spends)

	create, ok := block.Transactions[1].Op.(*types.CreateOp)
	require.True(t, ok)
	assert.Equal(t, []byte("return {}"), create.Code)
	assert.Equal(t, types.NewValueFromUint64(20), create.GasPrice)
	assert.Empty(t, block.Transactions[1].Inputs)
}

func TestOperationBuild(t *testing.T) {
	t.Parallel()

	op := Operation{Type: OpDeposit, Caller: user.Hex(), GasLimit: 10, Target: demo.Hex(), Amount: "1.5", Memo: "m"}
	built, err := op.Build("")
	require.NoError(t, err)
	deposit, ok := built.(*types.DepositOp)
	require.True(t, ok)
	assert.Equal(t, types.NewValueFromUint64(150_000_000), deposit.Amount)
	assert.Equal(t, "m", deposit.Memo)

	op = Operation{Type: OpCreateNative, Caller: user.Hex(), Template: "token"}
	built, err = op.Build("")
	require.NoError(t, err)
	assert.Equal(t, types.OpCreateNative, built.OpCode())

	op = Operation{Type: OpUpgrade, Caller: user.Hex(), Target: demo.Hex(), Name: "demo"}
	built, err = op.Build("")
	require.NoError(t, err)
	assert.Equal(t, "demo", built.(*types.UpgradeOp).Name)
}

func TestOperationBuildErrors(t *testing.T) {
	t.Parallel()

	for name, op := range map[string]Operation{
		"unknown type":      {Type: "spend", Caller: user.Hex(), Target: demo.Hex()},
		"bad caller":        {Type: OpCall, Caller: "0x12", Target: demo.Hex(), Api: "hello"},
		"bad target":        {Type: OpCall, Caller: user.Hex(), Target: "zz", Api: "hello"},
		"no api":            {Type: OpCall, Caller: user.Hex(), Target: demo.Hex()},
		"no template":       {Type: OpCreateNative, Caller: user.Hex()},
		"no code":           {Type: OpCreate, Caller: user.Hex()},
		"ambiguous code":    {Type: OpCreate, Caller: user.Hex(), Code: "return {}", CodeFile: "x.lua"},
		"precise amount":    {Type: OpDeposit, Caller: user.Hex(), Target: demo.Hex(), Amount: "0.000000001"},
		"missing code file": {Type: OpCreate, Caller: user.Hex(), CodeFile: "missing.lua"},
	} {
		_, err := op.Build(t.TempDir())
		assert.Error(t, err, name)
	}
}

func TestLoadBlockErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := LoadBlock(writeFile(t, dir, "zero.yaml", "height: 0\n"))
	require.ErrorContains(t, err, "height")

	_, err = LoadBlock(writeFile(t, dir, "input.yaml", expand(`
height: 1
transactions:
  - txid: $TXA
    inputs: ["$TXB"]
`)))
	require.ErrorContains(t, err, "transaction #0")

	_, err = LoadBlock(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestLoadGenesis(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "genesis.yaml", expand(`
utxos:
  - outpoint: "$TXA:1"
    address: $USER
    amount: "10"
`))
	utxos, err := LoadGenesis(path)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Utxo{{
		Outpoint: ledger.Outpoint{TxId: txA, Index: 1},
		Out:      ledger.TxOut{Address: user, Value: types.NewValueFromUint64(1_000_000_000)},
	}}, utxos)
}
