package types

import (
	"testing"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() OpHeader {
	return OpHeader{
		Version:  OperationVersion,
		Caller:   BytesToAddress([]byte{1, 2, 3}),
		GasLimit: 5000,
		GasPrice: NewValueFromUint64(10),
	}
}

func TestOperationRoundTrip(t *testing.T) {
	t.Parallel()

	target := CreateContractAddress(common.KeccakHash([]byte("create")))
	ops := []Operation{
		&CreateOp{testHeader(), []byte("return {}")},
		&CreateNativeOp{testHeader(), "dgp"},
		&CallOp{testHeader(), target, "withdraw", "0.3"},
		&SpendOp{target, NewValueFromUint64(30_000_000)},
		&UpgradeOp{testHeader(), target, "my_contract", "first contract"},
		&DepositOp{testHeader(), target, NewValueFromUint64(30_000_000), "memo"},
	}

	for _, op := range ops {
		t.Run(op.OpCode().String(), func(t *testing.T) {
			t.Parallel()

			data, err := EncodeOperation(op)
			require.NoError(t, err)

			decoded, err := DecodeOperation(data)
			require.NoError(t, err)
			assert.Equal(t, op, decoded)
		})
	}
}

func TestOperationWireLayout(t *testing.T) {
	t.Parallel()

	target := BytesToAddress([]byte{9})
	data, err := EncodeOperation(&CallOp{testHeader(), target, "transfer", "a,10"})
	require.NoError(t, err)

	var fields []rlp.RawValue
	require.NoError(t, rlp.DecodeBytes(data, &fields))
	require.Len(t, fields, 8)

	var version uint8
	require.NoError(t, rlp.DecodeBytes(fields[0], &version))
	assert.Equal(t, OperationVersion, version)

	var arg, api string
	require.NoError(t, rlp.DecodeBytes(fields[1], &arg))
	require.NoError(t, rlp.DecodeBytes(fields[2], &api))
	assert.Equal(t, "a,10", arg)
	assert.Equal(t, "transfer", api)

	var tag OpCode
	require.NoError(t, rlp.DecodeBytes(fields[7], &tag))
	assert.Equal(t, OpCall, tag)

	data, err = EncodeOperation(&SpendOp{target, NewValueFromUint64(5)})
	require.NoError(t, err)
	require.NoError(t, rlp.DecodeBytes(data, &fields))
	require.Len(t, fields, 3)
}

func TestDecodeOperationErrors(t *testing.T) {
	t.Parallel()

	_, err := DecodeOperation([]byte{0x01})
	require.Error(t, err)

	data, err := rlp.EncodeToBytes([]any{uint8(1), uint8(77)})
	require.NoError(t, err)
	_, err = DecodeOperation(data)
	require.ErrorIs(t, err, ErrUnknownOpCode)
}

func TestOperationTarget(t *testing.T) {
	t.Parallel()

	target := BytesToAddress([]byte{7})
	addr, ok := OperationTarget(&DepositOp{OpHeader: testHeader(), Target: target})
	assert.True(t, ok)
	assert.Equal(t, target, addr)

	_, ok = OperationTarget(&CreateNativeOp{OpHeader: testHeader(), Template: "token"})
	assert.False(t, ok)
}
