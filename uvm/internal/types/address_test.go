package types

import (
	"testing"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateContractAddress(t *testing.T) {
	t.Parallel()

	tx1 := common.KeccakHash([]byte("tx1"))
	tx2 := common.KeccakHash([]byte("tx2"))

	addr1 := CreateContractAddress(tx1)
	assert.Equal(t, addr1, CreateContractAddress(tx1))
	assert.NotEqual(t, addr1, CreateContractAddress(tx2))
	assert.False(t, addr1.IsEmpty())
}

func TestHexToAddress(t *testing.T) {
	t.Parallel()

	addr, err := HexToAddress("0x0002F09EC9F5cCA264eba822BB887f5c900c6e71")
	require.NoError(t, err)
	assert.Equal(t, "0x0002f09ec9f5cca264eba822bb887f5c900c6e71", addr.Hex())

	same, err := HexToAddress("0002f09ec9f5cca264eba822bb887f5c900c6e71")
	require.NoError(t, err)
	assert.Equal(t, addr, same)

	_, err = HexToAddress("0x1234")
	require.Error(t, err)

	_, err = HexToAddress("0xzz")
	require.Error(t, err)

	var text Address
	require.NoError(t, text.UnmarshalText([]byte(addr.Hex())))
	assert.Equal(t, addr, text)
}

func TestBytesToAddress(t *testing.T) {
	t.Parallel()

	short := BytesToAddress([]byte{1, 2})
	assert.Equal(t, byte(1), short[AddrSize-2])
	assert.Equal(t, byte(2), short[AddrSize-1])
	assert.Equal(t, make([]byte, AddrSize-2), short[:AddrSize-2])

	long := make([]byte, AddrSize+4)
	for i := range long {
		long[i] = byte(i)
	}
	cropped := BytesToAddress(long)
	assert.Equal(t, long[4:], cropped.Bytes())
}
