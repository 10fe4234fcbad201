package types

import (
	"testing"

	ssz "github.com/NilFoundation/fastssz"
	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRootSsz(t *testing.T) {
	t.Parallel()

	root := StateRoot{Height: 42, Hash: common.KeccakHash([]byte("root"))}
	data, err := root.MarshalSSZ()
	require.NoError(t, err)
	assert.Len(t, data, root.SizeSSZ())

	var decoded StateRoot
	require.NoError(t, decoded.UnmarshalSSZ(data))
	assert.Equal(t, root, decoded)

	require.ErrorIs(t, decoded.UnmarshalSSZ(data[:10]), ssz.ErrSize)
}
