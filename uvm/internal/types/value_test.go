package types

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoins(t *testing.T) {
	t.Parallel()

	v, err := ParseCoins("0.3")
	require.NoError(t, err)
	assert.Equal(t, NewValueFromUint64(30_000_000), v)
	assert.Equal(t, "0.3", v.Coins().String())

	v, err = ParseCoins("12")
	require.NoError(t, err)
	assert.Equal(t, NewValueFromUint64(12*Precision), v)

	_, err = ParseCoins("0.000000001")
	require.Error(t, err)

	_, err = ParseCoins("-1")
	require.ErrorIs(t, err, ErrNegativeValue)

	_, err = ParseCoins("abc")
	require.Error(t, err)
}

func TestValueArithmetic(t *testing.T) {
	t.Parallel()

	a := NewValueFromUint64(100)
	b := NewValueFromUint64(30)

	assert.Equal(t, NewValueFromUint64(130), a.Add(b))
	assert.Equal(t, NewValueFromUint64(70), a.Sub(b))
	assert.True(t, b.Lt(a))
	assert.Equal(t, 1, a.Cmp(b))

	_, err := b.SubOverflow(a)
	require.ErrorIs(t, err, ErrValueUnderflow)
	assert.Panics(t, func() { b.Sub(a) })

	fee := Gas(1000).ToValue(NewValueFromUint64(10))
	assert.Equal(t, NewValueFromUint64(10_000), fee)
}

func TestValueRlp(t *testing.T) {
	t.Parallel()

	for _, v := range []Value{{}, NewValueFromUint64(1), NewValueFromUint64(30_000_000)} {
		data, err := rlp.EncodeToBytes(v)
		require.NoError(t, err)

		var decoded Value
		require.NoError(t, rlp.DecodeBytes(data, &decoded))
		assert.Equal(t, v, decoded)
	}
}

func TestValueJson(t *testing.T) {
	t.Parallel()

	str, err := json.Marshal(NewValueFromUint64(12345678))
	require.NoError(t, err)
	assert.JSONEq(t, `"12345678"`, string(str))

	var v Value
	require.NoError(t, json.Unmarshal(str, &v))
	assert.Equal(t, NewValueFromUint64(12345678), v)
}
