package execution

import (
	"context"
	"testing"

	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGasMeterNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		limit := types.Gas(rapid.Uint64Range(0, 10_000).Draw(t, "limit"))
		charges := rapid.SliceOf(rapid.Uint64Range(0, 500)).Draw(t, "charges")

		m := NewGasMeter(limit)
		var sum uint64
		for _, c := range charges {
			err := m.Charge(types.Gas(c))
			if m.Exhausted() {
				require.True(t, types.IsErrorCode(err, types.ErrorOutOfGas))
				require.Equal(t, limit, m.Used())
				continue
			}
			require.NoError(t, err)
			sum += c
			require.Equal(t, types.Gas(sum), m.Used())
		}
		require.LessOrEqual(t, m.Used(), limit)
	})
}

func TestMeteredContext(t *testing.T) {
	t.Parallel()

	m := NewGasMeter(2)
	ctx := newMeteredContext(context.Background(), m)
	require.Nil(t, ctx.Done())
	require.Nil(t, ctx.Done())
	require.NoError(t, ctx.Err())

	<-ctx.Done()
	require.True(t, m.Exhausted())
	require.ErrorIs(t, ctx.Err(), errOutOfGas)
}
