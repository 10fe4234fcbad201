package execution

import (
	"context"
	"errors"

	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
)

var errOutOfGas = errors.New("out of gas")

// GasMeter counts gas consumed by one operation. Once exhausted it stays exhausted.
type GasMeter struct {
	limit     types.Gas
	used      types.Gas
	exhausted bool
}

func NewGasMeter(limit types.Gas) *GasMeter {
	return &GasMeter{limit: limit}
}

// Charge consumes g or fails with ErrorOutOfGas consuming the rest of the limit.
func (m *GasMeter) Charge(g types.Gas) error {
	if m.exhausted || m.Remaining().Lt(g) {
		m.used = m.limit
		m.exhausted = true
		return types.NewOutOfGasError()
	}
	m.used = m.used.Add(g)
	return nil
}

func (m *GasMeter) Used() types.Gas {
	return m.used
}

func (m *GasMeter) Limit() types.Gas {
	return m.limit
}

func (m *GasMeter) Remaining() types.Gas {
	return m.limit.Sub(m.used)
}

func (m *GasMeter) Exhausted() bool {
	return m.exhausted
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// meteredContext charges one instruction every time the interpreter polls Done.
// The Lua VM polls once per instruction.
type meteredContext struct {
	context.Context
	meter *GasMeter
}

func newMeteredContext(ctx context.Context, meter *GasMeter) *meteredContext {
	return &meteredContext{Context: ctx, meter: meter}
}

func (c *meteredContext) Done() <-chan struct{} {
	if c.meter.Charge(types.GasInstruction) != nil {
		return closedChan
	}
	return c.Context.Done()
}

func (c *meteredContext) Err() error {
	if c.meter.Exhausted() {
		return errOutOfGas
	}
	return c.Context.Err()
}
