package types

import (
	"strconv"

	"github.com/btccom/UnitedBitcoin/uvm/common/check"
)

// Costs of the metered primitives.
const (
	GasInstruction     = Gas(1)
	GasStorageRead     = Gas(5)
	GasStorageWrite    = Gas(20)
	GasTransfer        = Gas(50)
	GasEmit            = Gas(10)
	GasNativeApi       = Gas(100)
	GasCreateBase      = Gas(1_000)
	GasCreatePerByte   = Gas(1)
	GasUpgrade         = Gas(100)
	GasDeposit         = Gas(100)
	DefaultMinGasPrice = 10

	// Size-dependent costs. A word is 32 bytes.
	GasStorageWriteWord = Gas(16)
	GasEmitWord         = Gas(4)
	GasStringByte       = Gas(1)

	DefaultMaxGasInBlock      = Gas(100_000_000)
	DefaultMinGasCount        = Gas(100)
	DefaultMaxCodeStoreFeeGas = Gas(10_000)
	DefaultOfflineGasLimit    = Gas(100_000_000)
)

type Gas uint64

func (g Gas) Uint64() uint64 {
	return uint64(g)
}

func (g Gas) Add(other Gas) Gas {
	return Gas(g.Uint64() + other.Uint64())
}

func (g Gas) Sub(other Gas) Gas {
	return Gas(g.Uint64() - other.Uint64())
}

func (g Gas) Lt(other Gas) bool {
	return g.Uint64() < other.Uint64()
}

func (g Gas) ToValue(price Value) Value {
	res, overflow := g.ToValueOverflow(price)
	check.PanicIfNot(!overflow)
	return res
}

func (g Gas) ToValueOverflow(price Value) (Value, bool) {
	return price.Mul64Overflow(g.Uint64())
}

func (g Gas) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *Gas) UnmarshalText(input []byte) error {
	res, err := strconv.ParseUint(string(input), 10, 64)
	if err != nil {
		return err
	}
	*g = Gas(res)
	return nil
}

func (g Gas) String() string {
	return strconv.FormatUint(g.Uint64(), 10)
}

func (g *Gas) Set(value string) error {
	return g.UnmarshalText([]byte(value))
}

func (Gas) Type() string {
	return "Gas"
}
