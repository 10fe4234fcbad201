package types

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Precision is the number of smallest units in one coin.
const (
	Precision         = 100_000_000
	precisionExponent = 8
)

var (
	ErrValueOverflow  = errors.New("value overflow")
	ErrValueUnderflow = errors.New("value underflow")
	ErrNegativeValue  = errors.New("negative value")
)

// Value is a non-negative amount in the smallest ledger unit.
type Value struct {
	int uint256.Int
}

var ZeroValue = Value{}

func NewValueFromUint64(val uint64) Value {
	var v Value
	v.int.SetUint64(val)
	return v
}

func NewValueFromBig(val *big.Int) (Value, error) {
	if val.Sign() < 0 {
		return Value{}, ErrNegativeValue
	}
	var v Value
	if overflow := v.int.SetFromBig(val); overflow {
		return Value{}, ErrValueOverflow
	}
	return v, nil
}

// NewValueFromDecimalString parses an integer amount in the smallest units, e.g. "30000000".
func NewValueFromDecimalString(s string) (Value, error) {
	var v Value
	if err := v.int.SetFromDecimal(s); err != nil {
		return Value{}, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return v, nil
}

// ParseCoins parses a coin amount like "0.3" into smallest units.
func ParseCoins(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	units := d.Shift(precisionExponent)
	if !units.IsInteger() {
		return Value{}, fmt.Errorf("amount %q is more precise than %d digits", s, precisionExponent)
	}
	return NewValueFromBig(units.BigInt())
}

func (v Value) IsZero() bool {
	return v.int.IsZero()
}

func (v Value) Add(other Value) Value {
	res, err := v.AddOverflow(other)
	if err != nil {
		panic(err)
	}
	return res
}

func (v Value) AddOverflow(other Value) (Value, error) {
	var res Value
	if _, overflow := res.int.AddOverflow(&v.int, &other.int); overflow {
		return Value{}, ErrValueOverflow
	}
	return res, nil
}

func (v Value) Sub(other Value) Value {
	res, err := v.SubOverflow(other)
	if err != nil {
		panic(err)
	}
	return res
}

func (v Value) SubOverflow(other Value) (Value, error) {
	var res Value
	if _, underflow := res.int.SubOverflow(&v.int, &other.int); underflow {
		return Value{}, ErrValueUnderflow
	}
	return res, nil
}

func (v Value) Mul64Overflow(other uint64) (Value, bool) {
	var res Value
	_, overflow := res.int.MulOverflow(&v.int, uint256.NewInt(other))
	return res, overflow
}

func (v Value) Cmp(other Value) int {
	return v.int.Cmp(&other.int)
}

func (v Value) Lt(other Value) bool {
	return v.Cmp(other) < 0
}

func (v Value) Uint64() uint64 {
	return v.int.Uint64()
}

func (v Value) IsUint64() bool {
	return v.int.IsUint64()
}

func (v Value) ToBig() *big.Int {
	return v.int.ToBig()
}

// Coins returns the amount in whole coins.
func (v Value) Coins() decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), -precisionExponent)
}

func (v Value) String() string {
	return v.int.Dec()
}

func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Value) UnmarshalText(input []byte) error {
	res, err := NewValueFromDecimalString(string(input))
	if err != nil {
		return err
	}
	*v = res
	return nil
}

func (v Value) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, v.ToBig())
}

func (v *Value) DecodeRLP(s *rlp.Stream) error {
	b, err := s.BigInt()
	if err != nil {
		return err
	}
	res, err := NewValueFromBig(b)
	if err != nil {
		return err
	}
	*v = res
	return nil
}

// Set implements pflag.Value. The input is a coin amount.
func (v *Value) Set(value string) error {
	res, err := ParseCoins(value)
	if err != nil {
		return err
	}
	*v = res
	return nil
}

func (Value) Type() string {
	return "Value"
}
