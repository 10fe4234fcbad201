package types

import (
	"math/big"
)

// BalanceChange is the unit of value movement produced by an operation.
// IsContract tells whether Address is a contract balance or externally held (UTXO) funds.
type BalanceChange struct {
	Address    Address `json:"address"`
	Amount     Value   `json:"amount"`
	IsContract bool    `json:"is_contract"`
	IsAdd      bool    `json:"is_add"`
}

type BalanceChanges []BalanceChange

type balanceKey struct {
	addr       Address
	isContract bool
}

func (c BalanceChange) signed() *big.Int {
	v := c.Amount.ToBig()
	if !c.IsAdd {
		v.Neg(v)
	}
	return v
}

// Merge nets the changes of every (address, kind) pair keeping the order of first appearance.
// Pairs that net to zero are dropped.
func (cs BalanceChanges) Merge() BalanceChanges {
	order := make([]balanceKey, 0, len(cs))
	sums := make(map[balanceKey]*big.Int, len(cs))
	for _, c := range cs {
		key := balanceKey{c.Address, c.IsContract}
		sum, ok := sums[key]
		if !ok {
			sum = new(big.Int)
			sums[key] = sum
			order = append(order, key)
		}
		sum.Add(sum, c.signed())
	}

	res := make(BalanceChanges, 0, len(order))
	for _, key := range order {
		sum := sums[key]
		if sum.Sign() == 0 {
			continue
		}
		isAdd := sum.Sign() > 0
		amount, err := NewValueFromBig(new(big.Int).Abs(sum))
		if err != nil {
			// the sum of uint256 values of one sign is bounded by the inputs
			panic(err)
		}
		res = append(res, BalanceChange{Address: key.addr, Amount: amount, IsContract: key.isContract, IsAdd: isAdd})
	}
	return res
}

// Net returns the signed sum of all changes.
func (cs BalanceChanges) Net() *big.Int {
	sum := new(big.Int)
	for _, c := range cs {
		sum.Add(sum, c.signed())
	}
	return sum
}

// Total sums the amounts of changes of the given kind and direction.
func (cs BalanceChanges) Total(isContract, isAdd bool) Value {
	var total Value
	for _, c := range cs {
		if c.IsContract == isContract && c.IsAdd == isAdd {
			total = total.Add(c.Amount)
		}
	}
	return total
}

// ContractDebits returns how much was pulled from each contract, in order of appearance.
func (cs BalanceChanges) ContractDebits() []SpendOp {
	var res []SpendOp
	for _, c := range cs.Merge() {
		if c.IsContract && !c.IsAdd {
			res = append(res, SpendOp{Source: c.Address, Amount: c.Amount})
		}
	}
	return res
}
