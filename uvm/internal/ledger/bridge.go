package ledger

import (
	"context"
	"fmt"

	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
)

var logger = logging.NewLogger("ledger")

// BuildWithdrawOutputs returns the outputs paying every external credit of changes.
func BuildWithdrawOutputs(changes types.BalanceChanges) []TxOut {
	var outs []TxOut
	for _, c := range changes.Merge() {
		if !c.IsContract && c.IsAdd {
			outs = append(outs, TxOut{Address: c.Address, Value: c.Amount})
		}
	}
	return outs
}

// DeclaredSpends returns the spend declarations a transaction needs to carry for changes.
func DeclaredSpends(changes types.BalanceChanges) []types.SpendOp {
	return changes.ContractDebits()
}

// Reconcile checks a transaction against the balance changes of its contract operation and returns its
// effects on the unspent output set:
//
//	consumed + contractReduced == produced + contractIncreased + fee
//
// The fee must cover the gas used and every external credit must be paid by outputs to the same address.
func Reconcile(
	ctx context.Context,
	view View,
	tx *Transaction,
	changes types.BalanceChanges,
	gasUsed types.Gas,
	height uint64,
) (*Effects, error) {
	effects := &Effects{TxId: tx.TxId}

	var consumed types.Value
	seen := make(map[Outpoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, ok := seen[in]; ok {
			return nil, types.NewVerboseError(types.ErrorInvalidArgument, "outpoint "+in.String()+" is spent twice")
		}
		seen[in] = struct{}{}
		utxo, err := view.GetUtxo(ctx, in)
		if err != nil {
			return nil, err
		}
		if consumed, err = consumed.AddOverflow(utxo.Out.Value); err != nil {
			return nil, types.NewVerboseError(types.ErrorBalanceConservationViolation, err.Error())
		}
		effects.Spent = append(effects.Spent, *utxo)
	}

	var produced types.Value
	paid := make(map[types.Address]types.Value)
	for i, out := range tx.Outputs {
		var err error
		if produced, err = produced.AddOverflow(out.Value); err != nil {
			return nil, types.NewVerboseError(types.ErrorBalanceConservationViolation, err.Error())
		}
		paid[out.Address] = paid[out.Address].Add(out.Value)
		effects.Created = append(effects.Created, Utxo{
			Outpoint: Outpoint{TxId: tx.TxId, Index: uint32(i)},
			Out:      out,
			Height:   height,
		})
	}

	merged := changes.Merge()
	in := consumed.ToBig()
	in.Add(in, merged.Total(true, false).ToBig())
	out := produced.ToBig()
	out.Add(out, merged.Total(true, true).ToBig())
	out.Add(out, tx.Fee.ToBig())
	if in.Cmp(out) != 0 {
		return nil, types.NewVerboseError(types.ErrorBalanceConservationViolation,
			fmt.Sprintf("transaction %s moves %s in and %s out", tx.TxId, in, out))
	}

	if hop, ok := tx.Op.(types.HeaderedOperation); ok {
		required, overflow := gasUsed.ToValueOverflow(hop.Header().GasPrice)
		if overflow || tx.Fee.Lt(required) {
			return nil, types.NewVerboseError(types.ErrorInsufficientFee,
				fmt.Sprintf("fee %s does not cover %s gas", tx.Fee, gasUsed))
		}
	}

	for _, c := range merged {
		if c.IsContract || !c.IsAdd {
			continue
		}
		if paid[c.Address].Lt(c.Amount) {
			return nil, types.NewVerboseError(types.ErrorBalanceConservationViolation,
				fmt.Sprintf("%s is credited %s but paid %s", c.Address, c.Amount, paid[c.Address]))
		}
	}

	logger.Trace().
		Stringer(logging.FieldTxId, tx.TxId).
		Int("spent", len(effects.Spent)).
		Int("created", len(effects.Created)).
		Msg("Transaction reconciled")
	return effects, nil
}

// BlockView applies the effects of earlier transactions of a block on top of a view.
type BlockView struct {
	base    View
	spent   map[Outpoint]struct{}
	created map[Outpoint]Utxo
	effects []Effects
}

var _ View = (*BlockView)(nil)

func NewBlockView(base View) *BlockView {
	return &BlockView{
		base:    base,
		spent:   make(map[Outpoint]struct{}),
		created: make(map[Outpoint]Utxo),
	}
}

func (v *BlockView) GetUtxo(ctx context.Context, outpoint Outpoint) (*Utxo, error) {
	if _, ok := v.spent[outpoint]; ok {
		return nil, NewUtxoNotFoundError(outpoint)
	}
	if utxo, ok := v.created[outpoint]; ok {
		return &utxo, nil
	}
	return v.base.GetUtxo(ctx, outpoint)
}

func (v *BlockView) BestHeight(ctx context.Context) (uint64, error) {
	return v.base.BestHeight(ctx)
}

func (v *BlockView) Apply(effects *Effects) {
	for _, utxo := range effects.Spent {
		v.spent[utxo.Outpoint] = struct{}{}
	}
	for _, utxo := range effects.Created {
		v.created[utxo.Outpoint] = utxo
	}
	v.effects = append(v.effects, *effects)
}

// Effects returns the applied effects in order.
func (v *BlockView) Effects() []Effects {
	return v.effects
}
