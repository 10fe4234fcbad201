package utxo

import (
	"errors"
	"fmt"

	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/ledger"
	"github.com/ethereum/go-ethereum/rlp"
)

var logger = logging.NewLogger("utxo")

var (
	ErrHeightMismatch = errors.New("block height does not extend the set")
	ErrUndoMissing    = errors.New("undo record is missing")
)

// UndoRecord restores the set to its state before a block was connected.
type UndoRecord struct {
	Spent   []ledger.Utxo
	Created []ledger.Outpoint
}

func (u *UndoRecord) MarshalUvm() ([]byte, error) {
	return rlp.EncodeToBytes(u)
}

func (u *UndoRecord) UnmarshalUvm(data []byte) error {
	return rlp.DecodeBytes(data, u)
}

// entries is the mutable storage under a set.
type entries interface {
	get(outpoint ledger.Outpoint) (*ledger.Utxo, error)
	put(utxo *ledger.Utxo) error
	del(outpoint ledger.Outpoint) error
}

// connect applies the effects in order and returns the record undoing them.
// Outputs created and spent inside the block leave no trace in the record.
func connect(e entries, effects []ledger.Effects) (*UndoRecord, error) {
	undo := &UndoRecord{}
	created := make(map[ledger.Outpoint]struct{})
	for _, eff := range effects {
		for _, spent := range eff.Spent {
			utxo, err := e.get(spent.Outpoint)
			if err != nil {
				return nil, err
			}
			if err := e.del(spent.Outpoint); err != nil {
				return nil, err
			}
			if _, ok := created[spent.Outpoint]; ok {
				delete(created, spent.Outpoint)
				continue
			}
			undo.Spent = append(undo.Spent, *utxo)
		}
		for _, utxo := range eff.Created {
			if _, err := e.get(utxo.Outpoint); err == nil {
				return nil, fmt.Errorf("output %s already exists", utxo.Outpoint)
			}
			if err := e.put(&utxo); err != nil {
				return nil, err
			}
			created[utxo.Outpoint] = struct{}{}
		}
	}
	for _, eff := range effects {
		for _, utxo := range eff.Created {
			if _, ok := created[utxo.Outpoint]; ok {
				undo.Created = append(undo.Created, utxo.Outpoint)
			}
		}
	}
	return undo, nil
}

func disconnect(e entries, undo *UndoRecord) error {
	for _, outpoint := range undo.Created {
		if err := e.del(outpoint); err != nil {
			return err
		}
	}
	for _, utxo := range undo.Spent {
		if err := e.put(&utxo); err != nil {
			return err
		}
	}
	return nil
}
