package contracts

import (
	"github.com/btccom/UnitedBitcoin/uvm/internal/db"
	"github.com/btccom/UnitedBitcoin/uvm/internal/mpt"
)

// Backend provides node storage for the contract tries and the code table.
// Getter and Setter of the same table must observe each other's writes.
type Backend interface {
	Getter(table db.TableName) mpt.Getter
	Setter(table db.TableName) mpt.Setter
}

type DbBackend struct {
	tx db.RwTx
}

var _ Backend = new(DbBackend)

func NewDbBackend(tx db.RwTx) *DbBackend {
	return &DbBackend{tx: tx}
}

func (b *DbBackend) Getter(table db.TableName) mpt.Getter {
	return mpt.NewDbGetter(b.tx, table)
}

func (b *DbBackend) Setter(table db.TableName) mpt.Setter {
	return mpt.NewDbSetter(b.tx, table)
}

// OverlayBackend reads committed data through a read-only transaction and keeps every write in memory.
type OverlayBackend struct {
	tx       db.RoTx
	overlays map[db.TableName]*mpt.Overlay
}

var _ Backend = new(OverlayBackend)

func NewOverlayBackend(tx db.RoTx) *OverlayBackend {
	return &OverlayBackend{tx: tx, overlays: make(map[db.TableName]*mpt.Overlay)}
}

func (b *OverlayBackend) overlay(table db.TableName) *mpt.Overlay {
	o, ok := b.overlays[table]
	if !ok {
		o = mpt.NewOverlay(mpt.NewDbGetter(b.tx, table))
		b.overlays[table] = o
	}
	return o
}

func (b *OverlayBackend) Getter(table db.TableName) mpt.Getter {
	return b.overlay(table)
}

func (b *OverlayBackend) Setter(table db.TableName) mpt.Setter {
	return b.overlay(table)
}

// Flush moves all buffered writes into tx.
func (b *OverlayBackend) Flush(tx db.RwTx) error {
	for table, o := range b.overlays {
		if err := o.Flush(mpt.NewDbSetter(tx, table)); err != nil {
			return err
		}
	}
	return nil
}
