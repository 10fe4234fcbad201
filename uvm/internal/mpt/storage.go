package mpt

import (
	"github.com/btccom/UnitedBitcoin/uvm/internal/db"
)

type Getter interface {
	Get(key []byte) ([]byte, error)
}

type Setter interface {
	Set(key, value []byte) error
}

type DbGetter struct {
	tx    db.RoTx
	table db.TableName
}

func NewDbGetter(tx db.RoTx, table db.TableName) *DbGetter {
	return &DbGetter{tx: tx, table: table}
}

func (g *DbGetter) Get(key []byte) ([]byte, error) {
	return g.tx.Get(g.table, key)
}

type DbSetter struct {
	tx    db.RwTx
	table db.TableName
}

func NewDbSetter(tx db.RwTx, table db.TableName) *DbSetter {
	return &DbSetter{tx: tx, table: table}
}

func (s *DbSetter) Set(key, value []byte) error {
	return s.tx.Put(s.table, key, value)
}

type MapGetter struct {
	holder map[string][]byte
}

func NewMapGetter(holder map[string][]byte) *MapGetter {
	return &MapGetter{holder: holder}
}

func (g *MapGetter) Get(key []byte) ([]byte, error) {
	value, ok := g.holder[string(key)]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return value, nil
}

type MapSetter struct {
	holder map[string][]byte
}

func NewMapSetter(holder map[string][]byte) *MapSetter {
	return &MapSetter{holder: holder}
}

func (s *MapSetter) Set(key, value []byte) error {
	s.holder[string(key)] = value
	return nil
}

// Overlay keeps written nodes in memory and falls back to the base getter on reads.
type Overlay struct {
	base    Getter
	written map[string][]byte
}

var (
	_ Getter = new(Overlay)
	_ Setter = new(Overlay)
)

func NewOverlay(base Getter) *Overlay {
	return &Overlay{base: base, written: make(map[string][]byte)}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if value, ok := o.written[string(key)]; ok {
		return value, nil
	}
	if o.base == nil {
		return nil, db.ErrKeyNotFound
	}
	return o.base.Get(key)
}

func (o *Overlay) Set(key, value []byte) error {
	o.written[string(key)] = value
	return nil
}

// Flush writes all nodes accumulated by the overlay into setter.
func (o *Overlay) Flush(setter Setter) error {
	for k, v := range o.written {
		if err := setter.Set([]byte(k), v); err != nil {
			return err
		}
	}
	clear(o.written)
	return nil
}
