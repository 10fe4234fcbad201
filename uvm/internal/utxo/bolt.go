package utxo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/ledger"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketUtxo = []byte("utxo_by_outpoint")
	bucketUndo = []byte("undo_by_height")
	bucketMeta = []byte("meta")

	keyBestHeight = []byte("best_height")
)

// BoltSet is an unspent output set persisted in a bbolt file, with one undo record per connected block.
type BoltSet struct {
	db *bolt.DB
}

var _ ledger.Ledger = (*BoltSet)(nil)

func OpenBoltSet(path string) (*BoltSet, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketUtxo, bucketUndo, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return &BoltSet{db: bdb}, nil
}

func (s *BoltSet) Close() error {
	return s.db.Close()
}

// Seed adds outputs outside of any block.
func (s *BoltSet) Seed(utxos ...ledger.Utxo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		e := boltEntries{tx.Bucket(bucketUtxo)}
		for _, utxo := range utxos {
			if err := e.put(&utxo); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltSet) GetUtxo(_ context.Context, outpoint ledger.Outpoint) (*ledger.Utxo, error) {
	var res *ledger.Utxo
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		res, err = boltEntries{tx.Bucket(bucketUtxo)}.get(outpoint)
		return err
	})
	return res, err
}

func (s *BoltSet) BestHeight(context.Context) (uint64, error) {
	var height uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		height = readBestHeight(tx)
		return nil
	})
	return height, err
}

func (s *BoltSet) Connect(_ context.Context, height uint64, effects []ledger.Effects) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		best := readBestHeight(tx)
		if height != best+1 {
			return fmt.Errorf("%w: connecting %d on top of %d", ErrHeightMismatch, height, best)
		}
		undo, err := connect(boltEntries{tx.Bucket(bucketUtxo)}, effects)
		if err != nil {
			return err
		}
		data, err := undo.MarshalUvm()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUndo).Put(heightKey(height), data); err != nil {
			return err
		}
		if err := writeBestHeight(tx, height); err != nil {
			return err
		}
		logger.Debug().
			Uint64(logging.FieldBlockNumber, height).
			Int("spent", len(undo.Spent)).
			Int("created", len(undo.Created)).
			Msg("Block connected")
		return nil
	})
}

func (s *BoltSet) Disconnect(_ context.Context, height uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		best := readBestHeight(tx)
		if height != best || height == 0 {
			return fmt.Errorf("%w: disconnecting %d with tip %d", ErrHeightMismatch, height, best)
		}
		undoBucket := tx.Bucket(bucketUndo)
		data := undoBucket.Get(heightKey(height))
		if data == nil {
			return fmt.Errorf("%w at %d", ErrUndoMissing, height)
		}
		var undo UndoRecord
		if err := undo.UnmarshalUvm(data); err != nil {
			return fmt.Errorf("decode undo at %d: %w", height, err)
		}
		if err := disconnect(boltEntries{tx.Bucket(bucketUtxo)}, &undo); err != nil {
			return err
		}
		if err := undoBucket.Delete(heightKey(height)); err != nil {
			return err
		}
		logger.Debug().Uint64(logging.FieldBlockNumber, height).Msg("Block disconnected")
		return writeBestHeight(tx, height-1)
	})
}

func heightKey(height uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], height)
	return key[:]
}

func readBestHeight(tx *bolt.Tx) uint64 {
	data := tx.Bucket(bucketMeta).Get(keyBestHeight)
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func writeBestHeight(tx *bolt.Tx, height uint64) error {
	return tx.Bucket(bucketMeta).Put(keyBestHeight, heightKey(height))
}

type boltEntries struct {
	b *bolt.Bucket
}

func (e boltEntries) get(outpoint ledger.Outpoint) (*ledger.Utxo, error) {
	data := e.b.Get(outpoint.Key())
	if data == nil {
		return nil, ledger.NewUtxoNotFoundError(outpoint)
	}
	var utxo ledger.Utxo
	if err := utxo.UnmarshalUvm(data); err != nil {
		return nil, errors.Join(fmt.Errorf("decode utxo %s", outpoint), err)
	}
	return &utxo, nil
}

func (e boltEntries) put(utxo *ledger.Utxo) error {
	data, err := utxo.MarshalUvm()
	if err != nil {
		return err
	}
	return e.b.Put(utxo.Outpoint.Key(), data)
}

func (e boltEntries) del(outpoint ledger.Outpoint) error {
	return e.b.Delete(outpoint.Key())
}
