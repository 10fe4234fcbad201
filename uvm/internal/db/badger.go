package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/btccom/UnitedBitcoin/uvm/common/assert"
	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/dgraph-io/badger/v4"
)

var logger = logging.NewLogger("db")

// txLeakTimeout is how long a transaction may stay open in builds with assertions enabled.
const txLeakTimeout = 10 * time.Second

type BadgerDB struct {
	db *badger.DB
}

type BadgerRoTx struct {
	tx         *badger.Txn
	Terminated atomic.Bool
}

type BadgerRwTx struct {
	*BadgerRoTx
}

type BadgerIter struct {
	iter   *badger.Iterator
	prefix []byte
	last   []byte
}

var (
	_ RoTx = new(BadgerRoTx)
	_ RwTx = new(BadgerRwTx)
	_ DB   = new(BadgerDB)
	_ Iter = new(BadgerIter)
)

func NewBadgerDb(pathToDb string) (*BadgerDB, error) {
	return openBadger(badger.DefaultOptions(pathToDb))
}

func NewBadgerDbInMemory() (*BadgerDB, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerDB, error) {
	instance, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", opts.Dir, err)
	}
	return &BadgerDB{db: instance}, nil
}

func (db *BadgerDB) Close() {
	if err := db.db.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close badger")
	}
}

func (db *BadgerDB) DropAll() error {
	return db.db.DropAll()
}

// watch panics if tx is still open after txLeakTimeout. It only runs with assertions enabled.
func watch(tx *BadgerRoTx) {
	if !assert.Enable {
		return
	}
	stack := make([]byte, 1024)
	stack = stack[:runtime.Stack(stack, false)]
	go func() {
		time.Sleep(txLeakTimeout)
		if !tx.Terminated.Load() {
			panic(fmt.Sprintf("Transaction wasn't terminated:\n%s", stack))
		}
	}()
}

func (db *BadgerDB) CreateRoTx(context.Context) (RoTx, error) {
	tx := &BadgerRoTx{tx: db.db.NewTransaction(false)}
	watch(tx)
	return tx, nil
}

func (db *BadgerDB) CreateRwTx(context.Context) (RwTx, error) {
	tx := &BadgerRwTx{&BadgerRoTx{tx: db.db.NewTransaction(true)}}
	watch(tx.BadgerRoTx)
	return tx, nil
}

// LogGC rewrites value log files every gcFrequency until ctx is done.
func (db *BadgerDB) LogGC(ctx context.Context, discardRatio float64, gcFrequency time.Duration) error {
	logger.Info().Dur(logging.FieldDuration, gcFrequency).Msg("Starting badger value log GC")
	ticker := time.NewTicker(gcFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := db.collectValueLog(discardRatio); err != nil {
				logger.Error().Err(err).Msg("Badger value log GC failed")
				return err
			}
		case <-ctx.Done():
			logger.Info().Msg("Stopping badger value log GC")
			return nil
		}
	}
}

// collectValueLog runs GC rounds while badger still finds files worth rewriting.
func (db *BadgerDB) collectValueLog(discardRatio float64) error {
	rounds := 0
	for {
		err := db.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			logger.Debug().Int("rounds", rounds).Msg("Badger value log GC done")
			return nil
		}
		if err != nil {
			return err
		}
		rounds++
	}
}

func (tx *BadgerRwTx) Commit() error {
	tx.Terminated.Store(true)
	return tx.tx.Commit()
}

func (tx *BadgerRoTx) Rollback() {
	tx.Terminated.Store(true)
	tx.tx.Discard()
}

func (tx *BadgerRwTx) Put(tableName TableName, key, value []byte) error {
	return tx.tx.Set(MakeKey(tableName, key), value)
}

func (tx *BadgerRwTx) Delete(tableName TableName, key []byte) error {
	return tx.tx.Delete(MakeKey(tableName, key))
}

func (tx *BadgerRoTx) Get(tableName TableName, key []byte) ([]byte, error) {
	item, err := tx.tx.Get(MakeKey(tableName, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (tx *BadgerRoTx) Exists(tableName TableName, key []byte) (bool, error) {
	_, err := tx.tx.Get(MakeKey(tableName, key))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (tx *BadgerRoTx) Range(tableName TableName, from []byte, to []byte) (Iter, error) {
	prefix := MakeKey(tableName, nil)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := tx.tx.NewIterator(opts)
	if it == nil {
		return nil, ErrIteratorCreate
	}
	it.Seek(MakeKey(tableName, from))

	res := &BadgerIter{iter: it, prefix: prefix}
	if to != nil {
		res.last = MakeKey(tableName, to)
	}
	return res, nil
}

func (it *BadgerIter) HasNext() bool {
	if !it.iter.ValidForPrefix(it.prefix) {
		return false
	}
	return it.last == nil || bytes.Compare(it.iter.Item().Key(), it.last) <= 0
}

func (it *BadgerIter) Next() ([]byte, []byte, error) {
	item := it.iter.Item()
	key := item.KeyCopy(nil)
	value, err := item.ValueCopy(nil)
	it.iter.Next()
	if err != nil {
		return nil, nil, err
	}
	return key[len(it.prefix):], value, nil
}

func (it *BadgerIter) Close() {
	it.iter.Close()
}
