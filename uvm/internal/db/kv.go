package db

import (
	"context"
	"errors"
	"time"
)

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrIteratorCreate = errors.New("failed to create iterator")
)

type RoTx interface {
	Exists(tableName TableName, key []byte) (bool, error)
	Get(tableName TableName, key []byte) ([]byte, error)
	// Range iterates over keys of the table in [from, to]; nil `to` means up to the end of the table.
	Range(tableName TableName, from []byte, to []byte) (Iter, error)

	Rollback()
}

type RwTx interface {
	RoTx

	Put(tableName TableName, key, value []byte) error
	Delete(tableName TableName, key []byte) error

	Commit() error
}

type Iter interface {
	HasNext() bool
	Next() ([]byte, []byte, error)
	Close()
}

type DB interface {
	CreateRoTx(ctx context.Context) (RoTx, error)
	CreateRwTx(ctx context.Context) (RwTx, error)

	LogGC(ctx context.Context, discardRatio float64, gcFrequency time.Duration) error
	DropAll() error
	Close()
}
