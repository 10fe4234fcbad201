package db

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btccom/UnitedBitcoin/uvm/internal/serialization"
	"github.com/ethereum/go-ethereum/rlp"
)

// SchemeVersion must be bumped every time the layout of stored data changes.
const SchemeVersion = 1

const schemeVersionKey = "SchemeVersion"

type VersionInfo struct {
	Version uint64
}

func (v *VersionInfo) MarshalUvm() ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

func (v *VersionInfo) UnmarshalUvm(data []byte) error {
	return rlp.DecodeBytes(data, v)
}

func Get(tx RoTx, table TableName, key []byte) ([]byte, error) {
	data, err := tx.Get(table, key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: table=%s, key=%x", err, table, key)
	}
	return data, err
}

func ReadDecodable[
	T interface {
		~*S
		serialization.UvmUnmarshaler
	},
	S any,
](tx RoTx, table TableName, key []byte) (*S, error) {
	data, err := Get(tx, table, key)
	if err != nil {
		return nil, err
	}

	decoded := new(S)
	if err := T(decoded).UnmarshalUvm(data); err != nil {
		return nil, err
	}
	return decoded, nil
}

func WriteEncodable[T serialization.UvmMarshaler](tx RwTx, table TableName, key []byte, obj T) error {
	data, err := obj.MarshalUvm()
	if err != nil {
		return err
	}
	return tx.Put(table, key, data)
}

func HeightKey(height uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	return key
}

func ReadVersionInfo(tx RoTx) (*VersionInfo, error) {
	return ReadDecodable[*VersionInfo](tx, schemeVersionTable, []byte(schemeVersionKey))
}

func WriteVersionInfo(tx RwTx, version *VersionInfo) error {
	return WriteEncodable(tx, schemeVersionTable, []byte(schemeVersionKey), version)
}

func IsVersionOutdated(tx RoTx) (bool, error) {
	dbVersion, err := ReadVersionInfo(tx)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return dbVersion.Version != SchemeVersion, nil
}
