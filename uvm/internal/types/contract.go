package types

import (
	"encoding/binary"
	"errors"
	"slices"
	"strconv"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/ethereum/go-ethereum/rlp"
)

type ContractKind uint8

const (
	ContractKindUserCode ContractKind = iota + 1
	ContractKindNative
)

func (k ContractKind) String() string {
	switch k {
	case ContractKindUserCode:
		return "contract"
	case ContractKindNative:
		return "native"
	}
	return "unknown"
}

// ContractRecord is the persistent header of a contract. The key-value storage lives in a separate trie
// whose root is StorageRoot.
type ContractRecord struct {
	Address     Address
	Kind        ContractKind
	CodeHash    common.Hash
	Template    string
	Name        string
	Description string
	Version     uint32
	Balance     Value
	Creator     Address
	TxId        common.Hash
	CreatedAt   uint64
	StorageRoot common.Hash
	Apis        []string
	OfflineApis []string
	OnceApis    []string
}

func (c *ContractRecord) MarshalUvm() ([]byte, error) {
	return rlp.EncodeToBytes(c)
}

func (c *ContractRecord) UnmarshalUvm(data []byte) error {
	if err := rlp.DecodeBytes(data, c); err != nil {
		return err
	}
	c.Apis = nilIfEmpty(c.Apis)
	c.OfflineApis = nilIfEmpty(c.OfflineApis)
	c.OnceApis = nilIfEmpty(c.OnceApis)
	return nil
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func (c *ContractRecord) IsNative() bool {
	return c.Kind == ContractKindNative
}

func (c *ContractRecord) HasApi(api string) bool {
	return slices.Contains(c.Apis, api)
}

func (c *ContractRecord) IsOfflineApi(api string) bool {
	return slices.Contains(c.OfflineApis, api)
}

func (c *ContractRecord) IsOnceApi(api string) bool {
	return slices.Contains(c.OnceApis, api)
}

func (c *ContractRecord) Copy() *ContractRecord {
	res := *c
	res.Apis = slices.Clone(c.Apis)
	res.OfflineApis = slices.Clone(c.OfflineApis)
	res.OnceApis = slices.Clone(c.OnceApis)
	return &res
}

type StorageValueKind uint8

const (
	StorageValueInt StorageValueKind = iota + 1
	StorageValueString
	StorageValueComposite
)

var ErrStorageValueKind = errors.New("unexpected storage value kind")

// StorageValue is a typed scalar kept in contract storage. Composite values hold encoded records.
type StorageValue struct {
	Kind StorageValueKind
	Data []byte
}

func NewIntStorageValue(v int64) StorageValue {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(v))
	return StorageValue{Kind: StorageValueInt, Data: data}
}

func NewStringStorageValue(s string) StorageValue {
	return StorageValue{Kind: StorageValueString, Data: []byte(s)}
}

func NewCompositeStorageValue(data []byte) StorageValue {
	return StorageValue{Kind: StorageValueComposite, Data: slices.Clone(data)}
}

func (v StorageValue) Int() (int64, error) {
	if v.Kind != StorageValueInt || len(v.Data) != 8 {
		return 0, ErrStorageValueKind
	}
	return int64(binary.BigEndian.Uint64(v.Data)), nil
}

func (v StorageValue) Equal(other StorageValue) bool {
	return v.Kind == other.Kind && string(v.Data) == string(other.Data)
}

// String renders the value for queries: integers in decimal, strings and composites as is.
func (v StorageValue) String() string {
	if v.Kind == StorageValueInt {
		i, err := v.Int()
		if err == nil {
			return strconv.FormatInt(i, 10)
		}
	}
	return string(v.Data)
}

func (v StorageValue) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *StorageValue) MarshalUvm() ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

func (v *StorageValue) UnmarshalUvm(data []byte) error {
	return rlp.DecodeBytes(data, v)
}
