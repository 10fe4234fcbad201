package contracts

import (
	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/mpt"
	"github.com/btccom/UnitedBitcoin/uvm/internal/serialization"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/ethereum/go-ethereum/rlp"
)

type MPTValue[S any] interface {
	~*S
	serialization.UvmMarshaler
	serialization.UvmUnmarshaler
}

type BaseMPTReader[K any, V any, VPtr MPTValue[V]] struct {
	*mpt.Reader

	keyToBytes func(k K) []byte
}

type BaseMPT[K any, V any, VPtr MPTValue[V]] struct {
	*BaseMPTReader[K, V, VPtr]

	rwTrie *mpt.MerklePatriciaTrie
}

// storageEntry keeps the original key next to the value, since long keys are hashed in the trie.
type storageEntry struct {
	Key   string
	Value types.StorageValue
}

func (e *storageEntry) MarshalUvm() ([]byte, error) {
	return rlp.EncodeToBytes(e)
}

func (e *storageEntry) UnmarshalUvm(data []byte) error {
	return rlp.DecodeBytes(data, e)
}

type nameEntry struct {
	Address types.Address
}

func (e *nameEntry) MarshalUvm() ([]byte, error) {
	return rlp.EncodeToBytes(e)
}

func (e *nameEntry) UnmarshalUvm(data []byte) error {
	return rlp.DecodeBytes(data, e)
}

type (
	ContractTrie = BaseMPT[types.Address, types.ContractRecord, *types.ContractRecord]
	NameTrie     = BaseMPT[string, nameEntry, *nameEntry]
	EventTrie    = BaseMPT[common.Hash, types.Events, *types.Events]
	StorageTrie  = BaseMPT[string, storageEntry, *storageEntry]
)

func addressKey(k types.Address) []byte { return k.Bytes() }
func stringKey(k string) []byte         { return []byte(k) }
func hashKey(k common.Hash) []byte      { return k.Bytes() }

func NewContractTrie(parent *mpt.MerklePatriciaTrie) *ContractTrie {
	return &ContractTrie{
		BaseMPTReader: &BaseMPTReader[types.Address, types.ContractRecord, *types.ContractRecord]{
			parent.Reader, addressKey,
		},
		rwTrie: parent,
	}
}

func NewNameTrie(parent *mpt.MerklePatriciaTrie) *NameTrie {
	return &NameTrie{
		BaseMPTReader: &BaseMPTReader[string, nameEntry, *nameEntry]{parent.Reader, stringKey},
		rwTrie:        parent,
	}
}

func NewEventTrie(parent *mpt.MerklePatriciaTrie) *EventTrie {
	return &EventTrie{
		BaseMPTReader: &BaseMPTReader[common.Hash, types.Events, *types.Events]{parent.Reader, hashKey},
		rwTrie:        parent,
	}
}

func NewStorageTrie(parent *mpt.MerklePatriciaTrie) *StorageTrie {
	return &StorageTrie{
		BaseMPTReader: &BaseMPTReader[string, storageEntry, *storageEntry]{parent.Reader, stringKey},
		rwTrie:        parent,
	}
}

func (m *BaseMPTReader[K, V, VPtr]) newV() VPtr {
	var v V
	return VPtr(&v)
}

func (m *BaseMPTReader[K, V, VPtr]) Fetch(key K) (VPtr, error) {
	raw, err := m.Get(m.keyToBytes(key))
	if err != nil {
		return nil, err
	}
	v := m.newV()
	return v, v.UnmarshalUvm(raw)
}

func (m *BaseMPTReader[K, V, VPtr]) Values() ([]VPtr, error) {
	res := make([]VPtr, 0)
	err := m.IterateErr(func(_, value []byte) error {
		v := m.newV()
		if err := v.UnmarshalUvm(value); err != nil {
			return err
		}
		res = append(res, v)
		return nil
	})
	return res, err
}

func (m *BaseMPT[K, V, VPtr]) Update(key K, value VPtr) error {
	return mpt.SetEntity(m.rwTrie, m.keyToBytes(key), value)
}

func (m *BaseMPT[K, V, VPtr]) Delete(key K) error {
	return m.rwTrie.Delete(m.keyToBytes(key))
}
