package contracts

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/common/check"
	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/db"
	"github.com/btccom/UnitedBitcoin/uvm/internal/mpt"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

var logger = logging.NewLogger("contracts")

const (
	recordCacheSize = 1024
	codeCacheSize   = 64

	// governanceKey is kept in the name trie. Contract names cannot contain ':'.
	governanceKey = "native:dgp"
)

var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,49}$`)

// Roots are the trie roots that together describe the contract store.
type Roots struct {
	Contracts common.Hash
	Names     common.Hash
	Events    common.Hash
}

// StorageItem is one key of a contract storage.
type StorageItem struct {
	Key   string             `json:"key"`
	Value types.StorageValue `json:"value"`
}

// Store is the contract store at a given set of roots. Writes go to the backend and move the roots.
// A Store is not safe for concurrent use.
type Store struct {
	backend   Backend
	contracts *ContractTrie
	names     *NameTrie
	events    *EventTrie

	records *lru.Cache[types.Address, *types.ContractRecord]
	codes   *lru.Cache[common.Hash, []byte]
}

func NewStore(backend Backend, roots Roots) *Store {
	records, err := lru.New[types.Address, *types.ContractRecord](recordCacheSize)
	check.PanicIfErr(err)
	codes, err := lru.New[common.Hash, []byte](codeCacheSize)
	check.PanicIfErr(err)

	s := &Store{backend: backend, records: records, codes: codes}
	s.contracts = NewContractTrie(s.newTrie(db.ContractTrieTable, roots.Contracts))
	s.names = NewNameTrie(s.newTrie(db.NameTrieTable, roots.Names))
	s.events = NewEventTrie(s.newTrie(db.EventTrieTable, roots.Events))
	return s
}

func (s *Store) newTrie(table db.TableName, root common.Hash) *mpt.MerklePatriciaTrie {
	trie := mpt.NewMPT(s.backend.Setter(table), mpt.NewReader(s.backend.Getter(table)))
	trie.SetRootHash(root)
	return trie
}

func (s *Store) Roots() Roots {
	return Roots{
		Contracts: s.contracts.RootHash(),
		Names:     s.names.RootHash(),
		Events:    s.events.RootHash(),
	}
}

func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return types.NewVerboseError(types.ErrorInvalidArgument, fmt.Sprintf("invalid contract name %q", name))
	}
	return nil
}

// GetContract returns a copy of the record; callers may modify it freely.
func (s *Store) GetContract(addr types.Address) (*types.ContractRecord, error) {
	if rec, ok := s.records.Get(addr); ok {
		return rec.Copy(), nil
	}
	rec, err := s.contracts.Fetch(addr)
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, types.NewVerboseError(types.ErrorNoSuchContract, addr.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read contract %s: %w", addr, err)
	}
	s.records.Add(addr, rec)
	return rec.Copy(), nil
}

func (s *Store) HasContract(addr types.Address) (bool, error) {
	_, err := s.GetContract(addr)
	if types.IsErrorCode(err, types.ErrorNoSuchContract) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) PutContract(rec *types.ContractRecord) error {
	if err := s.contracts.Update(rec.Address, rec); err != nil {
		return fmt.Errorf("failed to write contract %s: %w", rec.Address, err)
	}
	s.records.Add(rec.Address, rec.Copy())
	return nil
}

// Contracts returns all records in trie order.
func (s *Store) Contracts() ([]*types.ContractRecord, error) {
	return s.contracts.Values()
}

func (s *Store) AddressByName(name string) (types.Address, error) {
	entry, err := s.names.Fetch(name)
	if errors.Is(err, db.ErrKeyNotFound) {
		return types.EmptyAddress, types.NewVerboseError(types.ErrorNoSuchContract, "name "+name)
	}
	if err != nil {
		return types.EmptyAddress, err
	}
	return entry.Address, nil
}

func (s *Store) GetContractByName(name string) (*types.ContractRecord, error) {
	addr, err := s.AddressByName(name)
	if err != nil {
		return nil, err
	}
	return s.GetContract(addr)
}

// BindName registers a unique name for the contract.
func (s *Store) BindName(name string, addr types.Address) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	_, err := s.names.Fetch(name)
	if err == nil {
		return types.NewVerboseError(types.ErrorContractNameTaken, name)
	}
	if !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	logger.Debug().
		Str(logging.FieldContractName, name).
		Stringer(logging.FieldContractAddress, addr).
		Msg("Bind contract name")
	return s.names.Update(name, &nameEntry{Address: addr})
}

// GovernanceAddress returns the network governance contract if one was created.
func (s *Store) GovernanceAddress() (types.Address, bool, error) {
	entry, err := s.names.Fetch(governanceKey)
	if errors.Is(err, db.ErrKeyNotFound) {
		return types.EmptyAddress, false, nil
	}
	if err != nil {
		return types.EmptyAddress, false, err
	}
	return entry.Address, true, nil
}

func (s *Store) SetGovernanceAddress(addr types.Address) error {
	return s.names.Update(governanceKey, &nameEntry{Address: addr})
}

func (s *Store) PutCode(code []byte) (common.Hash, error) {
	hash := CodeHash(code)
	if _, ok := s.codes.Get(hash); ok {
		return hash, nil
	}
	if err := s.backend.Setter(db.CodeTable).Set(hash.Bytes(), compressCode(code)); err != nil {
		return common.EmptyHash, err
	}
	s.codes.Add(hash, code)
	return hash, nil
}

func (s *Store) GetCode(hash common.Hash) ([]byte, error) {
	if code, ok := s.codes.Get(hash); ok {
		return code, nil
	}
	data, err := s.backend.Getter(db.CodeTable).Get(hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to read code %s: %w", hash, err)
	}
	code, err := decompressCode(hash, data)
	if err != nil {
		return nil, err
	}
	s.codes.Add(hash, code)
	return code, nil
}

func (s *Store) OpenStorage(root common.Hash) *StorageTrie {
	return NewStorageTrie(s.newTrie(db.StorageTrieTable, root))
}

// ReadStorage returns the value of key in the storage of rec.
func (s *Store) ReadStorage(rec *types.ContractRecord, key string) (types.StorageValue, bool, error) {
	return ReadStorageValue(s.OpenStorage(rec.StorageRoot), key)
}

func ReadStorageValue(trie *StorageTrie, key string) (types.StorageValue, bool, error) {
	entry, err := trie.Fetch(key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return types.StorageValue{}, false, nil
	}
	if err != nil {
		return types.StorageValue{}, false, err
	}
	return entry.Value, true, nil
}

func WriteStorageValue(trie *StorageTrie, key string, value types.StorageValue) error {
	return trie.Update(key, &storageEntry{Key: key, Value: value})
}

// StorageItems lists the whole storage sorted by key.
func StorageItems(trie *StorageTrie) ([]StorageItem, error) {
	entries, err := trie.Values()
	if err != nil {
		return nil, err
	}
	items := make([]StorageItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, StorageItem{Key: e.Key, Value: e.Value})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

func (s *Store) Events(txId common.Hash) (types.Events, error) {
	events, err := s.events.Fetch(txId)
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return *events, nil
}

func (s *Store) AppendEvents(txId common.Hash, events types.Events) error {
	if len(events) == 0 {
		return nil
	}
	prev, err := s.Events(txId)
	if err != nil {
		return err
	}
	all := append(prev, events...)
	return s.events.Update(txId, &all)
}
