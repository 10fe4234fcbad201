package db

import (
	"bytes"
)

type TableName string

const (
	// Content-addressed trie nodes. Nodes are written once and never rewritten,
	// so any root ever committed stays readable until pruned.
	ContractTrieTable = TableName("ContractTrie")
	StorageTrieTable  = TableName("StorageTrie")
	NameTrieTable     = TableName("NameTrie")
	EventTrieTable    = TableName("EventTrie")

	CodeTable = TableName("Code")

	StateRootByHeightTable = TableName("StateRootByHeight")
	CurrentStateTable      = TableName("CurrentState")

	schemeVersionTable = TableName("SchemeVersion")
)

func MakeKey(table TableName, key []byte) []byte {
	return append([]byte(table+":"), key...)
}

func IsKeyFromTable(table TableName, key []byte) bool {
	return bytes.HasPrefix(key, []byte(table+":"))
}
