package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// Outpoint references an output of a transaction.
type Outpoint struct {
	TxId  common.Hash `json:"txid"`
	Index uint32      `json:"index"`
}

func (o Outpoint) String() string {
	return o.TxId.Hex() + ":" + strconv.FormatUint(uint64(o.Index), 10)
}

// Key is the fixed-size storage key of the outpoint.
func (o Outpoint) Key() []byte {
	key := make([]byte, 0, common.HashSize+4)
	key = append(key, o.TxId.Bytes()...)
	return append(key, byte(o.Index>>24), byte(o.Index>>16), byte(o.Index>>8), byte(o.Index))
}

func ParseOutpoint(s string) (Outpoint, error) {
	txId, index, ok := strings.Cut(s, ":")
	if !ok {
		return Outpoint{}, fmt.Errorf("invalid outpoint %q", s)
	}
	hash, err := common.HexToHash(txId)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid outpoint txid: %w", err)
	}
	i, err := strconv.ParseUint(index, 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid outpoint index %q: %w", index, err)
	}
	return Outpoint{TxId: hash, Index: uint32(i)}, nil
}

type TxOut struct {
	Address types.Address `json:"address"`
	Value   types.Value   `json:"value"`
}

// Utxo is an unspent output together with the height of the block that created it.
type Utxo struct {
	Outpoint Outpoint `json:"outpoint"`
	Out      TxOut    `json:"out"`
	Height   uint64   `json:"height"`
}

func (u *Utxo) MarshalUvm() ([]byte, error) {
	return rlp.EncodeToBytes(u)
}

func (u *Utxo) UnmarshalUvm(data []byte) error {
	return rlp.DecodeBytes(data, u)
}

// Transaction is a ledger transaction that may carry one contract operation and the spends it declares.
type Transaction struct {
	TxId    common.Hash
	Inputs  []Outpoint
	Outputs []TxOut
	Fee     types.Value
	Op      types.Operation
	Spends  []types.SpendOp
}

// Effects is what a transaction does to the unspent output set.
type Effects struct {
	TxId    common.Hash `json:"txid"`
	Spent   []Utxo      `json:"spent"`
	Created []Utxo      `json:"created"`
}

// View is a read-only view of the unspent output set.
type View interface {
	// GetUtxo fails with ErrorUtxoNotFound for spent or unknown outpoints.
	GetUtxo(ctx context.Context, outpoint Outpoint) (*Utxo, error)
	BestHeight(ctx context.Context) (uint64, error)
}

// Ledger is an unspent output set that moves block by block.
type Ledger interface {
	View
	// Connect applies the effects of the block at height, which must be BestHeight()+1.
	Connect(ctx context.Context, height uint64, effects []Effects) error
	// Disconnect undoes the block at height, which must be BestHeight().
	Disconnect(ctx context.Context, height uint64) error
}

func NewUtxoNotFoundError(outpoint Outpoint) error {
	return types.NewVerboseError(types.ErrorUtxoNotFound, outpoint.String())
}
