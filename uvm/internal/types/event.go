package types

import (
	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Event is emitted by a contract while executing an operation of transaction TxId.
type Event struct {
	TxId     common.Hash `json:"txid"`
	Contract Address     `json:"contract"`
	Name     string      `json:"name"`
	Arg      string      `json:"arg"`
}

// Events is the list of events of one transaction in emission order.
type Events []Event

func (e *Events) MarshalUvm() ([]byte, error) {
	return rlp.EncodeToBytes(e)
}

func (e *Events) UnmarshalUvm(data []byte) error {
	return rlp.DecodeBytes(data, e)
}
