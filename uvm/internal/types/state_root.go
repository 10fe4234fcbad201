package types

import (
	"fmt"

	ssz "github.com/NilFoundation/fastssz"
	"github.com/btccom/UnitedBitcoin/uvm/common"
)

const stateRootSize = 8 + common.HashSize

// StateRoot is the digest of the whole contract store at the end of block Height.
type StateRoot struct {
	Height uint64      `json:"height"`
	Hash   common.Hash `json:"hash"`
}

func (r StateRoot) String() string {
	return fmt.Sprintf("%d:%s", r.Height, r.Hash.Hex())
}

func (r *StateRoot) MarshalSSZ() ([]byte, error) {
	return r.MarshalSSZTo(make([]byte, 0, stateRootSize))
}

func (r *StateRoot) MarshalSSZTo(buf []byte) ([]byte, error) {
	dst := ssz.MarshalUint64(buf, r.Height)
	return append(dst, r.Hash[:]...), nil
}

func (r *StateRoot) SizeSSZ() int {
	return stateRootSize
}

func (r *StateRoot) UnmarshalSSZ(buf []byte) error {
	if len(buf) != stateRootSize {
		return ssz.ErrSize
	}
	r.Height = ssz.UnmarshallUint64(buf[0:8])
	copy(r.Hash[:], buf[8:stateRootSize])
	return nil
}

func (r *StateRoot) MarshalUvm() ([]byte, error) {
	return r.MarshalSSZ()
}

func (r *StateRoot) UnmarshalUvm(buf []byte) error {
	return r.UnmarshalSSZ(buf)
}
