package types

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btccom/UnitedBitcoin/uvm/common"
)

// AddrSize is the expected length of the address (in bytes)
const AddrSize = 20

// Address identifies both external (UTXO-owning) accounts and contracts.
type Address [AddrSize]byte

var EmptyAddress = Address{}

const contractAddressDomain = "uvm.contract"

// BytesToAddress returns Address with value b.
// If b is larger than len(h), b will be cropped from the left.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress parses a 0x-prefixed or bare hex string of exactly AddrSize bytes.
func HexToAddress(s string) (Address, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return EmptyAddress, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != AddrSize {
		return EmptyAddress, fmt.Errorf("invalid address length %d", len(b))
	}
	return BytesToAddress(b), nil
}

// CreateContractAddress derives the address of a contract created by the transaction txId.
// It depends on nothing but the transaction identity, so it can be computed before broadcast.
func CreateContractAddress(txId common.Hash) Address {
	return BytesToAddress(common.KeccakHash([]byte(contractAddressDomain), txId.Bytes()).Bytes())
}

// SetBytes sets the address to the value of b.
// If b is larger than len(a), b will be cropped from the left.
func (a *Address) SetBytes(b []byte) {
	if len(b) > len(a) {
		b = b[len(b)-AddrSize:]
	}
	copy(a[AddrSize-len(b):], b)
}

func (a Address) Bytes() []byte { return a[:] }

func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

func (a Address) Equal(b Address) bool {
	return bytes.Equal(a.Bytes(), b.Bytes())
}

func (a Address) IsEmpty() bool {
	return a == EmptyAddress
}

func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(input []byte) error {
	res, err := HexToAddress(string(input))
	if err != nil {
		return err
	}
	*a = res
	return nil
}

// Set implements pflag.Value.
func (a *Address) Set(value string) error {
	return a.UnmarshalText([]byte(value))
}

func (Address) Type() string {
	return "Address"
}
