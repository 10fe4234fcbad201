package common

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

const HashSize = 32

type Hash [HashSize]byte

var EmptyHash = Hash{}

// BytesToHash sets b to hash.
// If b is larger than len(h), b will be cropped from the left.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

func HexToHash(s string) (Hash, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return EmptyHash, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != HashSize {
		return EmptyHash, fmt.Errorf("invalid hash length %d", len(b))
	}
	return BytesToHash(b), nil
}

func (h *Hash) SetBytes(b []byte) {
	if len(b) > len(h) {
		b = b[len(b)-HashSize:]
	}
	copy(h[HashSize-len(b):], b)
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) Empty() bool { return h == EmptyHash }

func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Hash) UnmarshalText(input []byte) error {
	res, err := HexToHash(string(input))
	if err != nil {
		return err
	}
	*h = res
	return nil
}

func KeccakHash(data ...[]byte) Hash {
	return BytesToHash(crypto.Keccak256(data...))
}

func PoseidonHash(data []byte) Hash {
	return BytesToHash(poseidon.Sum(data))
}
