package contracts

import (
	"fmt"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/common/check"
	"github.com/klauspost/compress/zstd"
)

// Code blobs are stored zstd-compressed under their keccak hash.
var (
	codeEncoder *zstd.Encoder
	codeDecoder *zstd.Decoder
)

func init() {
	var err error
	codeEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	check.PanicIfErr(err)
	codeDecoder, err = zstd.NewReader(nil)
	check.PanicIfErr(err)
}

func CodeHash(code []byte) common.Hash {
	return common.KeccakHash(code)
}

func compressCode(code []byte) []byte {
	return codeEncoder.EncodeAll(code, make([]byte, 0, len(code)))
}

func decompressCode(hash common.Hash, data []byte) ([]byte, error) {
	code, err := codeDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("corrupted code %s: %w", hash, err)
	}
	if CodeHash(code) != hash {
		return nil, fmt.Errorf("code hash mismatch for %s", hash)
	}
	return code, nil
}
