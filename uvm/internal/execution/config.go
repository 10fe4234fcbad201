package execution

import "github.com/btccom/UnitedBitcoin/uvm/internal/types"

const (
	DefaultMaxCodeSize         = 64 * 1024
	DefaultMaxStorageValueSize = 16 * 1024
)

type Config struct {
	// Contract operations are rejected below this block height.
	ContractActivationHeight uint64 `yaml:"contractActivationHeight" mapstructure:"contractActivationHeight"`
	// DefaultMinGasPrice is the gas price floor until a governance contract exists.
	DefaultMinGasPrice uint64    `yaml:"defaultMinGasPrice" mapstructure:"defaultMinGasPrice"`
	OfflineGasLimit    types.Gas `yaml:"offlineGasLimit" mapstructure:"offlineGasLimit"`
	MaxCodeSize        int       `yaml:"maxCodeSize" mapstructure:"maxCodeSize"`
	// MaxStorageValueSize bounds stored values, event payloads and strings built by Lua code.
	MaxStorageValueSize int `yaml:"maxStorageValueSize" mapstructure:"maxStorageValueSize"`
}

func NewDefaultConfig() *Config {
	return &Config{
		DefaultMinGasPrice: types.DefaultMinGasPrice,
		OfflineGasLimit:    types.DefaultOfflineGasLimit,
		MaxCodeSize:        DefaultMaxCodeSize,

		MaxStorageValueSize: DefaultMaxStorageValueSize,
	}
}
