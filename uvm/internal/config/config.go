package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/btccom/UnitedBitcoin/uvm/internal/execution"
	"github.com/btccom/UnitedBitcoin/uvm/internal/native"
	"github.com/btccom/UnitedBitcoin/uvm/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "UVM"

type DbConfig struct {
	// Path of the badger directory. An empty path keeps the store in memory.
	Path         string        `yaml:"path" mapstructure:"path"`
	DiscardRatio float64       `yaml:"discardRatio" mapstructure:"discardRatio"`
	GcFrequency  time.Duration `yaml:"gcFrequency" mapstructure:"gcFrequency"`
	AllowDrop    bool          `yaml:"allowDrop" mapstructure:"allowDrop"`
	// UtxoPath is the bbolt file of the unspent output set. An empty path keeps the set in memory.
	UtxoPath string `yaml:"utxoPath" mapstructure:"utxoPath"`
}

type Config struct {
	DB         DbConfig          `yaml:"db" mapstructure:"db"`
	Execution  *execution.Config `yaml:"execution" mapstructure:"execution"`
	Governance *native.Config    `yaml:"governance" mapstructure:"governance"`
	LogLevel   string            `yaml:"logLevel" mapstructure:"logLevel"`
	Telemetry  *telemetry.Config `yaml:"telemetry" mapstructure:"telemetry"`
}

func NewDefaultConfig() *Config {
	return &Config{
		DB: DbConfig{
			DiscardRatio: 0.5,
			GcFrequency:  time.Hour,
		},
		Execution:  execution.NewDefaultConfig(),
		Governance: native.NewDefaultConfig(),
		LogLevel:   "info",
		Telemetry:  telemetry.NewDefaultConfig(),
	}
}

func (c *Config) Validate() error {
	if c.Execution == nil || c.Governance == nil || c.Telemetry == nil {
		return errors.New("execution, governance and telemetry sections are required")
	}
	if c.Execution.MaxCodeSize <= 0 {
		return fmt.Errorf("maxCodeSize must be positive, got %d", c.Execution.MaxCodeSize)
	}
	if c.Execution.MaxStorageValueSize <= 0 {
		return fmt.Errorf("maxStorageValueSize must be positive, got %d", c.Execution.MaxStorageValueSize)
	}
	if c.Execution.OfflineGasLimit == 0 {
		return errors.New("offlineGasLimit must be positive")
	}
	if c.DB.DiscardRatio <= 0 || c.DB.DiscardRatio >= 1 {
		return fmt.Errorf("discardRatio must be in (0, 1), got %v", c.DB.DiscardRatio)
	}
	return nil
}

func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// Load reads the configuration from the defaults, then the yaml file at path (if any), then the environment.
// Environment variables are named UVM_<SECTION>_<KEY>, e.g. UVM_EXECUTION_OFFLINEGASLIMIT.
// Variables from envFiles are loaded first and never override ones already set.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	defaults, err := NewDefaultConfig().Dump()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg, updateDecoderConfig); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func updateDecoderConfig(config *mapstructure.DecoderConfig) {
	config.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		config.DecodeHook,
		mapstructure.TextUnmarshallerHookFunc(),
	)
}
