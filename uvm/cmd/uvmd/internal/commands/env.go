package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/btccom/UnitedBitcoin/uvm/internal/config"
	"github.com/btccom/UnitedBitcoin/uvm/internal/telemetry"
	"github.com/btccom/UnitedBitcoin/uvm/services/uvmservice"
	"github.com/spf13/pflag"
)

// Env holds the global flags shared by every command.
type Env struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string
	DbPath     string
	UtxoPath   string
	Json       bool
}

func (e *Env) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&e.ConfigPath, "config", "c", "", "config file (none by default)")
	fs.StringVar(&e.EnvFile, "env-file", ".env", "file with UVM_* environment variables")
	fs.StringVarP(&e.LogLevel, "log-level", "l", "", "log level: trace|debug|info|warn|error|fatal|panic")
	fs.StringVar(&e.DbPath, "db-path", "", "path to the contract database (overrides the config)")
	fs.StringVar(&e.UtxoPath, "utxo-path", "", "path to the unspent output set file (overrides the config)")
	fs.BoolVar(&e.Json, "json", false, "print results as json")
}

func (e *Env) loadConfig() (*config.Config, error) {
	var envFiles []string
	if e.EnvFile != "" {
		envFiles = append(envFiles, e.EnvFile)
	}
	cfg, err := config.Load(e.ConfigPath, envFiles...)
	if err != nil {
		return nil, err
	}
	if e.LogLevel != "" {
		cfg.LogLevel = e.LogLevel
	}
	if e.DbPath != "" {
		cfg.DB.Path = e.DbPath
	}
	if e.UtxoPath != "" {
		cfg.DB.UtxoPath = e.UtxoPath
	}
	if err := logging.TrySetupGlobalLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return cfg, nil
}

// withService opens the stores named by the configuration and runs f on them.
func (e *Env) withService(ctx context.Context, f func(ctx context.Context, s *uvmservice.Service) error) (err error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}

	if err := telemetry.Init(ctx, cfg.Telemetry); err != nil {
		return err
	}
	defer telemetry.Shutdown(context.WithoutCancel(ctx))

	s, err := uvmservice.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.Run(ctx, func(ctx context.Context) error {
		return f(ctx, s)
	})
}

var errInMemory = errors.New("the unspent output set is in memory, set db.utxoPath or --utxo-path")
