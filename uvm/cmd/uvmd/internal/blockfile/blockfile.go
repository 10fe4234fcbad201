// Package blockfile reads blocks, operations and genesis outputs written in yaml.
//
// Amounts are coin amounts ("0.3"), gas prices are in the smallest units.
// Outpoints are written as "<txid>:<index>".
package blockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/ledger"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/btccom/UnitedBitcoin/uvm/services/uvmservice"
	"gopkg.in/yaml.v3"
)

const (
	OpCreate       = "create"
	OpCreateNative = "create_native"
	OpCall         = "call"
	OpUpgrade      = "upgrade"
	OpDeposit      = "deposit"
)

type Block struct {
	Height       uint64        `yaml:"height"`
	Transactions []Transaction `yaml:"transactions"`
}

type Transaction struct {
	TxId    string     `yaml:"txid"`
	Inputs  []string   `yaml:"inputs"`
	Outputs []Output   `yaml:"outputs"`
	Fee     string     `yaml:"fee"`
	Op      *Operation `yaml:"op"`
	Spends  []Spend    `yaml:"spends"`
}

type Output struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

type Spend struct {
	Source string `yaml:"source"`
	Amount string `yaml:"amount"`
}

type Operation struct {
	Type     string `yaml:"type"`
	Version  uint8  `yaml:"version"`
	Caller   string `yaml:"caller"`
	GasLimit uint64 `yaml:"gasLimit"`
	GasPrice uint64 `yaml:"gasPrice"`

	Target string `yaml:"target"`
	Api    string `yaml:"api"`
	Arg    string `yaml:"arg"`

	Template string `yaml:"template"`
	// Code is inline contract source; CodeFile is resolved against the directory of the yaml file.
	Code     string `yaml:"code"`
	CodeFile string `yaml:"codeFile"`

	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	Amount string `yaml:"amount"`
	Memo   string `yaml:"memo"`
}

// Genesis lists the outputs an empty unspent output set starts with.
type Genesis struct {
	Utxos []GenesisUtxo `yaml:"utxos"`
}

type GenesisUtxo struct {
	Outpoint string `yaml:"outpoint"`
	Output   `yaml:",inline"`
}

func readYaml(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("can't read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("can't parse %s: %w", path, err)
	}
	return nil
}

func LoadBlock(path string) (*uvmservice.Block, error) {
	var b Block
	if err := readYaml(path, &b); err != nil {
		return nil, err
	}
	return b.Build(filepath.Dir(path))
}

func LoadOperation(path string) (types.Operation, error) {
	var op Operation
	if err := readYaml(path, &op); err != nil {
		return nil, err
	}
	return op.Build(filepath.Dir(path))
}

func LoadGenesis(path string) ([]ledger.Utxo, error) {
	var g Genesis
	if err := readYaml(path, &g); err != nil {
		return nil, err
	}
	return g.Build()
}

func (b *Block) Build(dir string) (*uvmservice.Block, error) {
	if b.Height == 0 {
		return nil, errors.New("block height must be positive")
	}
	block := &uvmservice.Block{Height: b.Height}
	for i, t := range b.Transactions {
		tx, err := t.Build(dir)
		if err != nil {
			return nil, fmt.Errorf("transaction #%d: %w", i, err)
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}

func (t *Transaction) Build(dir string) (*ledger.Transaction, error) {
	txId, err := common.HexToHash(t.TxId)
	if err != nil {
		return nil, fmt.Errorf("invalid txid: %w", err)
	}
	tx := &ledger.Transaction{TxId: txId}

	for _, in := range t.Inputs {
		outpoint, err := ledger.ParseOutpoint(in)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, outpoint)
	}
	for _, out := range t.Outputs {
		o, err := out.Build()
		if err != nil {
			return nil, err
		}
		tx.Outputs = append(tx.Outputs, o)
	}
	if tx.Fee, err = parseAmount(t.Fee); err != nil {
		return nil, err
	}
	if t.Op != nil {
		if tx.Op, err = t.Op.Build(dir); err != nil {
			return nil, err
		}
	}
	for _, s := range t.Spends {
		spend, err := s.Build()
		if err != nil {
			return nil, err
		}
		tx.Spends = append(tx.Spends, spend)
	}
	return tx, nil
}

func (o *Output) Build() (ledger.TxOut, error) {
	addr, err := types.HexToAddress(o.Address)
	if err != nil {
		return ledger.TxOut{}, err
	}
	value, err := parseAmount(o.Amount)
	if err != nil {
		return ledger.TxOut{}, err
	}
	return ledger.TxOut{Address: addr, Value: value}, nil
}

func (s *Spend) Build() (types.SpendOp, error) {
	source, err := types.HexToAddress(s.Source)
	if err != nil {
		return types.SpendOp{}, err
	}
	amount, err := parseAmount(s.Amount)
	if err != nil {
		return types.SpendOp{}, err
	}
	return types.SpendOp{Source: source, Amount: amount}, nil
}

func (op *Operation) header() (types.OpHeader, error) {
	caller, err := types.HexToAddress(op.Caller)
	if err != nil {
		return types.OpHeader{}, fmt.Errorf("invalid caller: %w", err)
	}
	h := types.OpHeader{
		Version:  op.Version,
		Caller:   caller,
		GasLimit: types.Gas(op.GasLimit),
		GasPrice: types.NewValueFromUint64(op.GasPrice),
	}
	if h.Version == 0 {
		h.Version = types.OperationVersion
	}
	if op.GasPrice == 0 {
		h.GasPrice = types.NewValueFromUint64(types.DefaultMinGasPrice)
	}
	return h, nil
}

func (op *Operation) Build(dir string) (types.Operation, error) {
	h, err := op.header()
	if err != nil {
		return nil, err
	}

	switch op.Type {
	case OpCreate:
		code, err := op.code(dir)
		if err != nil {
			return nil, err
		}
		return &types.CreateOp{OpHeader: h, Code: code}, nil
	case OpCreateNative:
		if op.Template == "" {
			return nil, errors.New("create_native needs a template")
		}
		return &types.CreateNativeOp{OpHeader: h, Template: op.Template}, nil
	}

	target, err := types.HexToAddress(op.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	switch op.Type {
	case OpCall:
		if op.Api == "" {
			return nil, errors.New("call needs an api")
		}
		return &types.CallOp{OpHeader: h, Target: target, Api: op.Api, Arg: op.Arg}, nil
	case OpUpgrade:
		return &types.UpgradeOp{OpHeader: h, Target: target, Name: op.Name, Description: op.Description}, nil
	case OpDeposit:
		amount, err := parseAmount(op.Amount)
		if err != nil {
			return nil, err
		}
		return &types.DepositOp{OpHeader: h, Target: target, Amount: amount, Memo: op.Memo}, nil
	}
	return nil, fmt.Errorf("unknown operation type %q", op.Type)
}

func (op *Operation) code(dir string) ([]byte, error) {
	switch {
	case op.Code != "" && op.CodeFile != "":
		return nil, errors.New("code and codeFile are mutually exclusive")
	case op.Code != "":
		return []byte(op.Code), nil
	case op.CodeFile != "":
		path := op.CodeFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		return os.ReadFile(path)
	}
	return nil, errors.New("create needs code or codeFile")
}

func (g *Genesis) Build() ([]ledger.Utxo, error) {
	utxos := make([]ledger.Utxo, 0, len(g.Utxos))
	for _, u := range g.Utxos {
		outpoint, err := ledger.ParseOutpoint(u.Outpoint)
		if err != nil {
			return nil, err
		}
		out, err := u.Output.Build()
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, ledger.Utxo{Outpoint: outpoint, Out: out})
	}
	return utxos, nil
}

func parseAmount(s string) (types.Value, error) {
	if s == "" {
		return types.NewValueFromUint64(0), nil
	}
	return types.ParseCoins(s)
}
