package commands

import (
	"context"

	"github.com/btccom/UnitedBitcoin/uvm/cmd/uvmd/internal/blockfile"
	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/ledger"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/btccom/UnitedBitcoin/uvm/services/uvmservice"
	"github.com/spf13/cobra"
)

func GetContractCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Inspect deployed contracts",
	}
	cmd.AddCommand(getInfoCommand(env), getStorageCommand(env), getAddressCommand(env))
	return cmd
}

// resolveContract accepts either a contract address or a contract name.
func resolveContract(ctx context.Context, s *uvmservice.Service, arg string) (types.Address, error) {
	if addr, err := types.HexToAddress(arg); err == nil {
		return addr, nil
	}
	rec, err := s.GetContractByName(ctx, arg)
	if err != nil {
		return types.EmptyAddress, err
	}
	return rec.Address, nil
}

type createdContract struct {
	TxId    common.Hash   `json:"txid"`
	Address types.Address `json:"address"`
}

// createdContracts lists the addresses given to contracts created by a transaction id or by the
// creating transactions of a block file.
func createdContracts(arg string) ([]createdContract, error) {
	if txId, err := common.HexToHash(arg); err == nil {
		return []createdContract{{TxId: txId, Address: types.CreateContractAddress(txId)}}, nil
	}
	block, err := blockfile.LoadBlock(arg)
	if err != nil {
		return nil, err
	}
	var res []createdContract
	for _, tx := range block.Transactions {
		switch tx.Op.(type) {
		case *types.CreateOp, *types.CreateNativeOp:
			res = append(res, createdContract{TxId: tx.TxId, Address: types.CreateContractAddress(tx.TxId)})
		}
	}
	return res, nil
}

func getAddressCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "address [txid or block file]",
		Short: "Print the address a contract-creating transaction gives to its contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := createdContracts(args[0])
			if err != nil {
				return err
			}
			p := env.printer(cmd)
			if p.json {
				return p.printJson(created)
			}
			if len(created) == 0 {
				p.field("Contracts", "none")
			}
			for _, c := range created {
				p.field(c.TxId.Hex(), c.Address.Hex())
			}
			return nil
		},
		SilenceUsage: true,
	}
}

func getInfoCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "info [address or name]",
		Short: "Print the description of a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withService(cmd.Context(), func(ctx context.Context, s *uvmservice.Service) error {
				addr, err := resolveContract(ctx, s, args[0])
				if err != nil {
					return err
				}
				info, err := s.ContractInfo(ctx, addr)
				if err != nil {
					return err
				}

				p := env.printer(cmd)
				if p.json {
					return p.printJson(info)
				}
				p.field("Id", info.Id.Hex())
				p.field("Type", info.Type)
				if info.Template != "" {
					p.field("Template", info.Template)
				}
				p.field("Name", info.Name)
				p.field("Description", info.Description)
				p.field("Creator", info.Creator.Hex())
				p.field("Created at", info.CreatedAt)
				p.field("Txid", info.TxId.Hex())
				p.field("Apis", info.Apis)
				p.field("Offline apis", info.OfflineApis)
				p.coins("Balance", info.Balance)
				return nil
			})
		},
		SilenceUsage: true,
	}
}

func getStorageCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "storage [address or name] [key]",
		Short: "Print one storage key of a contract or the whole storage",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withService(cmd.Context(), func(ctx context.Context, s *uvmservice.Service) error {
				addr, err := resolveContract(ctx, s, args[0])
				if err != nil {
					return err
				}
				p := env.printer(cmd)

				if len(args) == 2 {
					value, ok, err := s.GetStorage(ctx, addr, args[1])
					if err != nil {
						return err
					}
					if !ok {
						p.field(args[1], errorColor.Sprint("<not set>"))
						return nil
					}
					if p.json {
						return p.printJson(value)
					}
					p.field(args[1], value)
					return nil
				}

				items, err := s.ContractStorage(ctx, addr)
				if err != nil {
					return err
				}
				if p.json {
					return p.printJson(items)
				}
				for _, item := range items {
					p.field(item.Key, item.Value)
				}
				return nil
			})
		},
		SilenceUsage: true,
	}
}

func GetEventsCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "events [txid]",
		Short: "Print the events emitted by a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txId, err := common.HexToHash(args[0])
			if err != nil {
				return err
			}
			return env.withService(cmd.Context(), func(ctx context.Context, s *uvmservice.Service) error {
				events, err := s.EventsByTx(ctx, txId)
				if err != nil {
					return err
				}
				p := env.printer(cmd)
				if p.json {
					return p.printJson(events)
				}
				p.events(events)
				return nil
			})
		},
		SilenceUsage: true,
	}
}

func GetUtxoCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "utxo [txid:index]",
		Short: "Print an unspent output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outpoint, err := ledger.ParseOutpoint(args[0])
			if err != nil {
				return err
			}
			return env.withService(cmd.Context(), func(ctx context.Context, s *uvmservice.Service) error {
				utxo, err := s.Ledger().GetUtxo(ctx, outpoint)
				if err != nil {
					return err
				}
				p := env.printer(cmd)
				if p.json {
					return p.printJson(utxo)
				}
				p.field("Outpoint", utxo.Outpoint)
				p.field("Address", utxo.Out.Address.Hex())
				p.coins("Value", utxo.Out.Value)
				p.field("Height", utxo.Height)
				return nil
			})
		},
		SilenceUsage: true,
	}
}
