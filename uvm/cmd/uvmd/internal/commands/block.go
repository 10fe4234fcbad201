package commands

import (
	"context"
	"strconv"

	"github.com/btccom/UnitedBitcoin/uvm/cmd/uvmd/internal/blockfile"
	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/ledger"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/btccom/UnitedBitcoin/uvm/services/uvmservice"
	"github.com/spf13/cobra"
)

type seeder interface {
	Seed(utxos ...ledger.Utxo) error
}

func GetGenesisCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "genesis [file]",
		Short: "Seed an empty unspent output set with the outputs listed in a yaml file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			utxos, err := blockfile.LoadGenesis(args[0])
			if err != nil {
				return err
			}
			return env.withService(cmd.Context(), func(ctx context.Context, s *uvmservice.Service) error {
				set, ok := s.Ledger().(seeder)
				if !ok {
					return errInMemory
				}
				if err := set.Seed(utxos...); err != nil {
					return err
				}
				p := env.printer(cmd)
				p.field("Seeded outputs", len(utxos))
				return nil
			})
		},
		SilenceUsage: true,
	}
}

func GetApplyCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "apply [block file]",
		Short: "Apply a block of transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := blockfile.LoadBlock(args[0])
			if err != nil {
				return err
			}
			return env.withService(cmd.Context(), func(ctx context.Context, s *uvmservice.Service) error {
				res, err := s.ApplyBlock(ctx, block)
				if err != nil {
					return err
				}
				return env.printer(cmd).blockResult(res)
			})
		},
		SilenceUsage: true,
	}
}

func (p *printer) blockResult(res *uvmservice.BlockResult) error {
	if p.json {
		return p.printJson(res)
	}
	p.field("State root", res.Root)
	p.field("Gas used", res.GasUsed)
	for _, r := range res.Receipts {
		p.field("Transaction", r.TxId.Hex())
		p.field("  Spent/created", strconv.Itoa(r.Spent)+"/"+strconv.Itoa(r.Created))
		if r.Outcome == nil {
			continue
		}
		p.field("  Result", r.Outcome.Result)
		p.field("  Gas", r.Outcome.GasUsed)
		if !r.Outcome.ContractAddress.IsEmpty() {
			p.field("  Contract", r.Outcome.ContractAddress.Hex())
		}
		p.events(r.Outcome.Events)
	}
	return nil
}

func GetRollbackCommand(env *Env) *cobra.Command {
	var rootHash string
	cmd := &cobra.Command{
		Use:   "rollback [height]",
		Short: "Roll the contract state and the unspent output set back to the end of a block",
		Long: "Roll the contract state and the unspent output set back to the end of a block.\n" +
			"With --root the block is the most recent one below the current that ended with that state root.",
		Args: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("root") {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			rollback := func(ctx context.Context, s *uvmservice.Service) (types.StateRoot, error) {
				hash, err := common.HexToHash(rootHash)
				if err != nil {
					return types.StateRoot{}, err
				}
				return s.RollbackToRoot(ctx, hash)
			}
			if !cmd.Flags().Changed("root") {
				height, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return err
				}
				rollback = func(ctx context.Context, s *uvmservice.Service) (types.StateRoot, error) {
					return s.Rollback(ctx, height)
				}
			}
			return env.withService(cmd.Context(), func(ctx context.Context, s *uvmservice.Service) error {
				root, err := rollback(ctx, s)
				if err != nil {
					return err
				}
				p := env.printer(cmd)
				if p.json {
					return p.printJson(root)
				}
				p.field("State root", root)
				return nil
			})
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&rootHash, "root", "", "state root hash to roll back to instead of a height")
	return cmd
}

func GetRootCommand(env *Env) *cobra.Command {
	var height uint64
	cmd := &cobra.Command{
		Use:   "root",
		Short: "Print the current state root or the one committed at a height",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withService(cmd.Context(), func(ctx context.Context, s *uvmservice.Service) error {
				root, err := s.CurrentRoot(ctx)
				if cmd.Flags().Changed("height") {
					root, err = s.RootAt(ctx, height)
				}
				if err != nil {
					return err
				}
				ahead, err := s.IsCurrentAheadOfBestBlock(ctx)
				if err != nil {
					return err
				}

				p := env.printer(cmd)
				if p.json {
					return p.printJson(root)
				}
				p.field("State root", root)
				if ahead {
					p.field("Warning", errorColor.Sprint(uvmservice.ErrStateAhead))
				}
				return nil
			})
		},
		SilenceUsage: true,
	}
	cmd.Flags().Uint64Var(&height, "height", 0, "block height")
	return cmd
}

func (e *Env) printer(cmd *cobra.Command) *printer {
	return &printer{w: cmd.OutOrStdout(), json: e.Json}
}
