package commands

import (
	"context"
	"fmt"

	"github.com/btccom/UnitedBitcoin/uvm/cmd/uvmd/internal/blockfile"
	"github.com/btccom/UnitedBitcoin/uvm/common"
	"github.com/btccom/UnitedBitcoin/uvm/internal/ledger"
	"github.com/btccom/UnitedBitcoin/uvm/internal/simulator"
	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/btccom/UnitedBitcoin/uvm/services/uvmservice"
	"github.com/spf13/cobra"
)

type simulateParams struct {
	txId     string
	height   uint64
	gasLimit types.Gas
}

func (p *simulateParams) options() (simulator.Options, error) {
	opts := simulator.Options{Height: p.height, GasLimit: p.gasLimit}
	if p.txId != "" {
		var err error
		if opts.TxId, err = common.HexToHash(p.txId); err != nil {
			return simulator.Options{}, err
		}
	}
	return opts, nil
}

func GetSimulateCommand(env *Env) *cobra.Command {
	params := &simulateParams{}
	cmd := &cobra.Command{
		Use:   "simulate [operation file]",
		Short: "Dry-run an operation against the current state",
		Long: "Dry-run an operation against the current state. Nothing is committed. " +
			"The output lists the spends and payout outputs a real transaction has to carry.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := blockfile.LoadOperation(args[0])
			if err != nil {
				return err
			}
			opts, err := params.options()
			if err != nil {
				return err
			}
			return env.withService(cmd.Context(), func(ctx context.Context, s *uvmservice.Service) error {
				res, err := s.Simulate(ctx, op, opts)
				if err != nil {
					return err
				}
				return env.printer(cmd).simulation(res)
			})
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&params.txId, "txid", "", "transaction id of the dry run (derived from the operation by default)")
	cmd.Flags().Uint64Var(&params.height, "height", 0, "block height of the dry run (the next block by default)")
	cmd.Flags().Var(&params.gasLimit, "gas-limit", "gas limit of the dry run (the offline gas limit by default)")
	return cmd
}

func GetInvokeCommand(env *Env) *cobra.Command {
	var caller types.Address
	cmd := &cobra.Command{
		Use:   "invoke [address or name] [api] [arg]",
		Short: "Call an offline api of a contract",
		Long: "Call an offline api of a contract against the current state. Only apis the contract " +
			"declares offline are accepted; use simulate to dry-run any other api.",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) == 3 {
				arg = args[2]
			}
			return env.withService(cmd.Context(), func(ctx context.Context, s *uvmservice.Service) error {
				target, err := resolveContract(ctx, s, args[0])
				if err != nil {
					return err
				}
				res, err := s.InvokeOffline(ctx, caller, target, args[1], arg)
				if types.IsErrorCode(err, types.ErrorNoSuchApi) {
					return fmt.Errorf("%w (use simulate for apis that are not offline)", err)
				}
				if err != nil {
					return err
				}
				p := env.printer(cmd)
				if p.json {
					return p.printJson(res)
				}
				p.field("Result", res.Result)
				p.field("Gas", res.GasCount)
				return nil
			})
		},
		SilenceUsage: true,
	}
	cmd.Flags().Var(&caller, "caller", "address of the caller")
	return cmd
}

type simulation struct {
	*simulator.Result
	Spends  []types.SpendOp `json:"spends"`
	Payouts []ledger.TxOut  `json:"payouts"`
}

func (p *printer) simulation(res *simulator.Result) error {
	sim := simulation{
		Result:  res,
		Spends:  ledger.DeclaredSpends(res.BalanceChanges),
		Payouts: ledger.BuildWithdrawOutputs(res.BalanceChanges),
	}
	if p.json {
		return p.printJson(sim)
	}
	p.field("Height", res.Height)
	p.field("Txid", res.TxId.Hex())
	p.field("Result", res.Result)
	p.field("Gas", res.GasCount)
	if !res.ContractAddress.IsEmpty() {
		p.field("Contract", res.ContractAddress.Hex())
	}
	for _, spend := range sim.Spends {
		p.coins("Spend "+spend.Source.Hex(), spend.Amount)
	}
	for _, out := range sim.Payouts {
		p.coins("Payout "+out.Address.Hex(), out.Value)
	}
	p.events(res.Events)
	return nil
}
