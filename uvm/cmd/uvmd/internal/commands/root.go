package commands

import (
	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	env := &Env{}
	rootCmd := &cobra.Command{
		Use:           "uvmd [global flags] [command]",
		Short:         "Contract state of a UTXO ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	env.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		GetGenesisCommand(env),
		GetApplyCommand(env),
		GetRollbackCommand(env),
		GetRootCommand(env),
		GetContractCommand(env),
		GetEventsCommand(env),
		GetUtxoCommand(env),
		GetSimulateCommand(env),
		GetInvokeCommand(env),
		GetConfigCommand(env),
	)
	return rootCmd
}
