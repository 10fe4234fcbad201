package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/btccom/UnitedBitcoin/uvm/cmd/uvmd/internal/commands"
	"github.com/btccom/UnitedBitcoin/uvm/common/logging"
	"github.com/fatih/color"
)

func main() {
	logging.SetupGlobalLogger("info")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
