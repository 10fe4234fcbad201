package commands

import (
	"fmt"
	"io"

	"github.com/btccom/UnitedBitcoin/uvm/internal/types"
	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
)

var (
	keyColor   = color.New(color.FgCyan)
	okColor    = color.New(color.FgGreen)
	errorColor = color.New(color.FgRed)
	eventColor = color.New(color.FgMagenta)
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) printJson(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.w, string(data))
	return err
}

func (p *printer) field(key string, value any) {
	fmt.Fprintf(p.w, "%s%v\n", keyColor.Sprintf("%-18s", key+":"), value)
}

func (p *printer) coins(key string, v types.Value) {
	p.field(key, fmt.Sprintf("%s (%s)", v.Coins(), v))
}

func (p *printer) events(events types.Events) {
	if len(events) == 0 {
		p.field("Events", "none")
		return
	}
	for i, e := range events {
		fmt.Fprintf(p.w, "%s %s %s(%q)\n",
			keyColor.Sprintf("Event #%d:", i), e.Contract.Hex(), eventColor.Sprint(e.Name), e.Arg)
	}
}

func (p *printer) status(err error) {
	if err != nil {
		p.field("Status", errorColor.Sprint(err))
		return
	}
	p.field("Status", okColor.Sprint("ok"))
}
