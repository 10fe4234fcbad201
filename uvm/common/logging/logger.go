package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/btccom/UnitedBitcoin/uvm/common/check"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const (
	// EnvLogLevel overrides the level of every logger created after SetLogSeverityFromEnv.
	EnvLogLevel = "UVM_LOG_LEVEL"
	// EnvLogFormat selects the output: "console" (default) or "json".
	EnvLogFormat = "UVM_LOG_FORMAT"
)

func SetupGlobalLogger(level string) {
	check.PanicIfErr(TrySetupGlobalLevel(level))
	log.Logger = NewLogger("global")
}

func TrySetupGlobalLevel(level string) error {
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(l)
	return nil
}

// SetLogSeverityFromEnv applies UVM_LOG_LEVEL, falling back to info.
func SetLogSeverityFromEnv() {
	if err := TrySetupGlobalLevel(os.Getenv(EnvLogLevel)); err != nil {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func colorDisabled() bool {
	return color.NoColor || !term.IsTerminal(int(os.Stderr.Fd()))
}

func newWriter(out io.Writer) io.Writer {
	if os.Getenv(EnvLogFormat) == "json" {
		return out
	}

	noColor := colorDisabled()
	component := color.New(color.Bold)
	if noColor {
		component.DisableColor()
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.DateTime,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			FieldComponent,
			zerolog.CallerFieldName,
			zerolog.MessageFieldName,
		},
		FieldsExclude: []string{FieldComponent},
		FormatFieldValue: func(v any) string {
			return component.Sprint(fmt.Sprintf("[%s]\t", v))
		},
		NoColor: noColor,
	}
}

// NewLogger returns a logger tagging every record with component.
func NewLogger(component string) zerolog.Logger {
	return zerolog.New(newWriter(os.Stderr)).
		With().
		Str(FieldComponent, component).
		Caller().
		Timestamp().
		Logger()
}
