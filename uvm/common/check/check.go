package check

import (
	"fmt"

	"github.com/rs/zerolog"
)

// PanicIfErr panics on non-nil error.
// Can be used in the code in the places where you want to ensure some result without much error handling.
func PanicIfErr(err error) {
	if err != nil {
		panic(err)
	}
}

// PanicIfNot panics on false.
func PanicIfNot(flag bool) {
	if !flag {
		panic("requirement not met")
	}
}

func PanicIfNotf(flag bool, format string, args ...any) {
	if !flag {
		panic(fmt.Sprintf(format, args...))
	}
}

// LogAndPanicIfErr logs the error with the provided logger and message and panics.
// It is no-op if the error is nil.
func LogAndPanicIfErr(err error, logger zerolog.Logger, format string, args ...any) {
	if err == nil {
		return
	}

	l := logger.With().CallerWithSkipFrameCount(3).Logger()
	l.Err(err).Msgf(format, args...)
	panic(err)
}
