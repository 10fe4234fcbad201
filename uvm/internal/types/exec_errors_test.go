package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "OutOfGas", ErrorOutOfGas.String())
	assert.Equal(t, "ContractsDisabledBeforeActivationHeight", ErrorContractsDisabledBeforeActivationHeight.String())
	assert.Equal(t, "ErrorCode(1000)", ErrorCode(1000).String())

	err := NewOutOfGasError()
	assert.Equal(t, ErrorOutOfGas, GetErrorCode(err))
	assert.Contains(t, err.Error(), "out of gas")

	err = NewAlreadyInvokedError("init")
	assert.Contains(t, err.Error(), "only be called once")
	assert.True(t, IsErrorCode(fmt.Errorf("tx failed: %w", err), ErrorAlreadyInvoked))

	wrapped := NewWrapError(ErrorExecution, errors.New("boom"))
	assert.Equal(t, ErrorExecution, GetErrorCode(wrapped))
	assert.Equal(t, "Execution: boom", wrapped.Error())

	assert.Equal(t, ErrorUnknown, GetErrorCode(errors.New("plain")))
	assert.Equal(t, ErrorSuccess, GetErrorCode(nil))

	assert.Equal(t, wrapped, KeepOrWrapError(ErrorInvalidArgument, wrapped))
	assert.Panics(t, func() { NewWrapError(ErrorExecution, wrapped) })
}
