package types

import (
	"errors"

	"github.com/btccom/UnitedBitcoin/uvm/common/check"
)

// Errors of the execution phase are identified by an ErrorCode. The name of the constant without the
// "Error" prefix is the string representation of the code, e.g. `ErrorOutOfGas.String() => "OutOfGas"`.
// Tooling that drives the engine distinguishes expected failures by the code or by the message text.

//go:generate stringer -type=ErrorCode -trimprefix=Error

type ErrorCode uint32

const (
	ErrorSuccess ErrorCode = iota
	ErrorUnknown
	ErrorExecution

	// ErrorNoSuchContract is returned when an operation targets an address without a contract record.
	ErrorNoSuchContract

	// ErrorOutOfGas is returned when the metered work of an operation exceeds its gas limit.
	ErrorOutOfGas

	// ErrorAlreadyInvoked is returned on the second invocation of a once-only API.
	ErrorAlreadyInvoked

	// ErrorInvalidArgument is returned when a contract rejects its input or an operation is malformed.
	ErrorInvalidArgument

	// ErrorNotAdmin is returned when a governance action is attempted by a non-admin.
	ErrorNotAdmin

	// ErrorNotYetVotable is returned when a vote arrives before the proposal's voting delay passed.
	ErrorNotYetVotable

	// ErrorBalanceConservationViolation is returned when the value moved by a transaction does not add up.
	ErrorBalanceConservationViolation

	// ErrorGasPriceBelowFloor is returned when the operation's gas price is below the governance minimum.
	ErrorGasPriceBelowFloor

	// ErrorContractsDisabledBeforeActivationHeight is returned for any operation below the activation height.
	ErrorContractsDisabledBeforeActivationHeight

	// ErrorSpendDeclarationMismatch is returned when the declared pulls from contracts differ from the actual ones.
	ErrorSpendDeclarationMismatch

	ErrorInsufficientFee
	ErrorInsufficientBalance
	ErrorNoSuchApi
	ErrorProposalExpired
	ErrorProposalExists
	ErrorNoProposal
	ErrorContractNameTaken
	ErrorNotContractOwner
	ErrorContractAlreadyNamed
	ErrorInvalidCode
	ErrorUtxoNotFound
	ErrorBlockGasLimitExceeded
)

type ExecError interface {
	error
	Code() ErrorCode
}

var _ ExecError = new(BaseError)

type BaseError struct {
	code ErrorCode
}

type VerboseError struct {
	BaseError
	msg string
}

type WrapError struct {
	BaseError
	inner error
}

func NewError(code ErrorCode) ExecError {
	return &BaseError{code}
}

func IsValidError(err error) bool {
	return ToError(err) != nil
}

func ToBaseError(err error) *BaseError {
	var base *BaseError
	if errors.As(err, &base) {
		return base
	}
	return nil
}

func ToError(err error) ExecError {
	if e, ok := err.(ExecError); ok { //nolint:errorlint
		return e
	}
	return nil
}

// GetErrorCode returns the code of an execution error or ErrorUnknown for any other error.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrorSuccess
	}
	if base := ToBaseError(err); base != nil {
		return base.Code()
	}
	var wrap *WrapError
	if errors.As(err, &wrap) {
		return wrap.Code()
	}
	return ErrorUnknown
}

func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

func NewWrapError(code ErrorCode, err error) ExecError {
	// Nested errors(Error type) are not allowed because error code must be unique.
	check.PanicIfNotf(!IsValidError(err), "nested errors are prohibited")
	return &WrapError{BaseError{code}, err}
}

func KeepOrWrapError(code ErrorCode, err error) ExecError {
	if e := ToError(err); e != nil {
		return e
	}
	return NewWrapError(code, err)
}

func NewVerboseError(code ErrorCode, msg string) ExecError {
	return &VerboseError{BaseError{code}, msg}
}

func (e BaseError) Error() string {
	return e.Code().String()
}

func (e BaseError) Code() ErrorCode {
	return e.code
}

func (e WrapError) Error() string {
	return e.BaseError.Error() + ": " + e.inner.Error()
}

func (e WrapError) Unwrap() error {
	return e.inner
}

func (e VerboseError) Error() string {
	return e.BaseError.Error() + ": " + e.msg
}

func (e VerboseError) Unwrap() error {
	return &e.BaseError
}

// Errors with fixed messages that tooling matches on.
func NewOutOfGasError() ExecError {
	return NewVerboseError(ErrorOutOfGas, "out of gas")
}

func NewAlreadyInvokedError(api string) ExecError {
	return NewVerboseError(ErrorAlreadyInvoked, "api "+api+" can only be called once")
}
