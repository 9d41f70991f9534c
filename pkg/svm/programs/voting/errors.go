package voting

import (
	"errors"
	"fmt"
)

// ErrorCode is the numeric code reported for a failed voting instruction.
type ErrorCode uint32

// Error codes. The order is part of the program ABI.
const (
	CodeNotRentExempt ErrorCode = iota
	CodeWrongPdaKey
	CodeStartInPast
	CodeStartAfterEnd
	CodeVotingNotStartedYet
	CodeVotingExpired
	CodeUnknownOption
	CodeEmptyOptions
	CodeDuplicateOption
	CodeInvalidField
	CodeMalformedInput
	CodeMissingSignature
	CodeAccountState
	CodeNotEnoughAccountKeys
)

var codeNames = map[ErrorCode]string{
	CodeNotRentExempt:        "NotRentExempt",
	CodeWrongPdaKey:          "WrongPdaKey",
	CodeStartInPast:          "StartInPast",
	CodeStartAfterEnd:        "StartAfterEnd",
	CodeVotingNotStartedYet:  "VotingNotStartedYet",
	CodeVotingExpired:        "VotingExpired",
	CodeUnknownOption:        "UnknownOption",
	CodeEmptyOptions:         "EmptyOptions",
	CodeDuplicateOption:      "DuplicateOption",
	CodeInvalidField:         "InvalidField",
	CodeMalformedInput:       "MalformedInput",
	CodeMissingSignature:     "MissingSignature",
	CodeAccountState:         "AccountState",
	CodeNotEnoughAccountKeys: "NotEnoughAccountKeys",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", uint32(c))
}

// Error is a voting program error. Errors form a two-level taxonomy: a
// specific error unwraps to the kind it belongs to, so callers can match
// either with errors.Is.
type Error struct {
	Code ErrorCode
	msg  string
	kind *Error
}

func newKind(code ErrorCode, msg string) *Error {
	return &Error{Code: code, msg: msg}
}

func newError(kind *Error, code ErrorCode, msg string) *Error {
	return &Error{Code: code, msg: msg, kind: kind}
}

func (e *Error) Error() string {
	if e.kind != nil {
		return e.kind.msg + ": " + e.msg
	}
	return e.msg
}

// Unwrap returns the error kind, or nil for a kind.
func (e *Error) Unwrap() error {
	if e.kind == nil {
		return nil
	}
	return e.kind
}

// CustomCode implements svm.CustomError.
func (e *Error) CustomCode() uint32 {
	return uint32(e.Code)
}

// Error kinds.
var (
	ErrMalformedInput       = newKind(CodeMalformedInput, "malformed input")
	ErrMissingSignature     = newKind(CodeMissingSignature, "missing required signature")
	ErrAccountState         = newKind(CodeAccountState, "invalid account state")
	ErrAddressMismatch      = newKind(CodeWrongPdaKey, "storage address mismatch")
	ErrValidation           = newKind(CodeInvalidField, "validation failed")
	ErrResource             = newKind(CodeNotRentExempt, "insufficient balance for rent exemption")
	ErrUnknownOption        = newKind(CodeUnknownOption, "unknown option")
	ErrVotingNotStartedYet  = newKind(CodeVotingNotStartedYet, "voting not started yet")
	ErrVotingExpired        = newKind(CodeVotingExpired, "voting expired")
	ErrNotEnoughAccountKeys = newKind(CodeNotEnoughAccountKeys, "not enough account keys")
)

// Account state errors.
var (
	ErrAlreadyInitialized = newError(ErrAccountState, CodeAccountState, "already initialized")
	ErrUninitialized      = newError(ErrAccountState, CodeAccountState, "uninitialized")
	ErrWrongProgram       = newError(ErrAccountState, CodeAccountState, "wrong program")
	ErrWrongOwner         = newError(ErrAccountState, CodeAccountState, "wrong owner")
	ErrWrongSize          = newError(ErrAccountState, CodeAccountState, "wrong size")
)

// Validation errors.
var (
	ErrEmptyField      = newError(ErrValidation, CodeInvalidField, "empty field")
	ErrFieldTooLong    = newError(ErrValidation, CodeInvalidField, "field too long")
	ErrEmptyOptions    = newError(ErrValidation, CodeEmptyOptions, "empty option set")
	ErrDuplicateOption = newError(ErrValidation, CodeDuplicateOption, "duplicate option id")
	ErrStartInPast     = newError(ErrValidation, CodeStartInPast, "start in past")
	ErrStartAfterEnd   = newError(ErrValidation, CodeStartAfterEnd, "start after end")
)

// CodeOf returns the code of the first voting error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
