package rpc

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Ballot/pkg/ledger"
	"github.com/fortiblox/X1-Ballot/pkg/runtime"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/voting"
)

// JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Server error codes, numbered as Solana clients expect them.
const (
	SendTransactionPreflightFailure         = -32002
	TransactionSignatureVerificationFailure = -32003
	NodeUnhealthy                           = -32005
	TransactionAlreadyProcessed             = -32009
	MinContextSlotNotReached                = -32016
)

var (
	ErrParseError       = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest   = NewRPCError(InvalidRequest, "Invalid Request")
	ErrNodeUnhealthy    = NewRPCError(NodeUnhealthy, "Node is unhealthy")
	ErrAlreadyProcessed = NewRPCError(TransactionAlreadyProcessed, "Transaction already processed")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// MinContextSlotError reports a request that asked for a slot the node has
// not reached.
func MinContextSlotError(minSlot, currentSlot uint64) *RPCError {
	return NewRPCErrorWithData(MinContextSlotNotReached,
		fmt.Sprintf("Minimum context slot %d has not been reached, current slot is %d", minSlot, currentSlot),
		map[string]uint64{"minSlot": minSlot, "currentSlot": currentSlot})
}

// transactionErrorValue renders a transaction error the way Solana clients
// expect: {"InstructionError": [index, {"Custom": code}]}.
func transactionErrorValue(index int, custom *uint32, message string) interface{} {
	if index < 0 {
		return message
	}
	var detail interface{} = message
	if custom != nil {
		detail = map[string]uint32{"Custom": *custom}
	}
	return map[string]interface{}{"InstructionError": []interface{}{index, detail}}
}

func resultErrorValue(res *runtime.Result) interface{} {
	if res.Err == nil {
		return nil
	}
	return transactionErrorValue(res.Err.InstructionIndex, res.Err.Custom, res.Err.Message)
}

func entryErrorValue(e *ledger.Entry) interface{} {
	if e.Err == nil {
		return nil
	}
	return transactionErrorValue(e.Err.InstructionIndex, e.Err.Custom, e.Err.Message)
}

// rejectionError converts a failed result into the sendTransaction error.
// Voting failures carry the error name so clients need not map codes.
func rejectionError(res *runtime.Result) *RPCError {
	if errors.Is(res.Err, runtime.ErrSignatureVerify) || errors.Is(res.Err, runtime.ErrSignatureCount) {
		return NewRPCError(TransactionSignatureVerificationFailure, res.Err.Error())
	}
	msg := "Transaction simulation failed: " + res.Err.Error()
	if code, ok := voting.CodeOf(res.Err); ok {
		msg += " (" + code.String() + ")"
	}
	return NewRPCErrorWithData(SendTransactionPreflightFailure, msg,
		SimulateResult{Err: resultErrorValue(res), Logs: res.Logs, UnitsConsumed: res.ComputeUnitsConsumed})
}
