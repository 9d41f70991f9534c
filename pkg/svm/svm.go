// Package svm defines the contract between the ballot runtime and the native
// programs it executes.
//
// A native program receives an InvokeContext that exposes the accounts of the
// current instruction by position, the host clock, rent parameters, compute
// metering and cross-program invocation. Programs mutate the AccountInfo
// values they are handed; the runtime decides afterwards whether those
// mutations are committed.
package svm

import (
	"errors"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

var (
	// ErrAccountIndexOutOfRange is returned when a program asks for an
	// account position the instruction did not supply.
	ErrAccountIndexOutOfRange = errors.New("account index out of range")

	// ErrUnknownProgram is returned when an instruction targets a program
	// that is not registered with the runtime.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrInvalidInstruction is returned for malformed instructions.
	ErrInvalidInstruction = errors.New("invalid instruction")
)

// AccountInfo is the view of an account handed to a program for one
// instruction. Programs mutate Lamports, Data and Owner in place.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	IsSigner   bool
	IsWritable bool
}

// HasData reports whether the account holds any state.
func (a *AccountInfo) HasData() bool {
	return len(a.Data) > 0
}

// AccountMeta describes one account reference of an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey `json:"pubkey"`
	IsSigner   bool         `json:"isSigner"`
	IsWritable bool         `json:"isWritable"`
}

// Instruction is a program invocation before it is compiled into a message.
type Instruction struct {
	ProgramID types.Pubkey  `json:"programId"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data"`
}

// InvokeContext is what the runtime exposes to a program while it runs.
type InvokeContext interface {
	// ProgramID returns the address of the executing program.
	ProgramID() types.Pubkey

	// AccountCount returns the number of accounts passed to the instruction.
	AccountCount() int

	// GetAccount returns the account at position index.
	GetAccount(index int) (*AccountInfo, error)

	// UnixTimestamp returns the host wall clock in seconds.
	UnixTimestamp() int64

	// RentMinimum returns the balance an account of dataLen bytes needs to
	// be exempt from rent collection.
	RentMinimum(dataLen uint64) uint64

	// InvokeSigned runs ix as a nested instruction. Each entry of signerSeeds
	// is a seed list that, together with the calling program id, derives an
	// address that is treated as a signer of ix.
	InvokeSigned(ix Instruction, signerSeeds [][][]byte) error

	// ConsumeCU charges compute units against the transaction budget.
	ConsumeCU(units uint64) error

	// Log appends a program log line.
	Log(msg string)
}

// Program is a natively implemented on-chain program.
type Program interface {
	// ID returns the address the program is registered under.
	ID() types.Pubkey

	// Process executes one instruction.
	Process(ctx InvokeContext, data []byte) error
}

// CustomError is implemented by program errors that carry a program-defined
// numeric code. The runtime reports the code alongside the failed
// instruction.
type CustomError interface {
	error
	CustomCode() uint32
}
