// Package system implements the native System Program.
//
// The System Program is the only program allowed to create accounts. It is
// responsible for:
// - Creating new accounts
// - Transferring lamports
// - Assigning account ownership
// - Allocating account space
package system

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
)

// ProgramID is the System Program address.
var ProgramID = types.SystemProgramAddr

// Error types.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrLamportOverflow          = errors.New("lamport overflow")
)

// MaxAccountDataSize is the largest data size an account may be allocated.
const MaxAccountDataSize = 10 * 1024 * 1024 // 10 MB

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// ID implements svm.Program.
func (p *Processor) ID() types.Pubkey {
	return ProgramID
}

// Process executes a System Program instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUSystemProgramDefault); err != nil {
		return err
	}

	decoder := bin.NewBinDecoder(data)
	tag, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return wrapDecode("discriminant", err)
	}

	switch tag {
	case InstructionCreateAccount:
		var inst CreateAccount
		if err := inst.decode(decoder); err != nil {
			return wrapDecode("CreateAccount", err)
		}
		return p.processCreateAccount(ctx, &inst)
	case InstructionAssign:
		var inst Assign
		if err := inst.decode(decoder); err != nil {
			return wrapDecode("Assign", err)
		}
		return p.processAssign(ctx, &inst)
	case InstructionTransfer:
		var inst Transfer
		if err := inst.decode(decoder); err != nil {
			return wrapDecode("Transfer", err)
		}
		return p.processTransfer(ctx, &inst)
	case InstructionAllocate:
		var inst Allocate
		if err := inst.decode(decoder); err != nil {
			return wrapDecode("Allocate", err)
		}
		return p.processAllocate(ctx, &inst)
	default:
		return fmt.Errorf("%w: unknown discriminant %d", ErrInvalidInstructionData, tag)
	}
}

// accounts fetches the first n accounts of the instruction.
func accounts(ctx svm.InvokeContext, n int) ([]*svm.AccountInfo, error) {
	if ctx.AccountCount() < n {
		return nil, fmt.Errorf("%w: need %d, got %d", ErrNotEnoughAccountKeys, n, ctx.AccountCount())
	}
	out := make([]*svm.AccountInfo, n)
	for i := range out {
		acc, err := ctx.GetAccount(i)
		if err != nil {
			return nil, err
		}
		out[i] = acc
	}
	return out, nil
}

// processCreateAccount creates a new account.
// Accounts: [0] funding account, [1] new account.
func (p *Processor) processCreateAccount(ctx svm.InvokeContext, inst *CreateAccount) error {
	if inst.Space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	accs, err := accounts(ctx, 2)
	if err != nil {
		return err
	}
	funder, newAccount := accs[0], accs[1]

	if !funder.IsSigner {
		return fmt.Errorf("%w: funding account %s", ErrMissingRequiredSignature, funder.Key)
	}
	if !newAccount.IsSigner {
		return fmt.Errorf("%w: new account %s", ErrMissingRequiredSignature, newAccount.Key)
	}
	if !funder.IsWritable || !newAccount.IsWritable {
		return ErrAccountNotWritable
	}

	// the new account must be unused: system owned, no data and no balance
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		ctx.Log(fmt.Sprintf("Create Account: account %s already in use", newAccount.Key))
		return ErrAccountAlreadyInUse
	}

	if inst.Lamports < ctx.RentMinimum(inst.Space) {
		return ErrAccountNotRentExempt
	}
	if funder.Lamports < inst.Lamports {
		ctx.Log(fmt.Sprintf("Transfer: insufficient lamports %d, need %d", funder.Lamports, inst.Lamports))
		return ErrInsufficientFunds
	}

	funder.Lamports -= inst.Lamports
	newAccount.Lamports = inst.Lamports
	newAccount.Data = make([]byte, inst.Space)
	newAccount.Owner = inst.Owner
	return nil
}

// processAssign changes the owner of an account.
func (p *Processor) processAssign(ctx svm.InvokeContext, inst *Assign) error {
	accs, err := accounts(ctx, 1)
	if err != nil {
		return err
	}
	account := accs[0]

	// no-op assignments are always allowed
	if account.Owner == inst.Owner {
		return nil
	}
	if !account.IsSigner {
		return fmt.Errorf("%w: account %s", ErrMissingRequiredSignature, account.Key)
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}

	account.Owner = inst.Owner
	return nil
}

// processTransfer transfers lamports between accounts.
func (p *Processor) processTransfer(ctx svm.InvokeContext, inst *Transfer) error {
	accs, err := accounts(ctx, 2)
	if err != nil {
		return err
	}
	from, to := accs[0], accs[1]

	if !from.IsSigner {
		return fmt.Errorf("%w: source %s", ErrMissingRequiredSignature, from.Key)
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}
	if len(from.Data) > 0 {
		return fmt.Errorf("%w: from must not carry data", ErrInvalidAccountOwner)
	}
	if from.Lamports < inst.Lamports {
		ctx.Log(fmt.Sprintf("Transfer: insufficient lamports %d, need %d", from.Lamports, inst.Lamports))
		return ErrInsufficientFunds
	}
	if to.Lamports > ^uint64(0)-inst.Lamports {
		return ErrLamportOverflow
	}

	from.Lamports -= inst.Lamports
	to.Lamports += inst.Lamports
	return nil
}

// processAllocate allocates space in an account.
func (p *Processor) processAllocate(ctx svm.InvokeContext, inst *Allocate) error {
	if inst.Space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	accs, err := accounts(ctx, 1)
	if err != nil {
		return err
	}
	account := accs[0]

	if !account.IsSigner {
		return fmt.Errorf("%w: account %s", ErrMissingRequiredSignature, account.Key)
	}
	if account.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	if len(account.Data) > 0 {
		return ErrAccountAlreadyInUse
	}

	account.Data = make([]byte, inst.Space)
	return nil
}
