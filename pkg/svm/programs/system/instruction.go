package system

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
)

// Instruction discriminants, encoded as a little-endian u32.
const (
	InstructionCreateAccount uint32 = 0
	InstructionAssign        uint32 = 1
	InstructionTransfer      uint32 = 2
	InstructionAllocate      uint32 = 8
)

// CreateAccount moves lamports into a new account, allocates space and
// assigns an owner.
type CreateAccount struct {
	Lamports uint64
	Space    uint64
	Owner    types.Pubkey
}

// Transfer moves lamports between two system-owned accounts.
type Transfer struct {
	Lamports uint64
}

// Assign changes the owner of a system-owned account.
type Assign struct {
	Owner types.Pubkey
}

// Allocate grows the data of a system-owned account.
type Allocate struct {
	Space uint64
}

func readPubkey(decoder *bin.Decoder) (types.Pubkey, error) {
	b, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return types.Pubkey{}, err
	}
	return types.PubkeyFromBytes(b)
}

func (inst *CreateAccount) decode(decoder *bin.Decoder) (err error) {
	if inst.Lamports, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if inst.Space, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	inst.Owner, err = readPubkey(decoder)
	return err
}

func (inst *Transfer) decode(decoder *bin.Decoder) (err error) {
	inst.Lamports, err = decoder.ReadUint64(bin.LE)
	return err
}

func (inst *Assign) decode(decoder *bin.Decoder) (err error) {
	inst.Owner, err = readPubkey(decoder)
	return err
}

func (inst *Allocate) decode(decoder *bin.Decoder) (err error) {
	inst.Space, err = decoder.ReadUint64(bin.LE)
	return err
}

// encodeInstruction writes the discriminant followed by the fields produced
// by write.
func encodeInstruction(tag uint32, write func(*bin.Encoder) error) []byte {
	buf := new(bytes.Buffer)
	encoder := bin.NewBinEncoder(buf)
	// writes to a bytes.Buffer cannot fail
	_ = encoder.WriteUint32(tag, bin.LE)
	_ = write(encoder)
	return buf.Bytes()
}

// NewCreateAccountInstruction builds a CreateAccount instruction. Both the
// funder and the new account must sign.
func NewCreateAccountInstruction(funder, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	data := encodeInstruction(InstructionCreateAccount, func(encoder *bin.Encoder) error {
		if err := encoder.WriteUint64(lamports, bin.LE); err != nil {
			return err
		}
		if err := encoder.WriteUint64(space, bin.LE); err != nil {
			return err
		}
		return encoder.WriteBytes(owner[:], false)
	})
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			{Pubkey: funder, IsSigner: true, IsWritable: true},
			{Pubkey: newAccount, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

// NewTransferInstruction builds a Transfer instruction.
func NewTransferInstruction(from, to types.Pubkey, lamports uint64) svm.Instruction {
	data := encodeInstruction(InstructionTransfer, func(encoder *bin.Encoder) error {
		return encoder.WriteUint64(lamports, bin.LE)
	})
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts: []svm.AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}

// NewAssignInstruction builds an Assign instruction.
func NewAssignInstruction(account, owner types.Pubkey) svm.Instruction {
	data := encodeInstruction(InstructionAssign, func(encoder *bin.Encoder) error {
		return encoder.WriteBytes(owner[:], false)
	})
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{{Pubkey: account, IsSigner: true, IsWritable: true}},
		Data:      data,
	}
}

// NewAllocateInstruction builds an Allocate instruction.
func NewAllocateInstruction(account types.Pubkey, space uint64) svm.Instruction {
	data := encodeInstruction(InstructionAllocate, func(encoder *bin.Encoder) error {
		return encoder.WriteUint64(space, bin.LE)
	})
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{{Pubkey: account, IsSigner: true, IsWritable: true}},
		Data:      data,
	}
}

func wrapDecode(name string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidInstructionData, name, err)
}
