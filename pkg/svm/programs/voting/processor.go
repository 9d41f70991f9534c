// Package voting implements the polling program.
//
// Anyone can create a time-bounded poll with a fixed set of options, and any
// signer can vote for one option per instruction. A poll lives in an account
// whose address is derived from the owner key, the poll uid and the program
// id, so the address of a poll can be recomputed by anyone and a substituted
// account is always detected.
//
// Instructions:
//
//	CreateVoting  [owner (signer, writable), storage (writable), system program]
//	Vote          [voter (signer), owner, storage (writable)]
package voting

import (
	"fmt"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/system"
)

// Program is the voting program registered under a fixed program id.
type Program struct {
	id types.Pubkey
}

// NewProgram returns the voting program for programID.
func NewProgram(programID types.Pubkey) *Program {
	return &Program{id: programID}
}

// ID implements svm.Program.
func (p *Program) ID() types.Pubkey {
	return p.id
}

// Process implements svm.Program.
func (p *Program) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUVotingProgramDefault); err != nil {
		return err
	}

	ix, err := DecodeInstruction(data)
	if err != nil {
		ctx.Log(fmt.Sprintf("Voting: %v", err))
		return err
	}

	accs, err := instructionAccounts(ctx)
	if err != nil {
		return err
	}

	switch ix := ix.(type) {
	case *CreateVoting:
		ctx.Log("Voting: instruction CreateVoting")
		err = p.createVoting(ctx, ix, accs)
	case *Vote:
		ctx.Log("Voting: instruction Vote")
		err = p.castVote(ctx, ix, accs)
	default:
		err = fmt.Errorf("%w: unhandled instruction %T", ErrMalformedInput, ix)
	}
	if err != nil {
		ctx.Log(fmt.Sprintf("Voting: %v", err))
	}
	return err
}

func (p *Program) derive(ctx svm.InvokeContext, owner types.Pubkey, uid string) (types.Pubkey, uint8, error) {
	addr, bump, err := DerivePollAddress(owner, uid, p.id)
	if err != nil {
		return types.Pubkey{}, 0, err
	}
	if err := ctx.ConsumeCU(svm.FindProgramAddressCost(bump)); err != nil {
		return types.Pubkey{}, 0, err
	}
	return addr, bump, nil
}

func (p *Program) createVoting(ctx svm.InvokeContext, ix *CreateVoting, accs []*svm.AccountInfo) error {
	res, err := ResolveCreateVotingAccounts(accs)
	if err != nil {
		return err
	}

	addr, bump, err := p.derive(ctx, res.Owner.Key, ix.UID)
	if err != nil {
		return err
	}
	ctx.Log(fmt.Sprintf("Voting: poll address %s, bump %d", addr, bump))
	if addr != res.Storage.Key {
		return fmt.Errorf("%w: expected %s, got %s", ErrAddressMismatch, addr, res.Storage.Key)
	}

	poll := NewPoll(ix)
	if err := poll.Validate(ctx.UnixTimestamp()); err != nil {
		return err
	}

	size := poll.ExactSize()
	rent := ctx.RentMinimum(size)
	ctx.Log(fmt.Sprintf("Voting: poll record is %d bytes, rent exempt minimum %d", size, rent))
	if res.Owner.Lamports < rent {
		return fmt.Errorf("%w: owner has %d lamports, need %d", ErrResource, res.Owner.Lamports, rent)
	}

	create := system.NewCreateAccountInstruction(res.Owner.Key, addr, rent, size, p.id)
	signer := PollSignerSeeds(res.Owner.Key, ix.UID, bump)
	if err := ctx.InvokeSigned(create, [][][]byte{signer}); err != nil {
		return fmt.Errorf("create poll account: %w", err)
	}

	return poll.EncodeInto(res.Storage.Data)
}

func (p *Program) castVote(ctx svm.InvokeContext, ix *Vote, accs []*svm.AccountInfo) error {
	res, err := ResolveVoteAccounts(accs, p.id)
	if err != nil {
		return err
	}

	poll, err := DecodePoll(res.Storage.Data)
	if err != nil {
		return err
	}

	// the storage must be the poll the owner created under this uid
	addr, _, err := p.derive(ctx, res.Owner.Key, poll.UID)
	if err != nil {
		return err
	}
	if addr != res.Storage.Key {
		return fmt.Errorf("%w: expected %s, got %s", ErrAddressMismatch, addr, res.Storage.Key)
	}

	idx, ok := poll.FindOption(ix.OptionID)
	if !ok {
		return fmt.Errorf("%w: %d in poll %q", ErrUnknownOption, ix.OptionID, poll.UID)
	}

	now := ctx.UnixTimestamp()
	if now < poll.Start {
		return fmt.Errorf("%w: starts at %d, now %d", ErrVotingNotStartedYet, poll.Start, now)
	}
	if now > poll.End {
		return fmt.Errorf("%w: ended at %d, now %d", ErrVotingExpired, poll.End, now)
	}

	poll.AddVote(idx)
	ctx.Log(fmt.Sprintf("Voting: option %d of %q now has %d votes", ix.OptionID, poll.UID, poll.Options[idx].Counter))
	return poll.EncodeInto(res.Storage.Data)
}
