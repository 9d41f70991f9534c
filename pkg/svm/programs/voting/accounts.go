package voting

import (
	"fmt"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
)

// CreateVotingAccounts are the accounts of a CreateVoting instruction.
type CreateVotingAccounts struct {
	Owner         *svm.AccountInfo
	Storage       *svm.AccountInfo
	SystemProgram *svm.AccountInfo
}

// ResolveCreateVotingAccounts assigns roles to the accounts of a
// CreateVoting instruction and checks them:
//
//  0. owner, signer
//  1. poll storage, empty
//  2. system program
func ResolveCreateVotingAccounts(accs []*svm.AccountInfo) (*CreateVotingAccounts, error) {
	if len(accs) < 3 {
		return nil, fmt.Errorf("%w: CreateVoting needs 3, got %d", ErrNotEnoughAccountKeys, len(accs))
	}
	res := &CreateVotingAccounts{
		Owner:         accs[0],
		Storage:       accs[1],
		SystemProgram: accs[2],
	}
	if !res.Owner.IsSigner {
		return nil, fmt.Errorf("%w: owner %s", ErrMissingSignature, res.Owner.Key)
	}
	if res.Storage.HasData() {
		return nil, fmt.Errorf("%w: storage %s", ErrAlreadyInitialized, res.Storage.Key)
	}
	if res.SystemProgram.Key != types.SystemProgramAddr {
		return nil, fmt.Errorf("%w: expected system program, got %s", ErrWrongProgram, res.SystemProgram.Key)
	}
	return res, nil
}

// VoteAccounts are the accounts of a Vote instruction.
type VoteAccounts struct {
	Voter   *svm.AccountInfo
	Owner   *svm.AccountInfo
	Storage *svm.AccountInfo
}

// ResolveVoteAccounts assigns roles to the accounts of a Vote instruction
// and checks them:
//
//  0. voter, signer
//  1. poll owner
//  2. poll storage, initialized and owned by programID
func ResolveVoteAccounts(accs []*svm.AccountInfo, programID types.Pubkey) (*VoteAccounts, error) {
	if len(accs) < 3 {
		return nil, fmt.Errorf("%w: Vote needs 3, got %d", ErrNotEnoughAccountKeys, len(accs))
	}
	res := &VoteAccounts{
		Voter:   accs[0],
		Owner:   accs[1],
		Storage: accs[2],
	}
	if !res.Voter.IsSigner {
		return nil, fmt.Errorf("%w: voter %s", ErrMissingSignature, res.Voter.Key)
	}
	if !res.Storage.HasData() {
		return nil, fmt.Errorf("%w: storage %s", ErrUninitialized, res.Storage.Key)
	}
	if res.Storage.Owner != programID {
		return nil, fmt.Errorf("%w: storage %s is owned by %s", ErrWrongOwner, res.Storage.Key, res.Storage.Owner)
	}
	return res, nil
}

// instructionAccounts collects every account passed to the instruction.
func instructionAccounts(ctx svm.InvokeContext) ([]*svm.AccountInfo, error) {
	accs := make([]*svm.AccountInfo, ctx.AccountCount())
	for i := range accs {
		acc, err := ctx.GetAccount(i)
		if err != nil {
			return nil, err
		}
		accs[i] = acc
	}
	return accs, nil
}
