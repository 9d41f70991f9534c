package voting

import (
	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
)

// NewCreateVotingInstruction builds a CreateVoting instruction for owner,
// addressed at the derived poll account.
func NewCreateVotingInstruction(programID, owner types.Pubkey, ix *CreateVoting) (svm.Instruction, error) {
	storage, _, err := DerivePollAddress(owner, ix.UID, programID)
	if err != nil {
		return svm.Instruction{}, err
	}
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			{Pubkey: owner, IsSigner: true, IsWritable: true},
			{Pubkey: storage, IsWritable: true},
			{Pubkey: types.SystemProgramAddr},
		},
		Data: EncodeInstruction(ix),
	}, nil
}

// NewVoteInstruction builds a Vote instruction by voter on the poll uid
// created by owner.
func NewVoteInstruction(programID, voter, owner types.Pubkey, uid string, optionID uint8) (svm.Instruction, error) {
	storage, _, err := DerivePollAddress(owner, uid, programID)
	if err != nil {
		return svm.Instruction{}, err
	}
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			{Pubkey: voter, IsSigner: true},
			{Pubkey: owner},
			{Pubkey: storage, IsWritable: true},
		},
		Data: EncodeInstruction(&Vote{OptionID: optionID}),
	}, nil
}
