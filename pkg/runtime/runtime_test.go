package runtime

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/accounts"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/voting"
)

const testLamports = uint64(10_000_000_000)

type testEnv struct {
	rt    *Runtime
	db    *accounts.MemoryDB
	now   time.Time
	payer *types.Keypair
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		db:    accounts.NewMemoryDB(),
		now:   time.Unix(1_700_000_000, 0),
		payer: testKeypair(t, 1),
	}
	opts = append([]Option{WithClock(func() time.Time { return env.now })}, opts...)
	env.rt = New(DefaultConfig(), env.db, opts...)
	require.NoError(t, env.rt.Airdrop(env.payer.Public, testLamports))
	return env
}

func (env *testEnv) send(t *testing.T, signers []*types.Keypair, ixs ...svm.Instruction) *Result {
	t.Helper()
	tx, err := NewTransaction(env.rt.LatestBlockhash(), ixs, signers...)
	require.NoError(t, err)
	res, err := env.rt.Execute(tx)
	require.NoError(t, err)
	return res
}

func (env *testEnv) programID() types.Pubkey {
	return env.rt.Config().VotingProgramID
}

func (env *testEnv) lunchPoll() *voting.CreateVoting {
	return &voting.CreateVoting{
		UID:   "lunch",
		Name:  "Where do we eat?",
		Start: env.now.Unix(),
		End:   env.now.Unix() + 3600,
		Options: []voting.OptionSpec{
			{ID: 2, Description: "Pizza"},
			{ID: 1, Description: "Sushi"},
		},
	}
}

func (env *testEnv) createPoll(t *testing.T, ix *voting.CreateVoting) types.Pubkey {
	t.Helper()
	create, err := voting.NewCreateVotingInstruction(env.programID(), env.payer.Public, ix)
	require.NoError(t, err)
	res := env.send(t, []*types.Keypair{env.payer}, create)
	require.Nil(t, res.Err, "logs: %v", res.Logs)
	return create.Accounts[1].Pubkey
}

func (env *testEnv) vote(t *testing.T, voter *types.Keypair, uid string, option uint8) *Result {
	t.Helper()
	ix, err := voting.NewVoteInstruction(env.programID(), voter.Public, env.payer.Public, uid, option)
	require.NoError(t, err)
	return env.send(t, []*types.Keypair{voter}, ix)
}

func (env *testEnv) poll(t *testing.T, addr types.Pubkey) *voting.Poll {
	t.Helper()
	acc, err := env.db.GetAccount(addr)
	require.NoError(t, err)
	poll, err := voting.DecodePoll(acc.Data)
	require.NoError(t, err)
	return poll
}

func TestExecutePollLifecycle(t *testing.T) {
	env := newTestEnv(t)
	addr := env.createPoll(t, env.lunchPoll())

	acc, err := env.db.GetAccount(addr)
	require.NoError(t, err)
	assert.Equal(t, env.programID(), acc.Owner)
	rent := env.rt.RentMinimum(uint64(len(acc.Data)))
	assert.Equal(t, rent, acc.Lamports)

	payer, err := env.db.GetAccount(env.payer.Public)
	require.NoError(t, err)
	assert.Equal(t, testLamports-rent, payer.Lamports)

	poll := env.poll(t, addr)
	require.Len(t, poll.Options, 2)
	assert.Equal(t, uint8(1), poll.Options[0].ID)
	assert.Equal(t, uint8(2), poll.Options[1].ID)

	voter := testKeypair(t, 9)
	env.now = env.now.Add(time.Minute)
	res := env.vote(t, voter, "lunch", 2)
	require.Nil(t, res.Err, "logs: %v", res.Logs)
	assert.Len(t, res.Accounts, 1)
	assert.NotContains(t, res.Accounts, voter.Public)

	_, err = env.rt.AdvanceSlot()
	require.NoError(t, err)
	res = env.vote(t, voter, "lunch", 2)
	require.Nil(t, res.Err)

	poll = env.poll(t, addr)
	assert.Equal(t, uint32(0), poll.Options[0].Counter)
	assert.Equal(t, uint32(2), poll.Options[1].Counter)
}

func TestExecuteLogsNestedInvoke(t *testing.T) {
	env := newTestEnv(t)
	create, err := voting.NewCreateVotingInstruction(env.programID(), env.payer.Public, env.lunchPoll())
	require.NoError(t, err)
	res := env.send(t, []*types.Keypair{env.payer}, create)
	require.Nil(t, res.Err)

	joined := strings.Join(res.Logs, "\n")
	assert.Contains(t, joined, "Program "+env.programID().String()+" invoke [1]")
	assert.Contains(t, joined, "Program "+system.ProgramID.String()+" invoke [2]")
	assert.Contains(t, joined, "Program log: Voting: instruction CreateVoting")
	assert.Greater(t, res.ComputeUnitsConsumed, svm.CUVotingProgramDefault)
	assert.False(t, res.DeltaHash.IsZero())
}

func TestExecuteFailureIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	addr := env.createPoll(t, env.lunchPoll())
	before := env.poll(t, addr)

	res := env.vote(t, testKeypair(t, 9), "lunch", 7)
	require.NotNil(t, res.Err)
	assert.Equal(t, 0, res.Err.InstructionIndex)
	require.NotNil(t, res.Err.Custom)
	assert.Equal(t, uint32(voting.CodeUnknownOption), *res.Err.Custom)
	assert.ErrorIs(t, res.Err, voting.ErrUnknownOption)
	assert.Nil(t, res.Accounts)
	assert.Equal(t, before, env.poll(t, addr))
}

func TestExecuteWindow(t *testing.T) {
	env := newTestEnv(t)
	ix := env.lunchPoll()
	ix.Start = env.now.Unix() + 60
	ix.End = ix.Start + 60
	env.createPoll(t, ix)

	voter := testKeypair(t, 9)
	res := env.vote(t, voter, "lunch", 1)
	require.NotNil(t, res.Err)
	assert.ErrorIs(t, res.Err, voting.ErrVotingNotStartedYet)

	env.now = time.Unix(ix.End+1, 0)
	res = env.vote(t, voter, "lunch", 1)
	require.NotNil(t, res.Err)
	assert.ErrorIs(t, res.Err, voting.ErrVotingExpired)

	env.now = time.Unix(ix.End, 0)
	res = env.vote(t, voter, "lunch", 1)
	assert.Nil(t, res.Err)
}

func TestExecuteRejectsDuplicatePoll(t *testing.T) {
	env := newTestEnv(t)
	env.createPoll(t, env.lunchPoll())
	_, err := env.rt.AdvanceSlot()
	require.NoError(t, err)

	create, err := voting.NewCreateVotingInstruction(env.programID(), env.payer.Public, env.lunchPoll())
	require.NoError(t, err)
	res := env.send(t, []*types.Keypair{env.payer}, create)
	require.NotNil(t, res.Err)
	assert.ErrorIs(t, res.Err, voting.ErrAccountState)
}

func TestExecuteRejectsStaleBlockhash(t *testing.T) {
	env := newTestEnv(t)
	create, err := voting.NewCreateVotingInstruction(env.programID(), env.payer.Public, env.lunchPoll())
	require.NoError(t, err)
	tx, err := NewTransaction(env.rt.LatestBlockhash(), []svm.Instruction{create}, env.payer)
	require.NoError(t, err)

	for i := 0; i <= MaxBlockhashAge; i++ {
		_, err := env.rt.AdvanceSlot()
		require.NoError(t, err)
	}
	res, err := env.rt.Execute(tx)
	require.NoError(t, err)
	require.NotNil(t, res.Err)
	assert.Equal(t, -1, res.Err.InstructionIndex)
	assert.ErrorIs(t, res.Err, ErrBlockhashNotFound)
}

func TestExecuteRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	tx, err := NewTransaction(env.rt.LatestBlockhash(),
		[]svm.Instruction{system.NewTransferInstruction(env.payer.Public, testKeypair(t, 2).Public, 5)}, env.payer)
	require.NoError(t, err)
	tx.Signatures[0][0] ^= 0xff

	res, err := env.rt.Execute(tx)
	require.NoError(t, err)
	require.NotNil(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrSignatureVerify)
}

func TestSimulateDoesNotCommit(t *testing.T) {
	env := newTestEnv(t)
	create, err := voting.NewCreateVotingInstruction(env.programID(), env.payer.Public, env.lunchPoll())
	require.NoError(t, err)
	tx, err := NewTransaction(env.rt.LatestBlockhash(), []svm.Instruction{create}, env.payer)
	require.NoError(t, err)

	res, err := env.rt.Simulate(tx)
	require.NoError(t, err)
	require.Nil(t, res.Err)
	assert.Contains(t, res.Accounts, create.Accounts[1].Pubkey)

	_, err = env.db.GetAccount(create.Accounts[1].Pubkey)
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestCommitListener(t *testing.T) {
	env := newTestEnv(t)
	var got []types.Signature
	env.rt.OnCommit(func(tx *Transaction, res *Result) {
		got = append(got, res.Signature)
	})

	to := testKeypair(t, 2).Public
	res := env.send(t, []*types.Keypair{env.payer}, system.NewTransferInstruction(env.payer.Public, to, 500))
	require.Nil(t, res.Err)
	assert.Equal(t, []types.Signature{res.Signature}, got)

	acc, err := env.db.GetAccount(to)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), acc.Lamports)

	res = env.vote(t, testKeypair(t, 9), "missing", 1)
	require.NotNil(t, res.Err)
	assert.Len(t, got, 1)
}

func TestAirdrop(t *testing.T) {
	env := newTestEnv(t)
	acc, err := env.rt.GetAccount(env.payer.Public)
	require.NoError(t, err)
	assert.Equal(t, testLamports, acc.Lamports)
	assert.Equal(t, types.SystemProgramAddr, acc.Owner)

	assert.ErrorIs(t, env.rt.Airdrop(env.payer.Public, ^uint64(0)), ErrAirdropOverflow)
}

func TestRentMinimum(t *testing.T) {
	rt := New(DefaultConfig(), accounts.NewMemoryDB())
	assert.Equal(t, uint64(128*3480*2), rt.RentMinimum(0))
	assert.Equal(t, uint64((128+100)*3480*2), rt.RentMinimum(100))
}

// funcProgram runs fn as a program registered under id.
type funcProgram struct {
	id types.Pubkey
	fn func(ctx svm.InvokeContext, data []byte) error
}

func (p *funcProgram) ID() types.Pubkey { return p.id }

func (p *funcProgram) Process(ctx svm.InvokeContext, data []byte) error {
	return p.fn(ctx, data)
}

func TestFrameVerification(t *testing.T) {
	rogueID := testKeypair(t, 50).Public
	victim := testKeypair(t, 51)

	tests := []struct {
		name     string
		writable bool
		fn       func(ctx svm.InvokeContext) error
		want     error
	}{
		{
			name: "readonly lamports",
			fn: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Lamports++
				return nil
			},
			want: ErrReadonlyModified,
		},
		{
			name:     "foreign data",
			writable: true,
			fn: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Data = []byte{1}
				return nil
			},
			want: ErrExternalDataModified,
		},
		{
			name:     "foreign spend",
			writable: true,
			fn: func(ctx svm.InvokeContext) error {
				from, _ := ctx.GetAccount(0)
				to, _ := ctx.GetAccount(1)
				from.Lamports -= 10
				to.Lamports += 10
				return nil
			},
			want: ErrExternalLamportSpend,
		},
		{
			name:     "foreign owner",
			writable: true,
			fn: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				acc.Owner = ctx.ProgramID()
				return nil
			},
			want: ErrModifiedProgramID,
		},
		{
			name:     "minted lamports",
			writable: true,
			fn: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(1)
				acc.Lamports += 10
				return nil
			},
			want: ErrUnbalancedInstruction,
		},
		{
			name:     "forged signer",
			writable: true,
			fn: func(ctx svm.InvokeContext) error {
				acc, _ := ctx.GetAccount(0)
				return ctx.InvokeSigned(system.NewTransferInstruction(acc.Key, ctx.ProgramID(), 1), nil)
			},
			want: ErrPrivilegeEscalation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rogue := &funcProgram{id: rogueID, fn: func(ctx svm.InvokeContext, _ []byte) error { return tt.fn(ctx) }}
			env := newTestEnv(t, WithProgram(rogue))
			require.NoError(t, env.rt.Airdrop(victim.Public, 1000))

			ix := svm.Instruction{
				ProgramID: rogueID,
				Accounts: []svm.AccountMeta{
					{Pubkey: victim.Public, IsWritable: tt.writable},
					{Pubkey: env.payer.Public, IsWritable: true},
					{Pubkey: system.ProgramID},
				},
			}
			res := env.send(t, []*types.Keypair{env.payer}, ix)
			require.NotNil(t, res.Err)
			assert.True(t, errors.Is(res.Err, tt.want), "got %v", res.Err)

			acc, err := env.db.GetAccount(victim.Public)
			require.NoError(t, err)
			assert.Equal(t, uint64(1000), acc.Lamports)
		})
	}
}

func TestInvokeDepthLimit(t *testing.T) {
	selfID := testKeypair(t, 60).Public
	var depth int
	self := &funcProgram{id: selfID}
	self.fn = func(ctx svm.InvokeContext, _ []byte) error {
		depth++
		return ctx.InvokeSigned(svm.Instruction{
			ProgramID: selfID,
			Accounts:  []svm.AccountMeta{{Pubkey: selfID}},
		}, nil)
	}
	env := newTestEnv(t, WithProgram(self))

	res := env.send(t, []*types.Keypair{env.payer}, svm.Instruction{
		ProgramID: selfID,
		Accounts:  []svm.AccountMeta{{Pubkey: selfID}},
	})
	require.NotNil(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrCallDepth)
	assert.Equal(t, svm.CPIDepthMax, depth)
}

func TestUnknownProgram(t *testing.T) {
	env := newTestEnv(t)
	res := env.send(t, []*types.Keypair{env.payer}, svm.Instruction{ProgramID: testKeypair(t, 70).Public})
	require.NotNil(t, res.Err)
	assert.ErrorIs(t, res.Err, svm.ErrUnknownProgram)
}
