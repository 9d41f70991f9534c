package voting

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
)

const testStart = int64(1_700_000_000)

var testProgramID = types.MustPubkeyFromBase58("Ba11otVoting1111111111111111111111111111111")

func testOwner(t *testing.T) types.Pubkey {
	t.Helper()
	kp, err := types.KeypairFromSeed(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return kp.Public
}

func yesNo(uid string) *CreateVoting {
	return &CreateVoting{
		UID:   uid,
		Name:  "Should we ship it?",
		Start: testStart,
		End:   testStart + 3600,
		Options: []OptionSpec{
			{Counter: 3, ID: 1, Description: "Yes"},
			{Counter: 4, ID: 2, Description: "No"},
		},
	}
}

// createHost returns a host set up for CreateVoting of ix at time now.
func createHost(t *testing.T, ix *CreateVoting, now int64) (*testHost, *svm.AccountInfo) {
	t.Helper()
	owner := testOwner(t)
	addr, _, err := DerivePollAddress(owner, ix.UID, testProgramID)
	require.NoError(t, err)

	storage := &svm.AccountInfo{Key: addr, Owner: types.SystemProgramAddr, IsWritable: true}
	host := &testHost{
		programID: testProgramID,
		now:       now,
		accounts: []*svm.AccountInfo{
			{Key: owner, Owner: types.SystemProgramAddr, Lamports: 1_000_000_000, IsSigner: true, IsWritable: true},
			storage,
			{Key: types.SystemProgramAddr, Executable: true},
		},
	}
	return host, storage
}

// voteHost returns a host for a Vote instruction on storage.
func voteHost(t *testing.T, storage *svm.AccountInfo, now int64) *testHost {
	t.Helper()
	voter, err := types.NewKeypair()
	require.NoError(t, err)
	return &testHost{
		programID: testProgramID,
		now:       now,
		accounts: []*svm.AccountInfo{
			{Key: voter.Public, Owner: types.SystemProgramAddr, IsSigner: true},
			{Key: testOwner(t), Owner: types.SystemProgramAddr},
			storage,
		},
	}
}

func createPoll(t *testing.T, ix *CreateVoting) *svm.AccountInfo {
	t.Helper()
	host, storage := createHost(t, ix, ix.Start)
	require.NoError(t, NewProgram(testProgramID).Process(host, EncodeInstruction(ix)))
	return storage
}

func vote(t *testing.T, storage *svm.AccountInfo, optionID uint8, now int64) error {
	t.Helper()
	host := voteHost(t, storage, now)
	return NewProgram(testProgramID).Process(host, EncodeInstruction(&Vote{OptionID: optionID}))
}

func counters(t *testing.T, storage *svm.AccountInfo) map[uint8]uint32 {
	t.Helper()
	poll, err := DecodePoll(storage.Data)
	require.NoError(t, err)
	out := make(map[uint8]uint32)
	for _, o := range poll.Options {
		out[o.ID] = o.Counter
	}
	return out
}

func TestPollLifecycle(t *testing.T) {
	ix := yesNo("poll1")
	host, storage := createHost(t, ix, testStart)
	program := NewProgram(testProgramID)

	require.NoError(t, program.Process(host, EncodeInstruction(ix)))
	assert.Equal(t, 1, host.invokes)
	assert.Equal(t, testProgramID, storage.Owner)
	assert.Equal(t, host.RentMinimum(uint64(len(storage.Data))), storage.Lamports)
	assert.Equal(t, map[uint8]uint32{1: 0, 2: 0}, counters(t, storage))

	poll, err := DecodePoll(storage.Data)
	require.NoError(t, err)
	assert.Equal(t, "poll1", poll.UID)
	assert.Equal(t, ix.Name, poll.Name)
	assert.Equal(t, ix.Start, poll.Start)
	assert.Equal(t, ix.End, poll.End)

	require.NoError(t, vote(t, storage, 1, testStart+10))
	assert.Equal(t, map[uint8]uint32{1: 1, 2: 0}, counters(t, storage))

	before := bytes.Clone(storage.Data)
	assert.ErrorIs(t, vote(t, storage, 9, testStart+20), ErrUnknownOption)
	assert.Equal(t, before, storage.Data)

	assert.ErrorIs(t, vote(t, storage, 1, testStart+3601), ErrVotingExpired)
	assert.Equal(t, before, storage.Data)
}

func TestVoteChangesOnlyOneCounter(t *testing.T) {
	ix := yesNo("poll-bytes")
	ix.Options = append(ix.Options, OptionSpec{ID: 3, Description: "Abstain"})
	storage := createPoll(t, ix)

	before, err := DecodePoll(storage.Data)
	require.NoError(t, err)
	require.NoError(t, vote(t, storage, 2, testStart+1))
	after, err := DecodePoll(storage.Data)
	require.NoError(t, err)

	assert.Equal(t, before.UID, after.UID)
	assert.Equal(t, before.Name, after.Name)
	assert.Equal(t, before.Start, after.Start)
	assert.Equal(t, before.End, after.End)
	require.Len(t, after.Options, 3)
	for i := range after.Options {
		want := before.Options[i].Counter
		if after.Options[i].ID == 2 {
			want++
		}
		assert.Equal(t, want, after.Options[i].Counter, "option %d", after.Options[i].ID)
	}
	assert.Len(t, storage.Data, len(before.Encode()))
}

func TestVoteWindowBoundaries(t *testing.T) {
	storage := createPoll(t, yesNo("poll-window"))

	assert.ErrorIs(t, vote(t, storage, 1, testStart-1), ErrVotingNotStartedYet)
	assert.NoError(t, vote(t, storage, 1, testStart))
	assert.NoError(t, vote(t, storage, 1, testStart+3600))
	assert.ErrorIs(t, vote(t, storage, 1, testStart+3601), ErrVotingExpired)

	assert.Equal(t, uint32(2), counters(t, storage)[1])
}

func TestCreateVotingValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ix *CreateVoting)
		now    int64
		want   error
	}{
		{"start in past", func(ix *CreateVoting) {}, testStart + 1, ErrStartInPast},
		{"start equals end", func(ix *CreateVoting) { ix.End = ix.Start }, testStart, ErrStartAfterEnd},
		{"start after end", func(ix *CreateVoting) { ix.End = ix.Start - 1 }, testStart, ErrStartAfterEnd},
		{"no options", func(ix *CreateVoting) { ix.Options = nil }, testStart, ErrEmptyOptions},
		{"duplicate ids", func(ix *CreateVoting) { ix.Options[1].ID = ix.Options[0].ID }, testStart, ErrDuplicateOption},
		{"blank name", func(ix *CreateVoting) { ix.Name = "   " }, testStart, ErrEmptyField},
		{"long name", func(ix *CreateVoting) { ix.Name = string(bytes.Repeat([]byte("n"), MaxNameLen+1)) }, testStart, ErrFieldTooLong},
		{"blank description", func(ix *CreateVoting) { ix.Options[0].Description = "" }, testStart, ErrEmptyField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := yesNo("poll-validation")
			tt.mutate(ix)
			host, storage := createHost(t, ix, tt.now)

			err := NewProgram(testProgramID).Process(host, EncodeInstruction(ix))
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, storage.Data)
			assert.Zero(t, host.invokes)
		})
	}
}

func TestCreateVotingAccountChecks(t *testing.T) {
	program := NewProgram(testProgramID)

	t.Run("address mismatch", func(t *testing.T) {
		ix := yesNo("poll-a")
		host, _ := createHost(t, ix, testStart)
		other, _, err := DerivePollAddress(host.accounts[0].Key, "poll-b", testProgramID)
		require.NoError(t, err)
		host.accounts[1].Key = other

		err = program.Process(host, EncodeInstruction(ix))
		assert.ErrorIs(t, err, ErrAddressMismatch)
		code, ok := CodeOf(err)
		assert.True(t, ok)
		assert.Equal(t, CodeWrongPdaKey, code)
	})

	t.Run("owner not signer", func(t *testing.T) {
		ix := yesNo("poll-a")
		host, _ := createHost(t, ix, testStart)
		host.accounts[0].IsSigner = false
		assert.ErrorIs(t, program.Process(host, EncodeInstruction(ix)), ErrMissingSignature)
	})

	t.Run("storage initialized", func(t *testing.T) {
		ix := yesNo("poll-a")
		host, storage := createHost(t, ix, testStart)
		storage.Data = []byte{1}
		err := program.Process(host, EncodeInstruction(ix))
		assert.ErrorIs(t, err, ErrAlreadyInitialized)
		assert.ErrorIs(t, err, ErrAccountState)
	})

	t.Run("wrong system program", func(t *testing.T) {
		ix := yesNo("poll-a")
		host, _ := createHost(t, ix, testStart)
		host.accounts[2].Key = testProgramID
		assert.ErrorIs(t, program.Process(host, EncodeInstruction(ix)), ErrWrongProgram)
	})

	t.Run("too few accounts", func(t *testing.T) {
		ix := yesNo("poll-a")
		host, _ := createHost(t, ix, testStart)
		host.accounts = host.accounts[:2]
		assert.ErrorIs(t, program.Process(host, EncodeInstruction(ix)), ErrNotEnoughAccountKeys)
	})

	t.Run("owner cannot fund rent", func(t *testing.T) {
		ix := yesNo("poll-a")
		host, storage := createHost(t, ix, testStart)
		host.accounts[0].Lamports = 10
		assert.ErrorIs(t, program.Process(host, EncodeInstruction(ix)), ErrResource)
		assert.Empty(t, storage.Data)
		assert.Equal(t, uint64(10), host.accounts[0].Lamports)
	})

	t.Run("created twice", func(t *testing.T) {
		ix := yesNo("poll-twice")
		host, _ := createHost(t, ix, testStart)
		require.NoError(t, program.Process(host, EncodeInstruction(ix)))
		assert.ErrorIs(t, program.Process(host, EncodeInstruction(ix)), ErrAlreadyInitialized)
	})
}

func TestCastVoteAccountChecks(t *testing.T) {
	program := NewProgram(testProgramID)
	data := EncodeInstruction(&Vote{OptionID: 1})

	t.Run("voter not signer", func(t *testing.T) {
		storage := createPoll(t, yesNo("poll-v"))
		host := voteHost(t, storage, testStart)
		host.accounts[0].IsSigner = false
		assert.ErrorIs(t, program.Process(host, data), ErrMissingSignature)
	})

	t.Run("uninitialized storage", func(t *testing.T) {
		storage := &svm.AccountInfo{Key: types.Pubkey{1}, Owner: testProgramID, IsWritable: true}
		host := voteHost(t, storage, testStart)
		assert.ErrorIs(t, program.Process(host, data), ErrUninitialized)
	})

	t.Run("storage owned by another program", func(t *testing.T) {
		storage := createPoll(t, yesNo("poll-v"))
		storage.Owner = types.SystemProgramAddr
		host := voteHost(t, storage, testStart)
		assert.ErrorIs(t, program.Process(host, data), ErrWrongOwner)
	})

	t.Run("substituted record", func(t *testing.T) {
		genuine := createPoll(t, yesNo("poll-v"))
		fake := &svm.AccountInfo{
			Key:        types.Pubkey{9, 9, 9},
			Owner:      testProgramID,
			Data:       bytes.Clone(genuine.Data),
			IsWritable: true,
		}
		before := bytes.Clone(fake.Data)
		host := voteHost(t, fake, testStart)
		assert.ErrorIs(t, program.Process(host, data), ErrAddressMismatch)
		assert.Equal(t, before, fake.Data)
	})

	t.Run("corrupt record", func(t *testing.T) {
		storage := createPoll(t, yesNo("poll-v"))
		storage.Data = storage.Data[:len(storage.Data)-1]
		host := voteHost(t, storage, testStart)
		assert.ErrorIs(t, program.Process(host, data), ErrMalformedInput)
	})

	t.Run("too few accounts", func(t *testing.T) {
		storage := createPoll(t, yesNo("poll-v"))
		host := voteHost(t, storage, testStart)
		host.accounts = host.accounts[:1]
		assert.ErrorIs(t, program.Process(host, data), ErrNotEnoughAccountKeys)
	})
}

func TestVoteCounterSaturates(t *testing.T) {
	storage := createPoll(t, yesNo("poll-sat"))
	poll, err := DecodePoll(storage.Data)
	require.NoError(t, err)
	poll.Options[0].Counter = math.MaxUint32
	require.NoError(t, poll.EncodeInto(storage.Data))

	require.NoError(t, vote(t, storage, poll.Options[0].ID, testStart))
	assert.Equal(t, uint32(math.MaxUint32), counters(t, storage)[poll.Options[0].ID])
}

func TestMalformedInstruction(t *testing.T) {
	host, storage := createHost(t, yesNo("poll-m"), testStart)
	err := NewProgram(testProgramID).Process(host, []byte{7})
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.Empty(t, storage.Data)
	assert.NotEmpty(t, host.logs)
}

func TestClientInstructions(t *testing.T) {
	owner := testOwner(t)
	ix, err := NewCreateVotingInstruction(testProgramID, owner, yesNo("poll-c"))
	require.NoError(t, err)

	addr, _, err := DerivePollAddress(owner, "poll-c", testProgramID)
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 3)
	assert.Equal(t, owner, ix.Accounts[0].Pubkey)
	assert.True(t, ix.Accounts[0].IsSigner)
	assert.Equal(t, addr, ix.Accounts[1].Pubkey)
	assert.True(t, ix.Accounts[1].IsWritable)
	assert.Equal(t, types.SystemProgramAddr, ix.Accounts[2].Pubkey)

	v, err := NewVoteInstruction(testProgramID, types.Pubkey{5}, owner, "poll-c", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{TagVote, 2}, v.Data)
	assert.Equal(t, addr, v.Accounts[2].Pubkey)
}
