package svm

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

func TestFindProgramAddressMatchesReference(t *testing.T) {
	programID := types.MustPubkeyFromBase58("Ba11otVoting1111111111111111111111111111111")
	owner := types.MustPubkeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")

	cases := [][][]byte{
		{owner[:], []byte("poll1"), []byte("voting")},
		{[]byte("a")},
		{},
		{owner[:], []byte("0123456789abcdef0123456789abcdef"), []byte("0123"), []byte("voting")},
	}

	for _, seeds := range cases {
		got, bump, err := FindProgramAddress(seeds, programID)
		require.NoError(t, err)

		want, wantBump, err := solana.FindProgramAddress(seeds, solana.PublicKey(programID))
		require.NoError(t, err)

		assert.Equal(t, types.Pubkey(want), got)
		assert.Equal(t, wantBump, bump)
	}
}

func TestFindProgramAddressDeterministic(t *testing.T) {
	programID := types.MustPubkeyFromBase58("Ba11otVoting1111111111111111111111111111111")
	seeds := [][]byte{[]byte("owner"), []byte("uid"), []byte("voting")}

	addr1, bump1, err := FindProgramAddress(seeds, programID)
	require.NoError(t, err)
	addr2, bump2, err := FindProgramAddress(seeds, programID)
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
	assert.Equal(t, bump1, bump2)
	assert.False(t, isOnCurve(addr1[:]))

	// the bump reproduces the address through CreateProgramAddress
	direct, err := CreateProgramAddress(append(seeds, []byte{bump1}), programID)
	require.NoError(t, err)
	assert.Equal(t, addr1, direct)
}

func TestCreateProgramAddressLimits(t *testing.T) {
	programID := types.SystemProgramAddr

	_, err := CreateProgramAddress([][]byte{make([]byte, MaxSeedLen+1)}, programID)
	assert.ErrorIs(t, err, ErrMaxSeedLengthExceeded)

	seeds := make([][]byte, MaxSeeds+1)
	_, err = CreateProgramAddress(seeds, programID)
	assert.ErrorIs(t, err, ErrMaxSeedsExceeded)

	_, _, err = FindProgramAddress(make([][]byte, MaxSeeds), programID)
	assert.ErrorIs(t, err, ErrMaxSeedsExceeded)
}

func TestIsOnCurve(t *testing.T) {
	// A real ed25519 public key is on the curve.
	kp, err := types.NewKeypair()
	require.NoError(t, err)
	assert.True(t, isOnCurve(kp.Public[:]))

	assert.False(t, isOnCurve([]byte{1, 2, 3}))
}

func TestComputeMeter(t *testing.T) {
	cm := NewComputeMeter(1000)
	require.NoError(t, cm.Consume(400))
	assert.Equal(t, uint64(600), cm.Remaining())
	assert.Equal(t, uint64(400), cm.Consumed())

	assert.ErrorIs(t, cm.Consume(601), ErrComputeExceeded)
	assert.Equal(t, uint64(0), cm.Remaining())
	assert.Equal(t, uint64(1000), cm.Consumed())

	assert.Equal(t, CUMax, NewComputeMeter(0).Limit())
	assert.Equal(t, 256*CUFindProgramAddress, FindProgramAddressCost(0))
	assert.Equal(t, CUFindProgramAddress, FindProgramAddressCost(255))
}
