package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
)

func testKeypair(t *testing.T, b byte) *types.Keypair {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = b
	}
	kp, err := types.KeypairFromSeed(seed)
	require.NoError(t, err)
	return kp
}

func TestNewMessageOrdersAccounts(t *testing.T) {
	payer := testKeypair(t, 1).Public
	cosigner := testKeypair(t, 2).Public
	writable := testKeypair(t, 3).Public
	readonly := testKeypair(t, 4).Public
	program := testKeypair(t, 5).Public

	ix := svm.Instruction{
		ProgramID: program,
		Accounts: []svm.AccountMeta{
			{Pubkey: readonly},
			{Pubkey: writable, IsWritable: true},
			{Pubkey: cosigner, IsSigner: true},
			{Pubkey: payer, IsSigner: true},
		},
		Data: []byte{9},
	}
	msg, err := NewMessage(payer, types.Hash{}, ix)
	require.NoError(t, err)

	assert.Equal(t, []types.Pubkey{payer, cosigner, writable, readonly, program}, msg.AccountKeys)
	assert.Equal(t, MessageHeader{
		NumRequiredSignatures:       2,
		NumReadonlySignedAccounts:   1,
		NumReadonlyUnsignedAccounts: 2,
	}, msg.Header)
	require.Len(t, msg.Instructions, 1)
	assert.Equal(t, uint8(4), msg.Instructions[0].ProgramIDIndex)
	assert.Equal(t, []uint8{3, 2, 1, 0}, msg.Instructions[0].AccountIndexes)

	assert.True(t, msg.IsWritable(0))
	assert.False(t, msg.IsWritable(1))
	assert.True(t, msg.IsWritable(2))
	assert.False(t, msg.IsWritable(3))
	assert.False(t, msg.IsWritable(4))
	assert.True(t, msg.IsSigner(1))
	assert.False(t, msg.IsSigner(2))
	require.NoError(t, msg.Sanitize())
}

func TestNewMessageMergesFlags(t *testing.T) {
	payer := testKeypair(t, 1).Public
	shared := testKeypair(t, 2).Public
	program := testKeypair(t, 3).Public

	msg, err := NewMessage(payer, types.Hash{},
		svm.Instruction{ProgramID: program, Accounts: []svm.AccountMeta{{Pubkey: shared}}},
		svm.Instruction{ProgramID: program, Accounts: []svm.AccountMeta{{Pubkey: shared, IsWritable: true}}},
	)
	require.NoError(t, err)
	assert.Equal(t, []types.Pubkey{payer, shared, program}, msg.AccountKeys)
	assert.True(t, msg.IsWritable(1))
}

func TestTransactionWireFormat(t *testing.T) {
	payer := testKeypair(t, 1)
	ix := svm.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts:  []svm.AccountMeta{{Pubkey: testKeypair(t, 2).Public, IsWritable: true}},
		Data:      []byte{1, 2, 3},
	}
	tx, err := NewTransaction(BlockhashForSlot(7), []svm.Instruction{ix}, payer)
	require.NoError(t, err)
	require.NoError(t, tx.VerifySignatures())

	raw := tx.Serialize()
	decoded, err := DeserializeTransaction(raw)
	require.NoError(t, err)
	assert.Equal(t, tx, decoded)
	assert.Equal(t, tx.Message.Hash(), decoded.Message.Hash())

	_, err = DeserializeTransaction(append(raw, 0))
	assert.ErrorIs(t, err, ErrMalformedTransaction)
	_, err = DeserializeTransaction(raw[:len(raw)-1])
	assert.ErrorIs(t, err, ErrMalformedTransaction)
}

func TestTransactionSignatures(t *testing.T) {
	payer := testKeypair(t, 1)
	other := testKeypair(t, 2)
	ix := svm.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts:  []svm.AccountMeta{{Pubkey: other.Public, IsSigner: true, IsWritable: true}},
	}

	_, err := NewTransaction(types.Hash{}, []svm.Instruction{ix}, payer)
	assert.ErrorIs(t, err, ErrMissingSigner)

	tx, err := NewTransaction(types.Hash{}, []svm.Instruction{ix}, payer, other)
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 2)
	assert.Equal(t, tx.Signatures[0], tx.Signature())
	require.NoError(t, tx.VerifySignatures())

	tx.Message.Instructions[0].Data = []byte{42}
	assert.ErrorIs(t, tx.VerifySignatures(), ErrSignatureVerify)

	tx.Signatures = tx.Signatures[:1]
	assert.ErrorIs(t, tx.VerifySignatures(), ErrSignatureCount)
}

func TestMessageSanitize(t *testing.T) {
	payer := testKeypair(t, 1).Public
	msg, err := NewMessage(payer, types.Hash{}, svm.Instruction{ProgramID: types.SystemProgramAddr})
	require.NoError(t, err)
	require.NoError(t, msg.Sanitize())

	dup := *msg
	dup.AccountKeys = []types.Pubkey{payer, payer}
	assert.ErrorIs(t, dup.Sanitize(), ErrInvalidMessage)

	badIndex := *msg
	badIndex.Instructions = []CompiledInstruction{{ProgramIDIndex: 9}}
	assert.ErrorIs(t, badIndex.Sanitize(), ErrInvalidMessage)

	payerAsProgram := *msg
	payerAsProgram.Instructions = []CompiledInstruction{{ProgramIDIndex: 0}}
	assert.ErrorIs(t, payerAsProgram.Sanitize(), ErrInvalidMessage)

	noPayer := *msg
	noPayer.Header.NumRequiredSignatures = 0
	assert.ErrorIs(t, noPayer.Sanitize(), ErrInvalidMessage)
}

func TestBlockhashQueue(t *testing.T) {
	q := newBlockhashQueue(10)
	assert.True(t, q.isRecent(BlockhashForSlot(0)))
	assert.True(t, q.isRecent(BlockhashForSlot(10)))
	assert.False(t, q.isRecent(BlockhashForSlot(11)))

	q.advance(10 + MaxBlockhashAge + 1)
	assert.False(t, q.isRecent(BlockhashForSlot(10)))
	assert.True(t, q.isRecent(BlockhashForSlot(11)))
	assert.Equal(t, BlockhashForSlot(10+MaxBlockhashAge+1), q.latest())

	q.advance(10_000)
	assert.Len(t, q.slots, MaxBlockhashAge+1)
}
