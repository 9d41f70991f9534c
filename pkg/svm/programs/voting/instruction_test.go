package voting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstructionRoundTrip(t *testing.T) {
	create := yesNo("poll1")
	ix, err := DecodeInstruction(EncodeInstruction(create))
	require.NoError(t, err)
	assert.Equal(t, create, ix)

	ix, err = DecodeInstruction(EncodeInstruction(&Vote{OptionID: 42}))
	require.NoError(t, err)
	assert.Equal(t, &Vote{OptionID: 42}, ix)
}

func TestCreateVotingWireFormat(t *testing.T) {
	data := EncodeInstruction(&CreateVoting{
		UID: "u", Name: "n", Start: 3, End: 4,
		Options: []OptionSpec{{Counter: 5, ID: 6, Description: "d"}},
	})
	want := []byte{
		0,
		1, 0, 0, 0, 'u',
		1, 0, 0, 0, 'n',
		3, 0, 0, 0, 0, 0, 0, 0,
		4, 0, 0, 0, 0, 0, 0, 0,
		1, 0, 0, 0,
		5, 0, 0, 0, 6, 1, 0, 0, 0, 'd',
	}
	assert.Equal(t, want, data)
}

func TestDecodeInstructionIsAllOrNothing(t *testing.T) {
	data := EncodeInstruction(yesNo("poll1"))
	for i := 0; i < len(data); i++ {
		ix, err := DecodeInstruction(data[:i])
		assert.ErrorIs(t, err, ErrMalformedInput, "prefix of %d bytes", i)
		assert.Nil(t, ix)
	}

	tests := map[string][]byte{
		"empty":          nil,
		"unknown tag":    {2},
		"vote truncated": {1},
		"vote trailing":  {1, 1, 0},
		"trailing":       append(data, 0),
		"huge option count": {0,
			0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0xff, 0xff, 0xff, 0xff},
		"bad utf8": {0, 1, 0, 0, 0, 0xc3},
	}
	for name, data := range tests {
		_, err := DecodeInstruction(data)
		assert.ErrorIs(t, err, ErrMalformedInput, name)
	}
}
