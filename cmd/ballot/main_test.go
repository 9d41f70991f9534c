package main

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/voting"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDeriveCommand(t *testing.T) {
	owner, err := types.NewKeypair()
	require.NoError(t, err)

	out, err := execute(t, "derive", "--owner", owner.Public.String(), "--uid", "lunch")
	require.NoError(t, err)

	addr, bump, err := voting.DerivePollAddress(owner.Public, "lunch", types.DefaultVotingProgramAddr)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s %d\n", addr, bump), out)
}

func TestDeriveCommandRejectsBadOwner(t *testing.T) {
	_, err := execute(t, "derive", "--owner", "not-a-key", "--uid", "lunch")
	assert.ErrorContains(t, err, "invalid --owner")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestSnapshotCreateAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/accounts.snap"

	out, err := execute(t, "snapshot", "create", path, "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "accounts=0")

	out, err = execute(t, "snapshot", "load", path, "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "accounts=0")
}
