package voting

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
)

// SeedTag is the constant seed that closes every poll address derivation.
const SeedTag = "voting"

// PollSeeds returns the derivation seeds for the poll uid created by owner:
// the owner key, the uid bytes and SeedTag.
//
// A single seed is limited to svm.MaxSeedLen bytes, so a longer uid is
// spread over consecutive seeds. Seeds are hashed back to back, which makes
// the split invisible in the derived address.
func PollSeeds(owner types.Pubkey, uid string) [][]byte {
	raw := []byte(uid)
	seeds := make([][]byte, 0, 2+(len(raw)+svm.MaxSeedLen-1)/svm.MaxSeedLen)
	seeds = append(seeds, owner[:])
	for len(raw) > svm.MaxSeedLen {
		seeds = append(seeds, raw[:svm.MaxSeedLen])
		raw = raw[svm.MaxSeedLen:]
	}
	if len(raw) > 0 {
		seeds = append(seeds, raw)
	}
	return append(seeds, []byte(SeedTag))
}

// PollSignerSeeds returns PollSeeds followed by the bump byte, the seed list
// that signs for the poll address in a cross-program invocation.
func PollSignerSeeds(owner types.Pubkey, uid string, bump uint8) [][]byte {
	return append(PollSeeds(owner, uid), []byte{bump})
}

// DerivePollAddress computes the storage address and bump of the poll uid
// created by owner under programID. The result depends only on its inputs.
func DerivePollAddress(owner types.Pubkey, uid string, programID types.Pubkey) (types.Pubkey, uint8, error) {
	addr, bump, err := svm.FindProgramAddress(PollSeeds(owner, uid), programID)
	if errors.Is(err, svm.ErrMaxSeedsExceeded) {
		return types.Pubkey{}, 0, fmt.Errorf("%w: uid is %d bytes", ErrFieldTooLong, len(uid))
	}
	if err != nil {
		return types.Pubkey{}, 0, err
	}
	return addr, bump, nil
}
