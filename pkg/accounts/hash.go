package accounts

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

// ComputeAccountHash computes the hash of a single account:
// SHA256(lamports || data || executable || owner || pubkey).
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	h := sha256.New()
	var lamports [8]byte
	binary.LittleEndian.PutUint64(lamports[:], account.Lamports)
	h.Write(lamports[:])
	h.Write(account.Data)
	if account.Executable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(account.Owner[:])
	h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeDeltaHash computes the Merkle root over the accounts written by one
// transaction. Accounts are ordered by pubkey; deleted accounts contribute a
// zero hash.
func ComputeDeltaHash(written map[types.Pubkey]*Account) types.Hash {
	keys := make([]types.Pubkey, 0, len(written))
	for k := range written {
		keys = append(keys, k)
	}
	SortPubkeys(keys)

	hashes := make([]types.Hash, len(keys))
	for i, k := range keys {
		if acc := written[k]; acc != nil && !acc.IsZero() {
			hashes[i] = ComputeAccountHash(k, acc)
		}
	}
	return ComputeMerkleRoot(hashes)
}

// ComputeAccountsHash computes the Merkle root over every account in db.
func ComputeAccountsHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeMerkleRoot computes the root of a binary Merkle tree.
//
// Tree structure:
// - Leaf: SHA256(0x00 || hash)
// - Node: SHA256(0x01 || left || right)
// - If odd number of nodes, last node is paired with zero hash
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = computeLeafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = computeNodeHash(level[i], right)
		}
		level = next
	}
	return level[0]
}

func computeLeafHash(data types.Hash) types.Hash {
	buf := make([]byte, 1+32)
	buf[0] = 0x00
	copy(buf[1:], data[:])
	return sha256.Sum256(buf)
}

func computeNodeHash(left, right types.Hash) types.Hash {
	buf := make([]byte, 1+32+32)
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[33:], right[:])
	return sha256.Sum256(buf)
}
