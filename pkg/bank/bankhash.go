package bank

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/accounts"
)

// BankHashInfo contains the components of a slot's bank hash.
type BankHashInfo struct {
	// ParentBankHash is the bank hash of the previous slot.
	ParentBankHash types.Hash

	// AccountsDeltaHash commits to the accounts written in the slot.
	AccountsDeltaHash types.Hash

	// SignatureCount is the number of signatures processed in the slot.
	SignatureCount uint64

	// LastBlockhash is the blockhash of the slot.
	LastBlockhash types.Hash
}

// ComputeBankHash computes
//
//	SHA256(parent_bank_hash || accounts_delta_hash || signature_count || last_blockhash)
//
// with the signature count as a little-endian u64.
func ComputeBankHash(info *BankHashInfo) types.Hash {
	buf := make([]byte, 0, 104)
	buf = append(buf, info.ParentBankHash[:]...)
	buf = append(buf, info.AccountsDeltaHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, info.SignatureCount)
	buf = append(buf, info.LastBlockhash[:]...)
	return sha256.Sum256(buf)
}

// slotState accumulates the effects of the transactions of one slot.
type slotState struct {
	written        map[types.Pubkey]*accounts.Account
	signatureCount uint64
}

func newSlotState() *slotState {
	return &slotState{written: make(map[types.Pubkey]*accounts.Account)}
}

func (s *slotState) record(sigs int, written map[types.Pubkey]*accounts.Account) {
	s.signatureCount += uint64(sigs)
	for k, acc := range written {
		s.written[k] = acc
	}
}

func (s *slotState) bankHash(parent, blockhash types.Hash) types.Hash {
	return ComputeBankHash(&BankHashInfo{
		ParentBankHash:    parent,
		AccountsDeltaHash: accounts.ComputeDeltaHash(s.written),
		SignatureCount:    s.signatureCount,
		LastBlockhash:     blockhash,
	})
}
