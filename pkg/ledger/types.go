package ledger

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

// Entry is one processed transaction as recorded in the ledger.
type Entry struct {
	// Sequence is the position of the entry in the ledger, starting at 1.
	Sequence uint64

	Slot      uint64
	BlockTime int64
	Signature types.Signature

	// Transaction is the transaction in wire form.
	Transaction []byte

	// AccountKeys lists every account the transaction referenced.
	AccountKeys []types.Pubkey

	// Err is set when the transaction failed. Failed transactions are
	// recorded but change no account.
	Err *TransactionError

	Logs                 []string
	ComputeUnitsConsumed uint64

	// DeltaHash commits to the accounts the transaction wrote.
	DeltaHash types.Hash

	// PrevHash is the Hash of the previous entry; Hash chains this entry
	// onto it.
	PrevHash types.Hash
	Hash     types.Hash
}

// TransactionError is the recorded failure of a transaction.
type TransactionError struct {
	InstructionIndex int
	Custom           *uint32
	Message          string
}

// SignatureInfo is a compact reference to an entry.
type SignatureInfo struct {
	Signature types.Signature `json:"signature"`
	Sequence  uint64          `json:"sequence"`
	Slot      uint64          `json:"slot"`
	BlockTime int64           `json:"blockTime"`
	Failed    bool            `json:"failed"`
}

// QueryOptions configures SignaturesForAddress.
type QueryOptions struct {
	// Limit caps the number of results. Zero means DefaultQueryLimit.
	Limit int

	// Before returns only entries older than this signature.
	Before *types.Signature

	// Until returns only entries newer than this signature.
	Until *types.Signature
}

// DefaultQueryLimit is used when QueryOptions.Limit is not set.
const DefaultQueryLimit = 1000

// encodeSeqKey encodes a sequence as a big-endian key for ordered iteration.
func encodeSeqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func decodeSeqKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// encodeAddressSeqKey encodes address+sequence for the address index.
func encodeAddressSeqKey(addr types.Pubkey, seq uint64) []byte {
	key := make([]byte, types.PubkeySize+8)
	copy(key, addr[:])
	binary.BigEndian.PutUint64(key[types.PubkeySize:], seq)
	return key
}
