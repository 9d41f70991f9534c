// Package geyser streams committed account and transaction updates over gRPC.
//
// A Server fans updates out to subscribers that filter by account or owner.
// A Client consumes a subscription and reconnects with exponential backoff
// when the stream drops.
//
// Messages are plain Go structs carried by a JSON codec registered with
// grpc-go, so no generated protobuf code is involved.
package geyser

import (
	"fmt"
	"time"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

// SubscribeRequest selects the updates a subscriber receives.
//
// An account update matches when its pubkey is listed in Accounts or its
// owner in Owners. With both lists empty every account update matches.
type SubscribeRequest struct {
	Accounts []string `json:"accounts,omitempty"`
	Owners   []string `json:"owners,omitempty"`

	// Transactions adds a TransactionUpdate for each committed transaction
	// that touched a matching account.
	Transactions bool `json:"transactions,omitempty"`

	// Slots adds a SlotUpdate each time a slot is sealed.
	Slots bool `json:"slots,omitempty"`
}

// Update is one message on a subscription stream. Exactly one of Account,
// Transaction and Slot is set, except on the first message of a stream which
// carries SubscriptionID and the current slot.
type Update struct {
	SubscriptionID string             `json:"subscriptionId,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	Account        *AccountUpdate     `json:"account,omitempty"`
	Transaction    *TransactionUpdate `json:"transaction,omitempty"`
	Slot           *SlotUpdate        `json:"slot,omitempty"`
}

// AccountUpdate is the post-state of an account written by a transaction.
type AccountUpdate struct {
	Slot       uint64          `json:"slot"`
	Signature  types.Signature `json:"signature"`
	Pubkey     types.Pubkey    `json:"pubkey"`
	Owner      types.Pubkey    `json:"owner"`
	Lamports   uint64          `json:"lamports"`
	Data       []byte          `json:"data"`
	Executable bool            `json:"executable"`

	// Deleted is set when the transaction drained the account.
	Deleted bool `json:"deleted,omitempty"`

	// WriteVersion increases with every account update the server emits.
	WriteVersion uint64 `json:"writeVersion"`
}

// TransactionUpdate summarizes a committed transaction.
type TransactionUpdate struct {
	Slot                 uint64          `json:"slot"`
	Signature            types.Signature `json:"signature"`
	AccountKeys          []types.Pubkey  `json:"accountKeys"`
	Err                  string          `json:"err,omitempty"`
	Logs                 []string        `json:"logs"`
	ComputeUnitsConsumed uint64          `json:"computeUnitsConsumed"`
}

// SlotUpdate announces a sealed slot.
type SlotUpdate struct {
	Slot     uint64     `json:"slot"`
	BankHash types.Hash `json:"bankHash"`
}

func (u *Update) String() string {
	switch {
	case u.Account != nil:
		return fmt.Sprintf("account %s slot %d", u.Account.Pubkey, u.Account.Slot)
	case u.Transaction != nil:
		return fmt.Sprintf("transaction %s slot %d", u.Transaction.Signature, u.Transaction.Slot)
	case u.Slot != nil:
		return fmt.Sprintf("slot %d", u.Slot.Slot)
	default:
		return "empty update"
	}
}

// ClientHealth reports the state of a Client.
type ClientHealth struct {
	Connected      bool
	SubscriptionID string
	LastSlot       uint64
	LastUpdate     time.Time
	Endpoint       string
	ReconnectCount int
	LastError      error
}
