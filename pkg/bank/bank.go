// Package bank processes client transactions for a node.
//
// A Bank sits between the transport layers and the runtime: it rejects
// signatures it has already recorded, executes the transaction, appends the
// outcome to the ledger and tracks the per-slot bank hash.
package bank

import (
	"errors"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/ledger"
	"github.com/fortiblox/X1-Ballot/pkg/runtime"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/system"
)

var (
	// ErrAlreadyProcessed is returned for a signature the ledger holds.
	ErrAlreadyProcessed = errors.New("transaction already processed")

	// ErrAirdropLimit is returned for an airdrop outside the allowed range.
	ErrAirdropLimit = errors.New("airdrop amount outside allowed range")

	// ErrAirdropFailed is returned when the faucet transfer fails.
	ErrAirdropFailed = errors.New("airdrop failed")
)

// Config holds bank configuration.
type Config struct {
	// MaxAirdropLamports caps a single airdrop. Zero disables airdrops.
	MaxAirdropLamports uint64
}

// DefaultConfig returns the default bank configuration.
func DefaultConfig() Config {
	return Config{MaxAirdropLamports: 10_000_000_000}
}

// Bank processes transactions against a runtime and records them.
type Bank struct {
	cfg    Config
	rt     *runtime.Runtime
	ledger *ledger.Store

	mu       sync.Mutex
	slot     *slotState
	bankHash types.Hash
}

// New creates a bank.
func New(cfg Config, rt *runtime.Runtime, l *ledger.Store) *Bank {
	return &Bank{
		cfg:    cfg,
		rt:     rt,
		ledger: l,
		slot:   newSlotState(),
	}
}

// Runtime returns the underlying runtime.
func (b *Bank) Runtime() *runtime.Runtime {
	return b.rt
}

// Ledger returns the underlying ledger.
func (b *Bank) Ledger() *ledger.Store {
	return b.ledger
}

// Submit executes tx and records it.
//
// Transactions rejected before execution (malformed, bad signature, stale
// blockhash) are returned with Result.Err set and are not recorded. A
// transaction that executed is recorded whether it succeeded or failed.
func (b *Bank) Submit(tx *runtime.Transaction) (*runtime.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sig := tx.Signature()
	seen, err := b.ledger.Has(sig)
	if err != nil {
		return nil, fmt.Errorf("check signature: %w", err)
	}
	if seen {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, sig)
	}

	res, err := b.rt.Execute(tx)
	if err != nil {
		return nil, err
	}
	if res.Err != nil && res.Err.InstructionIndex < 0 {
		return res, nil
	}

	entry := &ledger.Entry{
		Slot:                 res.Slot,
		BlockTime:            res.BlockTime,
		Signature:            sig,
		Transaction:          tx.Serialize(),
		AccountKeys:          tx.Message.AccountKeys,
		Logs:                 res.Logs,
		ComputeUnitsConsumed: res.ComputeUnitsConsumed,
		DeltaHash:            res.DeltaHash,
	}
	if res.Err != nil {
		entry.Err = &ledger.TransactionError{
			InstructionIndex: res.Err.InstructionIndex,
			Custom:           res.Err.Custom,
			Message:          res.Err.Message,
		}
	}
	if err := b.ledger.Append(entry); err != nil {
		return nil, fmt.Errorf("record transaction %s: %w", sig, err)
	}
	b.slot.record(len(tx.Signatures), res.Accounts)

	klog.V(1).InfoS("Processed transaction", "signature", sig, "slot", res.Slot,
		"success", res.Err == nil, "computeUnits", res.ComputeUnitsConsumed)
	return res, nil
}

// Simulate executes tx without committing or recording it.
func (b *Bank) Simulate(tx *runtime.Transaction) (*runtime.Result, error) {
	return b.rt.Simulate(tx)
}

// RequestAirdrop funds to with lamports through a recorded faucet transfer.
func (b *Bank) RequestAirdrop(to types.Pubkey, lamports uint64) (types.Signature, error) {
	if lamports == 0 || lamports > b.cfg.MaxAirdropLamports {
		return types.Signature{}, fmt.Errorf("%w: %d (max %d)", ErrAirdropLimit, lamports, b.cfg.MaxAirdropLamports)
	}

	// Each airdrop is paid by a one-off faucet key so repeated requests
	// never produce the same signature.
	faucet, err := types.NewKeypair()
	if err != nil {
		return types.Signature{}, err
	}
	if err := b.rt.Airdrop(faucet.Public, lamports); err != nil {
		return types.Signature{}, err
	}
	tx, err := runtime.NewTransaction(b.rt.LatestBlockhash(),
		[]svm.Instruction{system.NewTransferInstruction(faucet.Public, to, lamports)}, faucet)
	if err != nil {
		return types.Signature{}, err
	}
	res, err := b.Submit(tx)
	if err != nil {
		return types.Signature{}, err
	}
	if res.Err != nil {
		return types.Signature{}, fmt.Errorf("%w: %v", ErrAirdropFailed, res.Err)
	}
	return res.Signature, nil
}

// Transaction returns the recorded entry for sig.
func (b *Bank) Transaction(sig types.Signature) (*ledger.Entry, error) {
	return b.ledger.Get(sig)
}

// SignaturesForAddress returns recorded signatures that referenced addr.
func (b *Bank) SignaturesForAddress(addr types.Pubkey, opts *ledger.QueryOptions) ([]ledger.SignatureInfo, error) {
	return b.ledger.SignaturesForAddress(addr, opts)
}

// EndSlot seals the current slot, advances the runtime to the next one and
// returns the sealed slot's bank hash.
func (b *Bank) EndSlot() (uint64, types.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot := b.rt.Slot()
	hash := b.slot.bankHash(b.bankHash, runtime.BlockhashForSlot(slot))
	if _, err := b.rt.AdvanceSlot(); err != nil {
		return 0, types.Hash{}, err
	}
	if b.slot.signatureCount > 0 {
		klog.V(2).InfoS("Sealed slot", "slot", slot, "bankHash", hash,
			"signatures", b.slot.signatureCount, "accounts", len(b.slot.written))
	}
	b.bankHash = hash
	b.slot = newSlotState()
	return slot, hash, nil
}

// BankHash returns the bank hash of the last sealed slot.
func (b *Bank) BankHash() types.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bankHash
}
