// Package runtime executes signed transactions against the accounts database.
//
// Each instruction of a transaction runs in a frame that hands the program
// copies of its accounts. When the program returns, the runtime checks the
// mutations against the ownership rules and folds them into the
// transaction's working state. Nothing reaches the database unless every
// instruction succeeds.
package runtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/accounts"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/voting"
)

// Rent defaults.
const (
	DefaultLamportsPerByteYear = uint64(3480)
	DefaultExemptionThreshold  = uint64(2)

	// AccountStorageOverhead is charged on top of the data length.
	AccountStorageOverhead = uint64(128)
)

var (
	// ErrBlockhashNotFound is returned when a transaction references an
	// unknown or expired blockhash.
	ErrBlockhashNotFound = errors.New("blockhash not found")

	// ErrNoInstructions is returned for a transaction with nothing to run.
	ErrNoInstructions = errors.New("transaction has no instructions")

	// ErrAirdropOverflow is returned when an airdrop would overflow a balance.
	ErrAirdropOverflow = errors.New("airdrop overflows account balance")
)

// Config holds runtime parameters.
type Config struct {
	// VotingProgramID is the address the voting program is registered under.
	VotingProgramID types.Pubkey

	// LamportsPerByteYear and ExemptionThreshold define the rent minimum.
	LamportsPerByteYear uint64
	ExemptionThreshold  uint64

	// ComputeUnitLimit is the per-transaction compute budget.
	ComputeUnitLimit uint64
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		VotingProgramID:     types.DefaultVotingProgramAddr,
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
		ComputeUnitLimit:    svm.CUDefault,
	}
}

// TransactionError describes why a transaction failed.
type TransactionError struct {
	// InstructionIndex is the failing top-level instruction, or -1 when the
	// transaction failed before any instruction ran.
	InstructionIndex int `json:"instructionIndex"`

	// Custom is the program-defined error code, if the program returned one.
	Custom *uint32 `json:"custom,omitempty"`

	Message string `json:"message"`

	cause error
}

func (e *TransactionError) Error() string {
	if e.InstructionIndex < 0 {
		return e.Message
	}
	if e.Custom != nil {
		return fmt.Sprintf("instruction %d: custom program error 0x%x: %s", e.InstructionIndex, *e.Custom, e.Message)
	}
	return fmt.Sprintf("instruction %d: %s", e.InstructionIndex, e.Message)
}

func (e *TransactionError) Unwrap() error {
	return e.cause
}

func newTransactionError(index int, err error) *TransactionError {
	te := &TransactionError{InstructionIndex: index, Message: err.Error(), cause: err}
	var custom svm.CustomError
	if errors.As(err, &custom) {
		code := custom.CustomCode()
		te.Custom = &code
	}
	return te
}

// Result is the outcome of executing or simulating a transaction.
type Result struct {
	Signature            types.Signature   `json:"signature"`
	MessageHash          types.Hash        `json:"messageHash"`
	Slot                 uint64            `json:"slot"`
	BlockTime            int64             `json:"blockTime"`
	Err                  *TransactionError `json:"err,omitempty"`
	Logs                 []string          `json:"logs"`
	ComputeUnitsConsumed uint64            `json:"computeUnitsConsumed"`

	// Accounts holds the post-state of every writable account the
	// transaction changed. Deleted accounts map to nil.
	Accounts  map[types.Pubkey]*accounts.Account `json:"-"`
	DeltaHash types.Hash                         `json:"deltaHash"`
}

// Failed reports whether the transaction failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// CommitListener is notified after a transaction's effects are committed.
type CommitListener func(tx *Transaction, res *Result)

// Runtime executes transactions. Execution is serialized.
type Runtime struct {
	cfg      Config
	db       accounts.DB
	programs map[types.Pubkey]svm.Program
	clock    func() time.Time

	mu          sync.Mutex
	blockhashes *blockhashQueue
	listeners   []CommitListener
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock replaces the wall clock programs observe.
func WithClock(clock func() time.Time) Option {
	return func(r *Runtime) { r.clock = clock }
}

// WithProgram registers an additional program.
func WithProgram(p svm.Program) Option {
	return func(r *Runtime) { r.programs[p.ID()] = p }
}

// New creates a runtime over db with the system and voting programs
// registered.
func New(cfg Config, db accounts.DB, opts ...Option) *Runtime {
	if cfg.LamportsPerByteYear == 0 {
		cfg.LamportsPerByteYear = DefaultLamportsPerByteYear
	}
	if cfg.ExemptionThreshold == 0 {
		cfg.ExemptionThreshold = DefaultExemptionThreshold
	}
	if cfg.VotingProgramID.IsZero() {
		cfg.VotingProgramID = types.DefaultVotingProgramAddr
	}
	r := &Runtime{
		cfg:         cfg,
		db:          db,
		programs:    make(map[types.Pubkey]svm.Program),
		clock:       time.Now,
		blockhashes: newBlockhashQueue(db.GetSlot()),
	}
	for _, p := range []svm.Program{system.NewProcessor(), voting.NewProgram(cfg.VotingProgramID)} {
		r.programs[p.ID()] = p
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the runtime configuration.
func (r *Runtime) Config() Config {
	return r.cfg
}

// OnCommit registers a listener for committed transactions. Listeners run
// while the runtime is locked and must not call back into it.
func (r *Runtime) OnCommit(fn CommitListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Runtime) program(id types.Pubkey) (svm.Program, bool) {
	p, ok := r.programs[id]
	return p, ok
}

// RentMinimum returns the balance that makes an account of dataLen bytes
// rent exempt.
func (r *Runtime) RentMinimum(dataLen uint64) uint64 {
	return (AccountStorageOverhead + dataLen) * r.cfg.LamportsPerByteYear * r.cfg.ExemptionThreshold
}

// Now returns the time programs currently observe.
func (r *Runtime) Now() time.Time {
	return r.clock()
}

// Slot returns the current slot.
func (r *Runtime) Slot() uint64 {
	return r.db.GetSlot()
}

// LatestBlockhash returns the blockhash of the current slot.
func (r *Runtime) LatestBlockhash() types.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockhashes.latest()
}

// AdvanceSlot moves to the next slot and returns it.
func (r *Runtime) AdvanceSlot() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.db.GetSlot() + 1
	if err := r.db.SetSlot(slot); err != nil {
		return 0, fmt.Errorf("set slot: %w", err)
	}
	r.blockhashes.advance(slot)
	return slot, nil
}

// GetAccount returns the stored account at pubkey.
func (r *Runtime) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	return r.db.GetAccount(pubkey)
}

// Airdrop credits lamports to pubkey outside of any transaction.
func (r *Runtime) Airdrop(pubkey types.Pubkey, lamports uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, err := r.loadAccount(pubkey)
	if err != nil {
		return err
	}
	if acc.Lamports+lamports < acc.Lamports {
		return ErrAirdropOverflow
	}
	acc.Lamports += lamports
	if err := accounts.SetAccount(r.db, pubkey, acc); err != nil {
		return fmt.Errorf("store airdrop: %w", err)
	}
	klog.V(2).InfoS("Minted lamports", "pubkey", pubkey, "lamports", lamports)
	return nil
}

func (r *Runtime) loadAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	if _, ok := r.programs[pubkey]; ok {
		return &accounts.Account{Owner: types.NativeLoaderAddr, Executable: true}, nil
	}
	acc, err := r.db.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return &accounts.Account{Owner: types.SystemProgramAddr}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", pubkey, err)
	}
	return acc, nil
}

// Execute runs tx and commits its effects if every instruction succeeds.
//
// The returned error reports host failures such as a storage error. A
// transaction that the runtime rejected or that a program failed is reported
// through Result.Err.
func (r *Runtime) Execute(tx *Transaction) (*Result, error) {
	return r.process(tx, true)
}

// Simulate runs tx without committing anything.
func (r *Runtime) Simulate(tx *Transaction) (*Result, error) {
	return r.process(tx, false)
}

func (r *Runtime) process(tx *Transaction, commit bool) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	res := &Result{
		Signature:   tx.Signature(),
		MessageHash: tx.Message.Hash(),
		Slot:        r.db.GetSlot(),
		BlockTime:   now.Unix(),
	}

	meter := svm.NewComputeMeter(r.cfg.ComputeUnitLimit)
	if err := r.sanitize(tx, meter); err != nil {
		res.Err = newTransactionError(-1, err)
		return res, nil
	}

	exec := &execution{
		rt:    r,
		byKey: make(map[types.Pubkey]*txAccount, len(tx.Message.AccountKeys)),
		meter: meter,
		now:   now.Unix(),
	}
	for i, key := range tx.Message.AccountKeys {
		acc, err := r.loadAccount(key)
		if err != nil {
			return nil, err
		}
		ta := &txAccount{
			key:      key,
			state:    acc,
			signer:   tx.Message.IsSigner(i),
			writable: tx.Message.IsWritable(i),
		}
		exec.accounts = append(exec.accounts, ta)
		exec.byKey[key] = ta
	}
	pre := make(map[types.Pubkey]*accounts.Account, len(exec.accounts))
	for _, ta := range exec.accounts {
		pre[ta.key] = ta.state.Clone()
	}

	for i, ix := range tx.Message.Instructions {
		programID := tx.Message.AccountKeys[ix.ProgramIDIndex]
		metas := make([]frameAccount, len(ix.AccountIndexes))
		for j, idx := range ix.AccountIndexes {
			ta := exec.accounts[idx]
			metas[j] = frameAccount{key: ta.key, signer: ta.signer, writable: ta.writable}
		}
		if err := exec.run(programID, 1, metas, ix.Data); err != nil {
			res.Err = newTransactionError(i, err)
			break
		}
	}
	res.Logs = exec.logs
	res.ComputeUnitsConsumed = meter.Consumed()
	if res.Err != nil {
		klog.V(2).InfoS("Transaction failed", "signature", res.Signature, "err", res.Err)
		return res, nil
	}

	res.Accounts = make(map[types.Pubkey]*accounts.Account)
	for _, ta := range exec.accounts {
		if !ta.writable || accountEqual(pre[ta.key], ta.state) {
			continue
		}
		if ta.state.IsZero() {
			res.Accounts[ta.key] = nil
		} else {
			res.Accounts[ta.key] = ta.state.Clone()
		}
	}
	res.DeltaHash = accounts.ComputeDeltaHash(res.Accounts)
	if !commit {
		return res, nil
	}

	if err := r.db.SetAccounts(res.Accounts); err != nil {
		return nil, fmt.Errorf("commit transaction %s: %w", res.Signature, err)
	}
	klog.V(2).InfoS("Committed transaction", "signature", res.Signature,
		"accounts", len(res.Accounts), "computeUnits", res.ComputeUnitsConsumed)
	for _, fn := range r.listeners {
		fn(tx, res)
	}
	return res, nil
}

func (r *Runtime) sanitize(tx *Transaction, meter *svm.ComputeMeter) error {
	if err := tx.Message.Sanitize(); err != nil {
		return err
	}
	if len(tx.Message.Instructions) == 0 {
		return ErrNoInstructions
	}
	if !r.blockhashes.isRecent(tx.Message.RecentBlockhash) {
		return fmt.Errorf("%w: %s", ErrBlockhashNotFound, tx.Message.RecentBlockhash)
	}
	for range tx.Signatures {
		if err := meter.Consume(svm.CUSignatureVerify); err != nil {
			return err
		}
	}
	return tx.VerifySignatures()
}

func accountEqual(a, b *accounts.Account) bool {
	return a.Lamports == b.Lamports &&
		a.Owner == b.Owner &&
		a.Executable == b.Executable &&
		string(a.Data) == string(b.Data)
}
