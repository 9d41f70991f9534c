// Package accounts implements the AccountsDB that holds ballot state.
//
// Every account is keyed by its public key and carries a lamport balance,
// an owner program and an opaque data blob. Poll records are accounts owned
// by the voting program; wallets are accounts owned by the system program.
//
// The database stores only the current state. History lives in the ledger.
// Writes produced by one transaction are applied together through
// SetAccounts so a reader never observes half of a transaction.
package accounts

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when account data is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxAccountDataSize is the largest account data blob accepted.
const MaxAccountDataSize = 10 * 1024 * 1024

// Account represents a single account in the state.
type Account struct {
	// Lamports is the account balance.
	Lamports uint64

	// Data is the account data. For poll accounts this is the encoded poll.
	Data []byte

	// Owner is the program that owns this account.
	// Only the owner program can modify the account data.
	Owner types.Pubkey

	// Executable marks program accounts.
	Executable bool
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{
		Lamports:   a.Lamports,
		Data:       bytes.Clone(a.Data),
		Owner:      a.Owner,
		Executable: a.Executable,
	}
}

// IsZero returns true if the account has no lamports and no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Serialize encodes the account for storage.
// Format: lamports u64, data_len u64, data, owner [32], executable u8.
func (a *Account) Serialize() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8+8+len(a.Data)+32+1))
	enc := bin.NewBinEncoder(buf)
	// writes to a bytes.Buffer cannot fail
	_ = enc.WriteUint64(a.Lamports, bin.LE)
	_ = enc.WriteUint64(uint64(len(a.Data)), bin.LE)
	_ = enc.WriteBytes(a.Data, false)
	_ = enc.WriteBytes(a.Owner[:], false)
	_ = enc.WriteBool(a.Executable)
	return buf.Bytes()
}

// DeserializeAccount decodes an account from bytes.
func DeserializeAccount(data []byte) (*Account, error) {
	dec := bin.NewBinDecoder(data)
	var acc Account
	var err error

	if acc.Lamports, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: lamports: %v", ErrInvalidData, err)
	}
	dataLen, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: data length: %v", ErrInvalidData, err)
	}
	if dataLen > MaxAccountDataSize || dataLen > uint64(len(data)) {
		return nil, fmt.Errorf("%w: data length %d", ErrInvalidData, dataLen)
	}
	if acc.Data, err = dec.ReadBytes(int(dataLen)); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrInvalidData, err)
	}
	acc.Data = bytes.Clone(acc.Data)
	owner, err := dec.ReadBytes(types.PubkeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", ErrInvalidData, err)
	}
	copy(acc.Owner[:], owner)
	if acc.Executable, err = dec.ReadBool(); err != nil {
		return nil, fmt.Errorf("%w: executable: %v", ErrInvalidData, err)
	}
	return &acc, nil
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// SetAccounts stores a set of accounts atomically. Zero accounts are
	// deleted.
	SetAccounts(updates map[types.Pubkey]*Account) error

	// IterateAccounts calls fn for every account in pubkey order.
	// Returning an error from fn stops iteration.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// GetSlot returns the current slot.
	GetSlot() uint64

	// SetSlot updates the current slot.
	SetSlot(slot uint64) error

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// Commit persists metadata to disk.
	Commit() error

	// Close closes the database.
	Close() error
}

// SetAccount stores a single account through db.
func SetAccount(db DB, pubkey types.Pubkey, account *Account) error {
	return db.SetAccounts(map[types.Pubkey]*Account{pubkey: account})
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// SetAccounts stores accounts under a single lock.
func (m *MemoryDB) SetAccounts(updates map[types.Pubkey]*Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for pubkey, account := range updates {
		if account == nil || account.IsZero() {
			delete(m.accounts, pubkey)
			continue
		}
		m.accounts[pubkey] = account.Clone()
	}
	return nil
}

// IterateAccounts calls fn for every account in pubkey order.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	for k := range m.accounts {
		keys = append(keys, k)
	}
	snapshot := make(map[types.Pubkey]*Account, len(m.accounts))
	for _, k := range keys {
		snapshot[k] = m.accounts[k].Clone()
	}
	m.mu.RUnlock()

	SortPubkeys(keys)
	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

// GetSlot returns the current slot.
func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

// SetSlot updates the current slot.
func (m *MemoryDB) SetSlot(slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.slot = slot
	return nil
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Commit is a no-op for MemoryDB.
func (m *MemoryDB) Commit() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.accounts = nil
	return nil
}

// SortPubkeys sorts a slice of pubkeys in ascending byte order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return bytes.Compare(pubkeys[i][:], pubkeys[j][:]) < 0
	})
}

var _ DB = (*MemoryDB)(nil)
