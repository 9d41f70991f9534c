package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixAccount + pubkey (32 bytes)
	prefixAccount = []byte{0x01}

	// prefixMeta + key name
	prefixMeta = []byte{0x02}

	metaSlot          = append(append([]byte{}, prefixMeta...), "slot"...)
	metaAccountsCount = append(append([]byte{}, prefixMeta...), "count"...)
)

// BadgerDBConfig contains configuration for BadgerDB.
type BadgerDBConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultBadgerDBConfig returns default configuration.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:             path,
		SyncWrites:       true,
		NumCompactors:    2,
		ValueLogFileSize: 64 << 20,
	}
}

// BadgerDB is a BadgerDB-backed implementation of the accounts database.
//
// Accounts are stored under prefixAccount+pubkey in the compact format of
// Account.Serialize. Slot and account count are cached in memory and
// persisted under prefixMeta on Commit.
type BadgerDB struct {
	db *badger.DB

	slot          atomic.Uint64
	accountsCount atomic.Uint64

	// mu serializes writers so the account count stays exact
	mu sync.Mutex

	closed atomic.Bool
}

// NewBadgerDB opens a BadgerDB-backed accounts database.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	bdb := &BadgerDB{db: db}
	if err := bdb.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return bdb, nil
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("%w: metadata %q is %d bytes", ErrInvalidData, key, len(val))
		}
		v = binary.LittleEndian.Uint64(val)
		return nil
	})
	return v, err
}

func (b *BadgerDB) loadMetadata() error {
	return b.db.View(func(txn *badger.Txn) error {
		slot, err := readUint64(txn, metaSlot)
		if err != nil {
			return err
		}
		count, err := readUint64(txn, metaAccountsCount)
		if err != nil {
			return err
		}
		b.slot.Store(slot)
		b.accountsCount.Store(count)
		return nil
	})
}

func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 1+types.PubkeySize)
	key[0] = prefixAccount[0]
	copy(key[1:], pubkey[:])
	return key
}

// GetAccount retrieves an account by public key.
func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			account, err = DeserializeAccount(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// HasAccount checks if an account exists.
func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		exists, err = hasKey(txn, accountKey(pubkey))
		return err
	})
	return exists, err
}

func hasKey(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetAccounts writes every update in one badger transaction.
func (b *BadgerDB) SetAccounts(updates map[types.Pubkey]*Account) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var delta int64
	err := b.db.Update(func(txn *badger.Txn) error {
		delta = 0
		for pubkey, account := range updates {
			key := accountKey(pubkey)
			exists, err := hasKey(txn, key)
			if err != nil {
				return err
			}
			if account == nil || account.IsZero() {
				if exists {
					if err := txn.Delete(key); err != nil {
						return err
					}
					delta--
				}
				continue
			}
			if err := txn.Set(key, account.Serialize()); err != nil {
				return err
			}
			if !exists {
				delta++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write accounts: %w", err)
	}
	b.accountsCount.Add(uint64(delta))
	return nil
}

// IterateAccounts iterates over all accounts in pubkey order.
func (b *BadgerDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 1+types.PubkeySize {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])

			err := item.Value(func(val []byte) error {
				account, err := DeserializeAccount(val)
				if err != nil {
					return err
				}
				return fn(pubkey, account)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSlot returns the current slot.
func (b *BadgerDB) GetSlot() uint64 {
	return b.slot.Load()
}

// SetSlot updates the current slot. It is persisted on Commit.
func (b *BadgerDB) SetSlot(slot uint64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.slot.Store(slot)
	return nil
}

// AccountsCount returns the total number of accounts.
func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// Commit persists slot and account count.
func (b *BadgerDB) Commit() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.commitMetadata()
}

func (b *BadgerDB) commitMetadata() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		slotBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(slotBuf, b.slot.Load())
		if err := txn.Set(metaSlot, slotBuf); err != nil {
			return err
		}
		countBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(countBuf, b.accountsCount.Load())
		return txn.Set(metaAccountsCount, countBuf)
	})
}

// Close commits metadata and closes the database.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	commitErr := b.commitMetadata()
	if err := b.db.Close(); err != nil {
		return err
	}
	return commitErr
}

// RunGC runs garbage collection on the value log.
func (b *BadgerDB) RunGC() error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

var _ DB = (*BadgerDB)(nil)
