// Package ledger provides the append-only transaction history of a node.
//
// Entries are stored in BoltDB. Each entry is gob encoded and zstd
// compressed, and carries a SHA3-256 hash that chains it to its predecessor,
// so the history can be verified end to end. Signatures are unique: the
// ledger refuses a second entry for a signature it already holds.
package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/sha3"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

var (
	// ErrNotFound is returned when an entry doesn't exist.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrDuplicateSignature is returned when appending a signature that is
	// already recorded.
	ErrDuplicateSignature = errors.New("transaction already recorded")

	// ErrChainBroken is returned by Verify when an entry does not link to
	// its predecessor.
	ErrChainBroken = errors.New("ledger hash chain broken")

	// ErrClosed is returned when operating on a closed ledger.
	ErrClosed = errors.New("ledger closed")
)

var (
	bucketEntries     = []byte("entries")
	bucketSignatures  = []byte("signatures")
	bucketAddressSigs = []byte("addr_sigs")
	bucketMetadata    = []byte("metadata")

	keyTipSequence = []byte("tip_sequence")
	keyTipHash     = []byte("tip_hash")
)

// Config holds ledger configuration options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// Store is a BoltDB backed ledger.
type Store struct {
	db  *bolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder

	mu      sync.RWMutex
	tipSeq  uint64
	tipHash types.Hash
	closed  bool
}

// Open creates or opens a ledger.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{Timeout: 5 * time.Second, NoSync: cfg.NoSync})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	s := &Store{db: db, enc: enc, dec: dec}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketSignatures, bucketAddressSigs, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(bucketMetadata)
		if v := meta.Get(keyTipSequence); v != nil {
			s.tipSeq = decodeSeqKey(v)
		}
		if v := meta.Get(keyTipHash); v != nil {
			copy(s.tipHash[:], v)
		}
		return nil
	})
	if err != nil {
		s.closeCodecs()
		db.Close()
		return nil, err
	}
	return s, nil
}

// entryHash computes SHA3-256(prev || sequence || signature || delta || tx).
func entryHash(e *Entry) types.Hash {
	h := sha3.New256()
	h.Write(e.PrevHash[:])
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], e.Sequence)
	h.Write(seq[:])
	h.Write(e.Signature[:])
	h.Write(e.DeltaHash[:])
	h.Write(e.Transaction)
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func (s *Store) encode(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return s.enc.EncodeAll(buf.Bytes(), nil), nil
}

func (s *Store) decode(data []byte) (*Entry, error) {
	raw, err := s.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress entry: %w", err)
	}
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &e, nil
}

// Append records e at the tip of the ledger. Sequence, PrevHash and Hash are
// assigned by the ledger.
func (s *Store) Append(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	e.Sequence = s.tipSeq + 1
	e.PrevHash = s.tipHash
	e.Hash = entryHash(e)
	data, err := s.encode(e)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		sigs := tx.Bucket(bucketSignatures)
		if sigs.Get(e.Signature[:]) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateSignature, e.Signature)
		}
		seqKey := encodeSeqKey(e.Sequence)
		if err := tx.Bucket(bucketEntries).Put(seqKey, data); err != nil {
			return err
		}
		if err := sigs.Put(e.Signature[:], seqKey); err != nil {
			return err
		}
		addrs := tx.Bucket(bucketAddressSigs)
		for _, addr := range e.AccountKeys {
			if err := addrs.Put(encodeAddressSeqKey(addr, e.Sequence), e.Signature[:]); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyTipSequence, seqKey); err != nil {
			return err
		}
		return meta.Put(keyTipHash, e.Hash[:])
	})
	if err != nil {
		return err
	}

	s.tipSeq = e.Sequence
	s.tipHash = e.Hash
	return nil
}

// Has reports whether sig is recorded.
func (s *Store) Has(sig types.Signature) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketSignatures).Get(sig[:]) != nil
		return nil
	})
	return found, err
}

// Get returns the entry for sig.
func (s *Store) Get(sig types.Signature) (*Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		seqKey := tx.Bucket(bucketSignatures).Get(sig[:])
		if seqKey == nil {
			return ErrNotFound
		}
		data = bytes.Clone(tx.Bucket(bucketEntries).Get(seqKey))
		if data == nil {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.decode(data)
}

// GetBySequence returns the entry at seq.
func (s *Store) GetBySequence(seq uint64) (*Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data = bytes.Clone(tx.Bucket(bucketEntries).Get(encodeSeqKey(seq)))
		if data == nil {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.decode(data)
}

// Tip returns the sequence and hash of the newest entry.
func (s *Store) Tip() (uint64, types.Hash) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tipSeq, s.tipHash
}

// Verify walks the ledger from the first entry and checks the hash chain.
func (s *Store) Verify() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		var prev types.Hash
		var expect uint64 = 1
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			e, err := s.decode(v)
			if err != nil {
				return fmt.Errorf("entry %d: %w", decodeSeqKey(k), err)
			}
			if e.Sequence != expect || decodeSeqKey(k) != expect {
				return fmt.Errorf("%w: expected sequence %d, found %d", ErrChainBroken, expect, e.Sequence)
			}
			if e.PrevHash != prev || entryHash(e) != e.Hash {
				return fmt.Errorf("%w: at sequence %d", ErrChainBroken, e.Sequence)
			}
			prev = e.Hash
			expect++
		}
		return nil
	})
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) closeCodecs() {
	s.enc.Close()
	s.dec.Close()
}

// Close closes the ledger.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.closeCodecs()
	return s.db.Close()
}
