package accounts

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	bin "github.com/gagliardetto/binary"
	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

// Snapshot file format version.
const snapshotVersion uint32 = 1

var snapshotMagic = []byte{'X', '1', 'B', 'S'}

// ErrBadSnapshot is returned for unreadable or inconsistent snapshot files.
var ErrBadSnapshot = errors.New("bad snapshot")

// SnapshotHeader contains metadata about a snapshot.
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64
	AccountsHash  types.Hash
}

// Snapshot format:
//   - Magic (4 bytes): "X1BS"
//   - Version u32, Slot u64, AccountsCount u64, AccountsHash [32]
//   - zstd stream of entries: pubkey [32], size u32, serialized account

func (h *SnapshotHeader) encode(w io.Writer) error {
	enc := bin.NewBinEncoder(w)
	if err := enc.WriteBytes(snapshotMagic, false); err != nil {
		return err
	}
	if err := enc.WriteUint32(h.Version, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(h.Slot, bin.LE); err != nil {
		return err
	}
	if err := enc.WriteUint64(h.AccountsCount, bin.LE); err != nil {
		return err
	}
	return enc.WriteBytes(h.AccountsHash[:], false)
}

const snapshotHeaderSize = 4 + 4 + 8 + 8 + 32

func decodeSnapshotHeader(buf []byte) (*SnapshotHeader, error) {
	dec := bin.NewBinDecoder(buf)
	magic, err := dec.ReadBytes(len(snapshotMagic))
	if err != nil || !bytes.Equal(magic, snapshotMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}
	var h SnapshotHeader
	if h.Version, err = dec.ReadUint32(bin.LE); err != nil {
		return nil, err
	}
	if h.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, h.Version)
	}
	if h.Slot, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, err
	}
	if h.AccountsCount, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, err
	}
	hash, err := dec.ReadBytes(types.HashSize)
	if err != nil {
		return nil, err
	}
	copy(h.AccountsHash[:], hash)
	return &h, nil
}

// CreateSnapshot writes every account of db to path.
func CreateSnapshot(db DB, path string) (*SnapshotHeader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	hash, err := ComputeAccountsHash(db)
	if err != nil {
		return nil, fmt.Errorf("compute accounts hash: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}
	defer os.Remove(tmp)
	defer file.Close()

	header := SnapshotHeader{Version: snapshotVersion, Slot: db.GetSlot(), AccountsHash: hash}
	// placeholder, rewritten with the final count
	if err := header.encode(file); err != nil {
		return nil, err
	}

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(zw)
	enc := bin.NewBinEncoder(bw)

	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		data := account.Serialize()
		if err := enc.WriteBytes(pubkey[:], false); err != nil {
			return err
		}
		if err := enc.WriteUint32(uint32(len(data)), bin.LE); err != nil {
			return err
		}
		if err := enc.WriteBytes(data, false); err != nil {
			return err
		}
		header.AccountsCount++
		return nil
	})
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("write accounts: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := header.encode(file); err != nil {
		return nil, err
	}
	if err := file.Sync(); err != nil {
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, err
	}
	return &header, nil
}

// LoadSnapshot reads the snapshot at path into db and verifies the accounts
// hash of the loaded entries.
func LoadSnapshot(db DB, path string) (*SnapshotHeader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	headerBuf := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(file, headerBuf); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadSnapshot, err)
	}
	header, err := decodeSnapshotHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	zr, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	r := bufio.NewReader(zr)

	loaded := make(map[types.Pubkey]*Account, header.AccountsCount)
	var hashes []types.Hash
	entry := make([]byte, types.PubkeySize+4)
	for i := uint64(0); i < header.AccountsCount; i++ {
		if _, err := io.ReadFull(r, entry); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrBadSnapshot, i, err)
		}
		dec := bin.NewBinDecoder(entry)
		key, _ := dec.ReadBytes(types.PubkeySize)
		size, _ := dec.ReadUint32(bin.LE)
		if size > MaxAccountDataSize+64 {
			return nil, fmt.Errorf("%w: entry %d is %d bytes", ErrBadSnapshot, i, size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrBadSnapshot, i, err)
		}
		account, err := DeserializeAccount(data)
		if err != nil {
			return nil, err
		}
		pubkey, _ := types.PubkeyFromBytes(key)
		loaded[pubkey] = account
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
	}

	if got := ComputeMerkleRoot(hashes); got != header.AccountsHash {
		return nil, fmt.Errorf("%w: accounts hash %s, header says %s", ErrBadSnapshot, got, header.AccountsHash)
	}
	if err := db.SetAccounts(loaded); err != nil {
		return nil, err
	}
	if err := db.SetSlot(header.Slot); err != nil {
		return nil, err
	}
	return header, db.Commit()
}
