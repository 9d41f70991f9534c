package accounts

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

func testKey(b byte) types.Pubkey {
	var k types.Pubkey
	k[0] = b
	k[31] = b
	return k
}

func TestAccountSerialization(t *testing.T) {
	account := &Account{
		Lamports:   1_000_000_000,
		Data:       []byte("poll data"),
		Owner:      types.DefaultVotingProgramAddr,
		Executable: true,
	}

	restored, err := DeserializeAccount(account.Serialize())
	if err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}
	if restored.Lamports != account.Lamports {
		t.Errorf("Lamports mismatch: got %d, want %d", restored.Lamports, account.Lamports)
	}
	if !bytes.Equal(restored.Data, account.Data) {
		t.Errorf("Data mismatch: got %v, want %v", restored.Data, account.Data)
	}
	if restored.Owner != account.Owner {
		t.Errorf("Owner mismatch: got %v, want %v", restored.Owner, account.Owner)
	}
	if !restored.Executable {
		t.Error("Executable flag lost")
	}

	data := account.Serialize()
	for _, cut := range []int{0, 7, 15, 20, len(data) - 1} {
		if _, err := DeserializeAccount(data[:cut]); !errors.Is(err, ErrInvalidData) {
			t.Errorf("truncated to %d bytes: got %v, want ErrInvalidData", cut, err)
		}
	}
}

// testDB runs the shared DB contract against an implementation.
func testDB(t *testing.T, db DB) {
	t.Helper()
	a, b := testKey(1), testKey(2)

	err := db.SetAccounts(map[types.Pubkey]*Account{
		a: {Lamports: 10, Owner: types.SystemProgramAddr},
		b: {Lamports: 20, Data: []byte{1, 2, 3}, Owner: types.DefaultVotingProgramAddr},
	})
	if err != nil {
		t.Fatalf("SetAccounts failed: %v", err)
	}

	got, err := db.GetAccount(b)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got.Lamports != 20 || !bytes.Equal(got.Data, []byte{1, 2, 3}) {
		t.Errorf("unexpected account %+v", got)
	}

	// mutating a returned account must not touch the store
	got.Data[0] = 9
	again, _ := db.GetAccount(b)
	if again.Data[0] != 1 {
		t.Error("GetAccount returned shared data")
	}

	if ok, _ := db.HasAccount(a); !ok {
		t.Error("Account should exist")
	}
	if count, _ := db.AccountsCount(); count != 2 {
		t.Errorf("AccountsCount: got %d, want 2", count)
	}

	// zero accounts are deleted
	if err := SetAccount(db, a, &Account{}); err != nil {
		t.Fatalf("SetAccount failed: %v", err)
	}
	if _, err := db.GetAccount(a); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("deleted account: got %v, want ErrAccountNotFound", err)
	}
	if count, _ := db.AccountsCount(); count != 1 {
		t.Errorf("AccountsCount after delete: got %d, want 1", count)
	}

	var seen []types.Pubkey
	err = db.IterateAccounts(func(pubkey types.Pubkey, _ *Account) error {
		seen = append(seen, pubkey)
		return nil
	})
	if err != nil {
		t.Fatalf("IterateAccounts failed: %v", err)
	}
	if len(seen) != 1 || seen[0] != b {
		t.Errorf("IterateAccounts visited %v", seen)
	}

	if err := db.SetSlot(42); err != nil {
		t.Fatalf("SetSlot failed: %v", err)
	}
	if db.GetSlot() != 42 {
		t.Errorf("GetSlot: got %d, want 42", db.GetSlot())
	}
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestMemoryDB(t *testing.T) {
	db := NewMemoryDB()
	testDB(t, db)

	db.Close()
	if _, err := db.GetAccount(testKey(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("closed db: got %v, want ErrClosed", err)
	}
}

func TestBadgerDB(t *testing.T) {
	cfg := DefaultBadgerDBConfig("")
	cfg.InMemory = true
	db, err := NewBadgerDB(cfg)
	if err != nil {
		t.Fatalf("NewBadgerDB failed: %v", err)
	}
	defer db.Close()
	testDB(t, db)
}

func TestBadgerDBPersistence(t *testing.T) {
	dir := t.TempDir()
	db, err := NewBadgerDB(DefaultBadgerDBConfig(dir))
	if err != nil {
		t.Fatalf("NewBadgerDB failed: %v", err)
	}
	key := testKey(7)
	if err := SetAccount(db, key, &Account{Lamports: 5, Data: []byte("x")}); err != nil {
		t.Fatalf("SetAccount failed: %v", err)
	}
	db.SetSlot(9)
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err = NewBadgerDB(DefaultBadgerDBConfig(dir))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	if db.GetSlot() != 9 {
		t.Errorf("slot after reopen: got %d, want 9", db.GetSlot())
	}
	if count, _ := db.AccountsCount(); count != 1 {
		t.Errorf("count after reopen: got %d, want 1", count)
	}
	acc, err := db.GetAccount(key)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acc.Lamports != 5 {
		t.Errorf("Lamports: got %d, want 5", acc.Lamports)
	}
}

func TestMerkleRoot(t *testing.T) {
	if got := ComputeMerkleRoot(nil); got != (types.Hash{}) {
		t.Errorf("empty root: got %s", got)
	}

	h1 := types.ComputeHash([]byte("a"))
	h2 := types.ComputeHash([]byte("b"))
	single := ComputeMerkleRoot([]types.Hash{h1})
	if single == h1 || single.IsZero() {
		t.Error("single leaf must be hashed")
	}
	if ComputeMerkleRoot([]types.Hash{h1, h2}) == ComputeMerkleRoot([]types.Hash{h2, h1}) {
		t.Error("root must depend on leaf order")
	}
}

func TestDeltaHash(t *testing.T) {
	written := map[types.Pubkey]*Account{
		testKey(2): {Lamports: 1},
		testKey(1): {Lamports: 2, Data: []byte{1}},
	}
	h1 := ComputeDeltaHash(written)
	h2 := ComputeDeltaHash(written)
	if h1 != h2 || h1.IsZero() {
		t.Errorf("delta hash not deterministic: %s vs %s", h1, h2)
	}

	written[testKey(2)] = &Account{Lamports: 3}
	if ComputeDeltaHash(written) == h1 {
		t.Error("delta hash ignores lamports")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := NewMemoryDB()
	for i := byte(1); i <= 5; i++ {
		SetAccount(src, testKey(i), &Account{Lamports: uint64(i) * 100, Data: bytes.Repeat([]byte{i}, int(i)), Owner: testKey(9)})
	}
	src.SetSlot(77)

	path := filepath.Join(t.TempDir(), "snap", "state.snap")
	header, err := CreateSnapshot(src, path)
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	if header.AccountsCount != 5 || header.Slot != 77 {
		t.Errorf("unexpected header %+v", header)
	}

	dst := NewMemoryDB()
	loaded, err := LoadSnapshot(dst, path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if loaded.AccountsHash != header.AccountsHash {
		t.Errorf("hash mismatch")
	}
	if dst.GetSlot() != 77 {
		t.Errorf("slot: got %d, want 77", dst.GetSlot())
	}
	want, _ := ComputeAccountsHash(src)
	got, _ := ComputeAccountsHash(dst)
	if want != got {
		t.Errorf("accounts hash after load: got %s, want %s", got, want)
	}
}
