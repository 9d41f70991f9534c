package ledger

import (
	"errors"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	return store, path
}

func testEntry(sig byte, slot uint64, keys ...types.Pubkey) *Entry {
	var s types.Signature
	s[0] = sig
	return &Entry{
		Slot:        slot,
		BlockTime:   1_700_000_000 + int64(slot),
		Signature:   s,
		Transaction: []byte{sig, 1, 2, 3},
		AccountKeys: keys,
		Logs:        []string{"Program log: test"},
		DeltaHash:   types.ComputeHash([]byte{sig}),
	}
}

func TestAppendAndGet(t *testing.T) {
	store, _ := openTestStore(t)
	defer store.Close()

	var alice types.Pubkey
	alice[0] = 0xa1

	first := testEntry(1, 10, alice)
	if err := store.Append(first); err != nil {
		t.Fatalf("append: %v", err)
	}
	second := testEntry(2, 11, alice)
	code := uint32(6)
	second.Err = &TransactionError{InstructionIndex: 0, Custom: &code, Message: "unknown option"}
	if err := store.Append(second); err != nil {
		t.Fatalf("append: %v", err)
	}

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("sequences = %d, %d; want 1, 2", first.Sequence, second.Sequence)
	}
	if second.PrevHash != first.Hash {
		t.Error("second entry does not link to the first")
	}
	seq, tip := store.Tip()
	if seq != 2 || tip != second.Hash {
		t.Errorf("tip = %d %s; want 2 %s", seq, tip, second.Hash)
	}

	got, err := store.Get(second.Signature)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Err == nil || got.Err.Custom == nil || *got.Err.Custom != 6 {
		t.Errorf("recorded error = %+v", got.Err)
	}
	if got.Hash != second.Hash || got.Slot != 11 || len(got.Logs) != 1 {
		t.Errorf("entry mismatch: %+v", got)
	}

	bySeq, err := store.GetBySequence(1)
	if err != nil {
		t.Fatalf("get by sequence: %v", err)
	}
	if bySeq.Signature != first.Signature {
		t.Error("GetBySequence returned the wrong entry")
	}

	var missing types.Signature
	missing[0] = 9
	if _, err := store.Get(missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing: err = %v, want ErrNotFound", err)
	}
	if ok, _ := store.Has(first.Signature); !ok {
		t.Error("Has returned false for a recorded signature")
	}
	if ok, _ := store.Has(missing); ok {
		t.Error("Has returned true for an unknown signature")
	}
}

func TestAppendRejectsDuplicate(t *testing.T) {
	store, _ := openTestStore(t)
	defer store.Close()

	if err := store.Append(testEntry(1, 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(testEntry(1, 2)); !errors.Is(err, ErrDuplicateSignature) {
		t.Fatalf("err = %v, want ErrDuplicateSignature", err)
	}
	if seq, _ := store.Tip(); seq != 1 {
		t.Errorf("tip sequence = %d after rejected append, want 1", seq)
	}
}

func TestSignaturesForAddress(t *testing.T) {
	store, _ := openTestStore(t)
	defer store.Close()

	var alice, bob types.Pubkey
	alice[0] = 0xa1
	bob[0] = 0xb0

	for i := byte(1); i <= 5; i++ {
		keys := []types.Pubkey{alice}
		if i%2 == 0 {
			keys = append(keys, bob)
		}
		if err := store.Append(testEntry(i, uint64(i), keys...)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := store.SignaturesForAddress(alice, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d signatures for alice, want 5", len(all))
	}
	for i, info := range all {
		if want := uint64(5 - i); info.Sequence != want {
			t.Errorf("result %d: sequence %d, want %d", i, info.Sequence, want)
		}
	}

	bobs, err := store.SignaturesForAddress(bob, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(bobs) != 2 || bobs[0].Signature[0] != 4 || bobs[1].Signature[0] != 2 {
		t.Errorf("bob signatures = %+v", bobs)
	}

	before := all[1].Signature
	page, err := store.SignaturesForAddress(alice, &QueryOptions{Limit: 2, Before: &before})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page) != 2 || page[0].Sequence != 3 || page[1].Sequence != 2 {
		t.Errorf("page = %+v", page)
	}

	until := all[3].Signature
	recent, err := store.SignaturesForAddress(alice, &QueryOptions{Until: &until})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recent) != 3 || recent[2].Sequence != 3 {
		t.Errorf("until page = %+v", recent)
	}

	var unknown types.Signature
	unknown[0] = 0xee
	if _, err := store.SignaturesForAddress(alice, &QueryOptions{Until: &unknown}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown until: got %v, want ErrNotFound", err)
	}

	var nobody types.Pubkey
	nobody[0] = 0xff
	none, err := store.SignaturesForAddress(nobody, nil)
	if err != nil || len(none) != 0 {
		t.Errorf("unknown address: %v, %d results", err, len(none))
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	store, path := openTestStore(t)
	for i := byte(1); i <= 3; i++ {
		if err := store.Append(testEntry(i, uint64(i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen and check the tip survived.
	store, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	seq, _ := store.Tip()
	if seq != 3 {
		t.Fatalf("tip after reopen = %d, want 3", seq)
	}

	// Rewrite entry 2 with a different payload.
	e, err := store.GetBySequence(2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	e.Transaction = []byte("forged")
	data, err := store.encode(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	err = store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put(encodeSeqKey(2), data)
	})
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if err := store.Verify(); !errors.Is(err, ErrChainBroken) {
		t.Errorf("verify after tampering: err = %v, want ErrChainBroken", err)
	}
	store.Close()
	if err := store.Append(testEntry(9, 9)); !errors.Is(err, ErrClosed) {
		t.Errorf("append after close: err = %v, want ErrClosed", err)
	}
}
