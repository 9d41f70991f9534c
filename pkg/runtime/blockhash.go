package runtime

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

// MaxBlockhashAge is the number of slots a blockhash stays valid.
const MaxBlockhashAge = 150

var blockhashDomain = []byte("x1-ballot-blockhash")

// BlockhashForSlot returns the blockhash produced at slot.
func BlockhashForSlot(slot uint64) types.Hash {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], slot)
	h := blake3.New()
	h.Write(blockhashDomain)
	h.Write(buf[:])
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// blockhashQueue indexes the blockhashes of the last MaxBlockhashAge slots.
type blockhashQueue struct {
	slots map[types.Hash]uint64
	head  uint64
}

func newBlockhashQueue(slot uint64) *blockhashQueue {
	q := &blockhashQueue{slots: make(map[types.Hash]uint64, MaxBlockhashAge+1)}
	first := uint64(0)
	if slot > MaxBlockhashAge {
		first = slot - MaxBlockhashAge
	}
	for s := first; s <= slot; s++ {
		q.slots[BlockhashForSlot(s)] = s
	}
	q.head = slot
	return q
}

func (q *blockhashQueue) advance(slot uint64) {
	start := q.head + 1
	if slot > MaxBlockhashAge && start < slot-MaxBlockhashAge {
		start = slot - MaxBlockhashAge
	}
	for s := start; s <= slot; s++ {
		q.slots[BlockhashForSlot(s)] = s
	}
	q.head = slot
	for h, s := range q.slots {
		if s+MaxBlockhashAge < slot {
			delete(q.slots, h)
		}
	}
}

func (q *blockhashQueue) isRecent(h types.Hash) bool {
	_, ok := q.slots[h]
	return ok
}

func (q *blockhashQueue) latest() types.Hash {
	return BlockhashForSlot(q.head)
}
