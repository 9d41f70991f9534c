package ledger

import (
	"bytes"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/X1-Ballot/internal/types"
)

// SignaturesForAddress returns the entries that referenced address, newest
// first.
func (s *Store) SignaturesForAddress(address types.Pubkey, opts *QueryOptions) ([]SignatureInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	limit := DefaultQueryLimit
	if opts != nil && opts.Limit > 0 && opts.Limit < DefaultQueryLimit {
		limit = opts.Limit
	}

	var results []SignatureInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		signatures := tx.Bucket(bucketSignatures)
		// Start past the highest possible sequence of this address.
		startKey := encodeAddressSeqKey(address, ^uint64(0))
		if opts != nil && opts.Before != nil {
			seqKey := signatures.Get(opts.Before[:])
			if seqKey == nil {
				return ErrNotFound
			}
			startKey = encodeAddressSeqKey(address, decodeSeqKey(seqKey))
		}
		var untilSeq uint64
		if opts != nil && opts.Until != nil {
			seqKey := signatures.Get(opts.Until[:])
			if seqKey == nil {
				return ErrNotFound
			}
			untilSeq = decodeSeqKey(seqKey)
		}

		entries := tx.Bucket(bucketEntries)
		c := tx.Bucket(bucketAddressSigs).Cursor()
		// Both bounds are exclusive: the walk starts one key below the seek
		// position and stops at the until entry.
		k, _ := c.Seek(startKey)
		if k == nil {
			k, _ = c.Last()
		} else {
			k, _ = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, address[:]); k, _ = c.Prev() {
			seq := decodeSeqKey(k[types.PubkeySize:])
			if seq <= untilSeq {
				break
			}
			e, err := s.decode(entries.Get(encodeSeqKey(seq)))
			if err != nil {
				return err
			}
			results = append(results, SignatureInfo{
				Signature: e.Signature,
				Sequence:  e.Sequence,
				Slot:      e.Slot,
				BlockTime: e.BlockTime,
				Failed:    e.Err != nil,
			})
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
