package runtime

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm"
)

// MaxAccountsPerMessage bounds the account table of one message.
const MaxAccountsPerMessage = 256

// Transaction errors.
var (
	ErrInvalidMessage       = errors.New("invalid message")
	ErrMissingSigner        = errors.New("missing signer keypair")
	ErrSignatureCount       = errors.New("signature count does not match header")
	ErrSignatureVerify      = errors.New("signature verification failed")
	ErrTooManyAccountKeys   = errors.New("too many account keys")
	ErrMalformedTransaction = errors.New("malformed transaction")
)

// MessageHeader describes the account types in a message.
type MessageHeader struct {
	// NumRequiredSignatures is the number of leading account keys that sign.
	NumRequiredSignatures uint8 `json:"numRequiredSignatures"`

	// NumReadonlySignedAccounts is the number of trailing signers that are readonly.
	NumReadonlySignedAccounts uint8 `json:"numReadonlySignedAccounts"`

	// NumReadonlyUnsignedAccounts is the number of trailing non-signers that are readonly.
	NumReadonlyUnsignedAccounts uint8 `json:"numReadonlyUnsignedAccounts"`
}

// CompiledInstruction is an instruction whose accounts are indexes into the
// message account table.
type CompiledInstruction struct {
	ProgramIDIndex uint8   `json:"programIdIndex"`
	AccountIndexes []uint8 `json:"accounts"`
	Data           []byte  `json:"data"`
}

// Message is the signed part of a transaction.
type Message struct {
	Header          MessageHeader         `json:"header"`
	AccountKeys     []types.Pubkey        `json:"accountKeys"`
	RecentBlockhash types.Hash            `json:"recentBlockhash"`
	Instructions    []CompiledInstruction `json:"instructions"`
}

// Transaction is a message with one signature per required signer.
type Transaction struct {
	Signatures []types.Signature `json:"signatures"`
	Message    Message           `json:"message"`
}

// Signature returns the first signature, which identifies the transaction.
func (tx *Transaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// IsSigner reports whether the account at index i signs the message.
func (m *Message) IsSigner(i int) bool {
	return i < int(m.Header.NumRequiredSignatures)
}

// IsWritable reports whether the account at index i is writable.
func (m *Message) IsWritable(i int) bool {
	numSigners := int(m.Header.NumRequiredSignatures)
	if i < numSigners {
		return i < numSigners-int(m.Header.NumReadonlySignedAccounts)
	}
	numWritableUnsigned := len(m.AccountKeys) - numSigners - int(m.Header.NumReadonlyUnsignedAccounts)
	return i-numSigners < numWritableUnsigned
}

// Sanitize checks the structural consistency of the message.
func (m *Message) Sanitize() error {
	numKeys := len(m.AccountKeys)
	h := m.Header
	if h.NumRequiredSignatures == 0 {
		return fmt.Errorf("%w: no fee payer", ErrInvalidMessage)
	}
	if numKeys > MaxAccountsPerMessage {
		return ErrTooManyAccountKeys
	}
	if int(h.NumRequiredSignatures)+int(h.NumReadonlyUnsignedAccounts) > numKeys {
		return fmt.Errorf("%w: header exceeds %d account keys", ErrInvalidMessage, numKeys)
	}
	if h.NumReadonlySignedAccounts >= h.NumRequiredSignatures {
		return fmt.Errorf("%w: fee payer must be writable", ErrInvalidMessage)
	}
	seen := make(map[types.Pubkey]struct{}, numKeys)
	for _, k := range m.AccountKeys {
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: duplicate account key %s", ErrInvalidMessage, k)
		}
		seen[k] = struct{}{}
	}
	for i, ix := range m.Instructions {
		if int(ix.ProgramIDIndex) >= numKeys || ix.ProgramIDIndex == 0 {
			return fmt.Errorf("%w: instruction %d: program index %d", ErrInvalidMessage, i, ix.ProgramIDIndex)
		}
		for _, idx := range ix.AccountIndexes {
			if int(idx) >= numKeys {
				return fmt.Errorf("%w: instruction %d: account index %d", ErrInvalidMessage, i, idx)
			}
		}
	}
	return nil
}

type keyMeta struct {
	key      types.Pubkey
	signer   bool
	writable bool
}

// NewMessage compiles instructions into a message paid for by payer.
//
// Accounts are ordered writable signers (payer first), readonly signers,
// writable non-signers and readonly non-signers. A key referenced several
// times gets the union of its flags.
func NewMessage(payer types.Pubkey, recentBlockhash types.Hash, instructions ...svm.Instruction) (*Message, error) {
	metas := []*keyMeta{{key: payer, signer: true, writable: true}}
	index := map[types.Pubkey]*keyMeta{payer: metas[0]}
	add := func(key types.Pubkey, signer, writable bool) {
		if m, ok := index[key]; ok {
			m.signer = m.signer || signer
			m.writable = m.writable || writable
			return
		}
		m := &keyMeta{key: key, signer: signer, writable: writable}
		index[key] = m
		metas = append(metas, m)
	}
	for _, ix := range instructions {
		for _, acc := range ix.Accounts {
			add(acc.Pubkey, acc.IsSigner, acc.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}
	if len(metas) > MaxAccountsPerMessage {
		return nil, ErrTooManyAccountKeys
	}

	msg := &Message{RecentBlockhash: recentBlockhash}
	positions := make(map[types.Pubkey]uint8, len(metas))
	for _, group := range []struct{ signer, writable bool }{
		{true, true}, {true, false}, {false, true}, {false, false},
	} {
		for _, m := range metas {
			if m.signer != group.signer || m.writable != group.writable {
				continue
			}
			positions[m.key] = uint8(len(msg.AccountKeys))
			msg.AccountKeys = append(msg.AccountKeys, m.key)
			switch {
			case m.signer && !m.writable:
				msg.Header.NumRequiredSignatures++
				msg.Header.NumReadonlySignedAccounts++
			case m.signer:
				msg.Header.NumRequiredSignatures++
			case !m.writable:
				msg.Header.NumReadonlyUnsignedAccounts++
			}
		}
	}

	for _, ix := range instructions {
		compiled := CompiledInstruction{
			ProgramIDIndex: positions[ix.ProgramID],
			AccountIndexes: make([]uint8, len(ix.Accounts)),
			Data:           bytes.Clone(ix.Data),
		}
		for i, acc := range ix.Accounts {
			compiled.AccountIndexes[i] = positions[acc.Pubkey]
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}
	return msg, nil
}

// Serialize returns the bytes that signers sign.
//
// Format: header (3 bytes), u16 key count, keys, blockhash, u16 instruction
// count, then per instruction: program index u8, u16 account count, account
// indexes, u16 data length, data. Integers are little-endian.
func (m *Message) Serialize() []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	// writes to a bytes.Buffer cannot fail
	_ = enc.WriteByte(m.Header.NumRequiredSignatures)
	_ = enc.WriteByte(m.Header.NumReadonlySignedAccounts)
	_ = enc.WriteByte(m.Header.NumReadonlyUnsignedAccounts)
	_ = enc.WriteUint16(uint16(len(m.AccountKeys)), bin.LE)
	for _, k := range m.AccountKeys {
		_ = enc.WriteBytes(k[:], false)
	}
	_ = enc.WriteBytes(m.RecentBlockhash[:], false)
	_ = enc.WriteUint16(uint16(len(m.Instructions)), bin.LE)
	for _, ix := range m.Instructions {
		_ = enc.WriteByte(ix.ProgramIDIndex)
		_ = enc.WriteUint16(uint16(len(ix.AccountIndexes)), bin.LE)
		_ = enc.WriteBytes(ix.AccountIndexes, false)
		_ = enc.WriteUint16(uint16(len(ix.Data)), bin.LE)
		_ = enc.WriteBytes(ix.Data, false)
	}
	return buf.Bytes()
}

// Hash returns the BLAKE3 digest of the serialized message.
func (m *Message) Hash() types.Hash {
	return types.Hash(blake3.Sum256(m.Serialize()))
}

func decodeMessage(dec *bin.Decoder) (*Message, error) {
	var m Message
	var err error
	if m.Header.NumRequiredSignatures, err = dec.ReadByte(); err != nil {
		return nil, err
	}
	if m.Header.NumReadonlySignedAccounts, err = dec.ReadByte(); err != nil {
		return nil, err
	}
	if m.Header.NumReadonlyUnsignedAccounts, err = dec.ReadByte(); err != nil {
		return nil, err
	}
	numKeys, err := dec.ReadUint16(bin.LE)
	if err != nil {
		return nil, err
	}
	if int(numKeys) > MaxAccountsPerMessage {
		return nil, ErrTooManyAccountKeys
	}
	m.AccountKeys = make([]types.Pubkey, numKeys)
	for i := range m.AccountKeys {
		b, err := dec.ReadBytes(types.PubkeySize)
		if err != nil {
			return nil, err
		}
		copy(m.AccountKeys[i][:], b)
	}
	b, err := dec.ReadBytes(types.HashSize)
	if err != nil {
		return nil, err
	}
	copy(m.RecentBlockhash[:], b)

	numIxs, err := dec.ReadUint16(bin.LE)
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(numIxs); i++ {
		var ix CompiledInstruction
		if ix.ProgramIDIndex, err = dec.ReadByte(); err != nil {
			return nil, err
		}
		n, err := dec.ReadUint16(bin.LE)
		if err != nil {
			return nil, err
		}
		if ix.AccountIndexes, err = dec.ReadBytes(int(n)); err != nil {
			return nil, err
		}
		if n, err = dec.ReadUint16(bin.LE); err != nil {
			return nil, err
		}
		if ix.Data, err = dec.ReadBytes(int(n)); err != nil {
			return nil, err
		}
		ix.AccountIndexes = bytes.Clone(ix.AccountIndexes)
		ix.Data = bytes.Clone(ix.Data)
		m.Instructions = append(m.Instructions, ix)
	}
	return &m, nil
}

// Serialize returns the wire form: u16 signature count, signatures, message.
func (tx *Transaction) Serialize() []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint16(uint16(len(tx.Signatures)), bin.LE)
	for _, sig := range tx.Signatures {
		_ = enc.WriteBytes(sig[:], false)
	}
	_ = enc.WriteBytes(tx.Message.Serialize(), false)
	return buf.Bytes()
}

// DeserializeTransaction parses the wire form produced by Serialize.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	dec := bin.NewBinDecoder(data)
	numSigs, err := dec.ReadUint16(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	if int(numSigs) > MaxAccountsPerMessage {
		return nil, fmt.Errorf("%w: %d signatures", ErrMalformedTransaction, numSigs)
	}
	tx := &Transaction{Signatures: make([]types.Signature, numSigs)}
	for i := range tx.Signatures {
		b, err := dec.ReadBytes(types.SignatureSize)
		if err != nil {
			return nil, fmt.Errorf("%w: signature %d: %v", ErrMalformedTransaction, i, err)
		}
		copy(tx.Signatures[i][:], b)
	}
	msg, err := decodeMessage(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: message: %v", ErrMalformedTransaction, err)
	}
	if int(dec.Position()) != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, len(data)-int(dec.Position()))
	}
	tx.Message = *msg
	return tx, nil
}

// NewTransaction compiles and signs instructions. The first signer pays.
func NewTransaction(recentBlockhash types.Hash, instructions []svm.Instruction, signers ...*types.Keypair) (*Transaction, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("%w: no fee payer", ErrMissingSigner)
	}
	msg, err := NewMessage(signers[0].Public, recentBlockhash, instructions...)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{Message: *msg}
	if err := tx.Sign(signers...); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign fills in the signature of every required signer.
func (tx *Transaction) Sign(signers ...*types.Keypair) error {
	payload := tx.Message.Serialize()
	n := int(tx.Message.Header.NumRequiredSignatures)
	tx.Signatures = make([]types.Signature, n)
	for i := 0; i < n; i++ {
		key := tx.Message.AccountKeys[i]
		var kp *types.Keypair
		for _, s := range signers {
			if s.Public == key {
				kp = s
				break
			}
		}
		if kp == nil {
			return fmt.Errorf("%w: %s", ErrMissingSigner, key)
		}
		tx.Signatures[i] = kp.Sign(payload)
	}
	return nil
}

// VerifySignatures checks every required signature against the message.
func (tx *Transaction) VerifySignatures() error {
	n := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) != n {
		return fmt.Errorf("%w: have %d, need %d", ErrSignatureCount, len(tx.Signatures), n)
	}
	payload := tx.Message.Serialize()
	for i := 0; i < n; i++ {
		if !tx.Signatures[i].Verify(tx.Message.AccountKeys[i], payload) {
			return fmt.Errorf("%w: signer %s", ErrSignatureVerify, tx.Message.AccountKeys[i])
		}
	}
	return nil
}
