package voting

import (
	"bytes"
	"fmt"
)

// Instruction tags.
const (
	TagCreateVoting uint8 = 0
	TagVote         uint8 = 1
)

// Instruction is a decoded voting instruction: *CreateVoting or *Vote.
type Instruction interface {
	// Tag returns the leading byte of the encoded instruction.
	Tag() uint8

	encodeFields(w *writer)
}

// OptionSpec is an option as carried by CreateVoting. On the wire it is
// preceded by a u32 counter that the program ignores.
type OptionSpec struct {
	Counter     uint32
	ID          uint8
	Description string
}

// CreateVoting creates a poll owned by the signing owner.
type CreateVoting struct {
	UID     string
	Name    string
	Start   int64
	End     int64
	Options []OptionSpec
}

// Tag implements Instruction.
func (*CreateVoting) Tag() uint8 { return TagCreateVoting }

func (ix *CreateVoting) encodeFields(w *writer) {
	w.str(ix.UID)
	w.str(ix.Name)
	w.i64(ix.Start)
	w.i64(ix.End)
	w.u32(uint32(len(ix.Options)))
	for _, o := range ix.Options {
		w.u32(o.Counter)
		w.u8(o.ID)
		w.str(o.Description)
	}
}

// Vote casts one vote for an option.
type Vote struct {
	OptionID uint8
}

// Tag implements Instruction.
func (*Vote) Tag() uint8 { return TagVote }

func (ix *Vote) encodeFields(w *writer) {
	w.u8(ix.OptionID)
}

// EncodeInstruction returns the wire encoding of ix.
func EncodeInstruction(ix Instruction) []byte {
	buf := new(bytes.Buffer)
	w := newWriter(buf)
	w.u8(ix.Tag())
	ix.encodeFields(w)
	// writes to a bytes.Buffer cannot fail
	return buf.Bytes()
}

// DecodeInstruction parses instruction data. Decoding is all or nothing: a
// truncated buffer, an unknown tag, a bad string or trailing bytes all
// fail with ErrMalformedInput.
func DecodeInstruction(data []byte) (Instruction, error) {
	ix, err := decodeInstruction(newReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: instruction: %v", ErrMalformedInput, err)
	}
	return ix, nil
}

func decodeInstruction(r *reader) (Instruction, error) {
	tag, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("tag: %w", err)
	}

	var ix Instruction
	switch tag {
	case TagCreateVoting:
		ix, err = decodeCreateVoting(r)
	case TagVote:
		var v Vote
		if v.OptionID, err = r.u8(); err != nil {
			err = fmt.Errorf("option id: %w", err)
		}
		ix = &v
	default:
		return nil, fmt.Errorf("unknown tag %d", tag)
	}
	if err != nil {
		return nil, err
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return ix, nil
}

func decodeCreateVoting(r *reader) (*CreateVoting, error) {
	var (
		ix  CreateVoting
		err error
	)
	if ix.UID, err = r.str(); err != nil {
		return nil, fmt.Errorf("uid: %w", err)
	}
	if ix.Name, err = r.str(); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	if ix.Start, err = r.i64(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if ix.End, err = r.i64(); err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	n, err := r.count(minOptionSize)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	ix.Options = make([]OptionSpec, n)
	for i := range ix.Options {
		o := &ix.Options[i]
		if o.Counter, err = r.u32(); err != nil {
			return nil, fmt.Errorf("option %d counter: %w", i, err)
		}
		if o.ID, err = r.u8(); err != nil {
			return nil, fmt.Errorf("option %d id: %w", i, err)
		}
		if o.Description, err = r.str(); err != nil {
			return nil, fmt.Errorf("option %d description: %w", i, err)
		}
	}
	return &ix, nil
}
