package voting

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// Field bounds, in characters.
const (
	MaxUIDLen         = 100
	MaxNameLen        = 200
	MaxDescriptionLen = 500
)

// Option is one choice of a poll and its tally.
type Option struct {
	ID          uint8  `json:"id"`
	Description string `json:"description"`
	Counter     uint32 `json:"counter"`
}

// Poll is the record stored at a poll address.
//
// Persisted layout: uid, name, start, end, options. Each option is encoded
// as counter, id, description.
type Poll struct {
	UID     string   `json:"uid"`
	Name    string   `json:"name"`
	Start   int64    `json:"start"`
	End     int64    `json:"end"`
	Options []Option `json:"options"`
}

// minOptionSize is the encoded size of an option with an empty description.
const minOptionSize = sizeU32 + sizeU8 + sizeU32

// NewPoll builds the initial record for a CreateVoting instruction. Every
// counter starts at zero whatever the instruction carried, and options are
// ordered by id.
func NewPoll(ix *CreateVoting) *Poll {
	poll := &Poll{
		UID:     ix.UID,
		Name:    ix.Name,
		Start:   ix.Start,
		End:     ix.End,
		Options: make([]Option, len(ix.Options)),
	}
	for i, o := range ix.Options {
		poll.Options[i] = Option{ID: o.ID, Description: o.Description}
	}
	sort.SliceStable(poll.Options, func(i, j int) bool {
		return poll.Options[i].ID < poll.Options[j].ID
	})
	return poll
}

// ExactSize returns the encoded size of the poll.
func (p *Poll) ExactSize() uint64 {
	size := stringSize(p.UID) + stringSize(p.Name) + 2*sizeI64 + sizeU32
	for _, o := range p.Options {
		size += sizeU32 + sizeU8 + stringSize(o.Description)
	}
	return uint64(size)
}

// EncodeInto writes the poll into buf, which must be exactly ExactSize bytes.
func (p *Poll) EncodeInto(buf []byte) error {
	if uint64(len(buf)) != p.ExactSize() {
		return fmt.Errorf("%w: buffer is %d bytes, poll needs %d", ErrWrongSize, len(buf), p.ExactSize())
	}
	out := &fixedBuffer{buf: buf}
	w := newWriter(out)
	w.str(p.UID)
	w.str(p.Name)
	w.i64(p.Start)
	w.i64(p.End)
	w.u32(uint32(len(p.Options)))
	for _, o := range p.Options {
		w.u32(o.Counter)
		w.u8(o.ID)
		w.str(o.Description)
	}
	if w.err != nil {
		return fmt.Errorf("encode poll: %w", w.err)
	}
	return nil
}

// Encode returns the encoded poll.
func (p *Poll) Encode() []byte {
	buf := make([]byte, p.ExactSize())
	// the buffer is sized by ExactSize
	_ = p.EncodeInto(buf)
	return buf
}

// DecodePoll parses a stored poll record. The whole input must be consumed.
func DecodePoll(data []byte) (*Poll, error) {
	poll, err := decodePoll(newReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: poll record: %v", ErrMalformedInput, err)
	}
	return poll, nil
}

func decodePoll(r *reader) (*Poll, error) {
	var (
		poll Poll
		err  error
	)
	if poll.UID, err = r.str(); err != nil {
		return nil, fmt.Errorf("uid: %w", err)
	}
	if poll.Name, err = r.str(); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	if poll.Start, err = r.i64(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if poll.End, err = r.i64(); err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	n, err := r.count(minOptionSize)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	poll.Options = make([]Option, n)
	for i := range poll.Options {
		o := &poll.Options[i]
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
	if err := r.done(); err != nil {
		return nil, err
	}
	return &poll, nil
}

func checkField(name, value string, limit int) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyField, name)
	}
	if n := utf8.RuneCountInString(value); n > limit {
		return fmt.Errorf("%w: %s has %d characters, max %d", ErrFieldTooLong, name, n, limit)
	}
	return nil
}

func (p *Poll) validateFields() error {
	if err := checkField("uid", p.UID, MaxUIDLen); err != nil {
		return err
	}
	if err := checkField("name", p.Name, MaxNameLen); err != nil {
		return err
	}
	if len(p.Options) == 0 {
		return ErrEmptyOptions
	}
	var seen [math.MaxUint8 + 1]bool
	for _, o := range p.Options {
		if err := checkField(fmt.Sprintf("option %d description", o.ID), o.Description, MaxDescriptionLen); err != nil {
			return err
		}
		if seen[o.ID] {
			return fmt.Errorf("%w: %d", ErrDuplicateOption, o.ID)
		}
		seen[o.ID] = true
	}
	return nil
}

func (p *Poll) validateWindow() error {
	if p.Start >= p.End {
		return fmt.Errorf("%w: start %d, end %d", ErrStartAfterEnd, p.Start, p.End)
	}
	return nil
}

// ValidateInvariants checks the rules every stored poll satisfies: field
// bounds, a non-empty option set with unique ids and start before end.
func (p *Poll) ValidateInvariants() error {
	if err := p.validateFields(); err != nil {
		return err
	}
	return p.validateWindow()
}

// Validate checks a poll about to be created at time now. On top of the
// stored invariants the start may not lie in the past.
func (p *Poll) Validate(now int64) error {
	if err := p.validateFields(); err != nil {
		return err
	}
	if p.Start < now {
		return fmt.Errorf("%w: start %d, now %d", ErrStartInPast, p.Start, now)
	}
	return p.validateWindow()
}

// FindOption returns the index of the option with the given id. Options are
// kept ordered by id.
func (p *Poll) FindOption(id uint8) (int, bool) {
	i := sort.Search(len(p.Options), func(i int) bool {
		return p.Options[i].ID >= id
	})
	if i < len(p.Options) && p.Options[i].ID == id {
		return i, true
	}
	return 0, false
}

// AddVote adds one vote to the option at index i. The counter saturates
// instead of wrapping.
func (p *Poll) AddVote(i int) {
	if p.Options[i].Counter < math.MaxUint32 {
		p.Options[i].Counter++
	}
}

// IsActive reports whether votes are accepted at time now. Both window
// bounds are inclusive.
func (p *Poll) IsActive(now int64) bool {
	return now >= p.Start && now <= p.End
}
