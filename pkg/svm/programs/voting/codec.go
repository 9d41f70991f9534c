package voting

import (
	"fmt"
	"io"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
)

// Borsh primitives used by instructions and poll records: little-endian
// integers, u32-prefixed UTF-8 strings and u32-prefixed lists.

const (
	sizeU8  = 1
	sizeU32 = 4
	sizeI64 = 8
)

func stringSize(s string) int {
	return sizeU32 + len(s)
}

// reader decodes borsh primitives and refuses lengths that run past the end
// of the input before allocating for them.
type reader struct {
	dec  *bin.Decoder
	size int
}

func newReader(data []byte) *reader {
	return &reader{dec: bin.NewBorshDecoder(data), size: len(data)}
}

func (r *reader) remaining() int {
	return r.size - int(r.dec.Position())
}

func (r *reader) u8() (uint8, error) {
	return r.dec.ReadByte()
}

func (r *reader) u32() (uint32, error) {
	return r.dec.ReadUint32(bin.LE)
}

func (r *reader) i64() (int64, error) {
	return r.dec.ReadInt64(bin.LE)
}

func (r *reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if int64(n) > int64(r.remaining()) {
		return "", fmt.Errorf("string length %d exceeds %d remaining bytes", n, r.remaining())
	}
	b, err := r.dec.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("string is not valid UTF-8")
	}
	return string(b), nil
}

// count reads a list length, checking that count elements of at least
// minElem bytes each can still fit in the input.
func (r *reader) count(minElem int) (int, error) {
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if int64(n)*int64(minElem) > int64(r.remaining()) {
		return 0, fmt.Errorf("list of %d elements exceeds %d remaining bytes", n, r.remaining())
	}
	return int(n), nil
}

// done fails if any input is left unread.
func (r *reader) done() error {
	if rem := r.remaining(); rem != 0 {
		return fmt.Errorf("%d trailing bytes", rem)
	}
	return nil
}

// writer encodes borsh primitives and keeps the first error.
type writer struct {
	enc *bin.Encoder
	err error
}

func newWriter(w io.Writer) *writer {
	return &writer{enc: bin.NewBorshEncoder(w)}
}

func (w *writer) u8(v uint8) {
	if w.err == nil {
		w.err = w.enc.WriteByte(v)
	}
}

func (w *writer) u32(v uint32) {
	if w.err == nil {
		w.err = w.enc.WriteUint32(v, bin.LE)
	}
}

func (w *writer) i64(v int64) {
	if w.err == nil {
		w.err = w.enc.WriteInt64(v, bin.LE)
	}
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	if w.err == nil {
		w.err = w.enc.WriteBytes([]byte(s), false)
	}
}

// fixedBuffer is an io.Writer over a preallocated slice that refuses to grow.
type fixedBuffer struct {
	buf []byte
	off int
}

func (f *fixedBuffer) Write(p []byte) (int, error) {
	if len(p) > len(f.buf)-f.off {
		return 0, io.ErrShortBuffer
	}
	copy(f.buf[f.off:], p)
	f.off += len(p)
	return len(p), nil
}
