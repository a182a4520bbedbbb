// Package buffer is the byte buffer shared by the runtime codecs and by
// generated Go serializers.
//
// All multi-byte values are big-endian and fixed width. Lengths and element
// counts are int32. The buffer has a single write position (the end of the
// written data) and a read offset, and may be capped so a writer cannot grow
// it without bound.
package buffer

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"
)

// DefaultMaxSize caps buffers created by New.
const DefaultMaxSize = 16 * 1024 * 1024

var (
	ErrBufferFull     = errors.New("buffer: cannot grow past limit")
	ErrTruncated      = errors.New("buffer: truncated data")
	ErrNegativeLength = errors.New("buffer: negative length")
	ErrLengthOverflow = errors.New("buffer: length exceeds remaining data")
	ErrInvalidBool    = errors.New("buffer: invalid bool value")
	ErrNaNKey         = errors.New("buffer: NaN map key")
)

// Buffer is not safe for concurrent use.
type Buffer struct {
	data []byte
	off  int
	max  int
}

// New returns an empty buffer with the given initial capacity and the
// default size limit.
func New(capacity int) *Buffer {
	return NewWithLimit(capacity, DefaultMaxSize)
}

// NewWithLimit returns an empty buffer that refuses to hold more than max
// bytes. A max <= 0 disables the limit.
func NewWithLimit(capacity, max int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, 0, capacity), max: max}
}

// Wrap returns a buffer reading from b. The slice is not copied.
func Wrap(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Bytes returns the unread portion of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[b.off:] }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return len(b.data) - b.off }

// Written returns the total number of bytes written, read or not.
func (b *Buffer) Written() int { return len(b.data) }

// Reset drops all content and keeps the allocated storage.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.off = 0
}

// Truncate discards everything written after the first n bytes, as counted
// by Written. It panics if n falls before the read offset or past the end.
func (b *Buffer) Truncate(n int) {
	if n < b.off || n > len(b.data) {
		panic("buffer: truncation out of range")
	}
	b.data = b.data[:n]
}

func (b *Buffer) grow(n int) error {
	if b.max > 0 && len(b.data)+n > b.max {
		return ErrBufferFull
	}
	return nil
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.grow(len(p)); err != nil {
		return 0, err
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *Buffer) WriteBool(v bool) error {
	if v {
		return b.WriteInt8(1)
	}
	return b.WriteInt8(0)
}

func (b *Buffer) WriteInt8(v int8) error {
	if err := b.grow(1); err != nil {
		return err
	}
	b.data = append(b.data, byte(v))
	return nil
}

func (b *Buffer) WriteInt16(v int16) error {
	if err := b.grow(2); err != nil {
		return err
	}
	b.data = binary.BigEndian.AppendUint16(b.data, uint16(v))
	return nil
}

func (b *Buffer) WriteInt32(v int32) error {
	if err := b.grow(4); err != nil {
		return err
	}
	b.data = binary.BigEndian.AppendUint32(b.data, uint32(v))
	return nil
}

func (b *Buffer) WriteInt64(v int64) error {
	if err := b.grow(8); err != nil {
		return err
	}
	b.data = binary.BigEndian.AppendUint64(b.data, uint64(v))
	return nil
}

func (b *Buffer) WriteFloat32(v float32) error {
	return b.WriteInt32(int32(math.Float32bits(v)))
}

func (b *Buffer) WriteFloat64(v float64) error {
	return b.WriteInt64(int64(math.Float64bits(v)))
}

// WriteLen writes a length or element count.
func (b *Buffer) WriteLen(n int) error {
	if n < 0 {
		return ErrNegativeLength
	}
	if n > math.MaxInt32 {
		return ErrLengthOverflow
	}
	return b.WriteInt32(int32(n))
}

// WriteString writes the UTF-8 byte length followed by the bytes.
func (b *Buffer) WriteString(v string) error {
	if err := b.grow(4 + len(v)); err != nil {
		return err
	}
	if err := b.WriteLen(len(v)); err != nil {
		return err
	}
	b.data = append(b.data, v...)
	return nil
}

func (b *Buffer) WriteBytes(v []byte) error {
	if err := b.grow(4 + len(v)); err != nil {
		return err
	}
	if err := b.WriteLen(len(v)); err != nil {
		return err
	}
	b.data = append(b.data, v...)
	return nil
}

func (b *Buffer) next(n int) ([]byte, error) {
	if b.Len() < n {
		return nil, ErrTruncated
	}
	p := b.data[b.off : b.off+n]
	b.off += n
	return p, nil
}

func (b *Buffer) ReadBool() (bool, error) {
	p, err := b.next(1)
	if err != nil {
		return false, err
	}
	switch p[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidBool
	}
}

func (b *Buffer) ReadInt8() (int8, error) {
	p, err := b.next(1)
	if err != nil {
		return 0, err
	}
	return int8(p[0]), nil
}

func (b *Buffer) ReadInt16() (int16, error) {
	p, err := b.next(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(p)), nil
}

func (b *Buffer) ReadInt32() (int32, error) {
	p, err := b.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(p)), nil
}

func (b *Buffer) ReadInt64() (int64, error) {
	p, err := b.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadInt32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadInt64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

// ReadLen reads a length or element count. Every encoded element takes at
// least one byte, so a count larger than the unread data is corrupt.
func (b *Buffer) ReadLen() (int, error) {
	v, err := b.ReadInt32()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, ErrNegativeLength
	}
	if int(v) > b.Len() {
		return 0, ErrLengthOverflow
	}
	return int(v), nil
}

func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadLen()
	if err != nil {
		return "", err
	}
	p, err := b.next(n)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadBytes returns a copy of the encoded byte slice.
func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadLen()
	if err != nil {
		return nil, err
	}
	p, err := b.next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p)
	return out, nil
}

// SortedKeys returns the keys of m in wire order: false before true, numbers
// ascending, strings by byte value. NaN keys are rejected.
func SortedKeys[K comparable, V any](m map[K]V) ([]K, error) {
	keys := make([]K, 0, len(m))
	for k := range m {
		if isNaN(any(k)) {
			return nil, ErrNaNKey
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(any(keys[i]), any(keys[j])) })
	return keys, nil
}

func isNaN(k any) bool {
	switch x := k.(type) {
	case float32:
		return math.IsNaN(float64(x))
	case float64:
		return math.IsNaN(x)
	}
	return false
}

func keyLess(a, b any) bool {
	switch x := a.(type) {
	case bool:
		return !x && b.(bool)
	case int8:
		return x < b.(int8)
	case int16:
		return x < b.(int16)
	case int32:
		return x < b.(int32)
	case int64:
		return x < b.(int64)
	case float32:
		return x < b.(float32)
	case float64:
		return x < b.(float64)
	case string:
		return x < b.(string)
	}
	return false
}
