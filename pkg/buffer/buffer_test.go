package buffer

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/danmuck/protoreg/internal/testutil/testlog"
)

func TestScalarsRoundTripBoundaries(t *testing.T) {
	testlog.Start(t)
	b := New(64)
	steps := []func() error{
		func() error { return b.WriteBool(true) },
		func() error { return b.WriteBool(false) },
		func() error { return b.WriteInt8(math.MinInt8) },
		func() error { return b.WriteInt8(math.MaxInt8) },
		func() error { return b.WriteInt16(math.MinInt16) },
		func() error { return b.WriteInt16(math.MaxInt16) },
		func() error { return b.WriteInt32(math.MinInt32) },
		func() error { return b.WriteInt64(math.MaxInt64) },
		func() error { return b.WriteFloat32(-1.5) },
		func() error { return b.WriteFloat64(math.SmallestNonzeroFloat64) },
		func() error { return b.WriteString("") },
		func() error { return b.WriteBytes([]byte{0xde, 0xad}) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("write step %d: %v", i, err)
		}
	}

	if v, err := b.ReadBool(); err != nil || !v {
		t.Fatalf("bool true: %v %v", v, err)
	}
	if v, err := b.ReadBool(); err != nil || v {
		t.Fatalf("bool false: %v %v", v, err)
	}
	if v, err := b.ReadInt8(); err != nil || v != math.MinInt8 {
		t.Fatalf("int8 min: %v %v", v, err)
	}
	if v, err := b.ReadInt8(); err != nil || v != math.MaxInt8 {
		t.Fatalf("int8 max: %v %v", v, err)
	}
	if v, err := b.ReadInt16(); err != nil || v != math.MinInt16 {
		t.Fatalf("int16 min: %v %v", v, err)
	}
	if v, err := b.ReadInt16(); err != nil || v != math.MaxInt16 {
		t.Fatalf("int16 max: %v %v", v, err)
	}
	if v, err := b.ReadInt32(); err != nil || v != math.MinInt32 {
		t.Fatalf("int32 min: %v %v", v, err)
	}
	if v, err := b.ReadInt64(); err != nil || v != math.MaxInt64 {
		t.Fatalf("int64 max: %v %v", v, err)
	}
	if v, err := b.ReadFloat32(); err != nil || v != -1.5 {
		t.Fatalf("float32: %v %v", v, err)
	}
	if v, err := b.ReadFloat64(); err != nil || v != math.SmallestNonzeroFloat64 {
		t.Fatalf("float64: %v %v", v, err)
	}
	if v, err := b.ReadString(); err != nil || v != "" {
		t.Fatalf("empty string: %q %v", v, err)
	}
	if v, err := b.ReadBytes(); err != nil || !bytes.Equal(v, []byte{0xde, 0xad}) {
		t.Fatalf("bytes: %x %v", v, err)
	}
	if b.Len() != 0 {
		t.Fatalf("expected drained buffer, %d bytes left", b.Len())
	}
}

func TestBigEndianLayout(t *testing.T) {
	testlog.Start(t)
	b := New(8)
	if err := b.WriteInt16(42); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := b.WriteString("ping"); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := []byte{0x00, 0x2a, 0x00, 0x00, 0x00, 0x04, 'p', 'i', 'n', 'g'}
	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("layout mismatch: got=%x want=%x", b.Bytes(), want)
	}
}

func TestReadTruncated(t *testing.T) {
	testlog.Start(t)
	b := Wrap([]byte{0x01})
	if _, err := b.ReadInt32(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReadLenRejectsCorruptCounts(t *testing.T) {
	testlog.Start(t)
	if _, err := Wrap([]byte{0xff, 0xff, 0xff, 0xff}).ReadLen(); !errors.Is(err, ErrNegativeLength) {
		t.Fatalf("expected ErrNegativeLength, got %v", err)
	}
	if _, err := Wrap([]byte{0x00, 0x00, 0x00, 0x09, 'a'}).ReadString(); !errors.Is(err, ErrLengthOverflow) {
		t.Fatalf("expected ErrLengthOverflow, got %v", err)
	}
	if _, err := Wrap([]byte{0x02}).ReadBool(); !errors.Is(err, ErrInvalidBool) {
		t.Fatalf("expected ErrInvalidBool, got %v", err)
	}
}

func TestLimitStopsGrowth(t *testing.T) {
	testlog.Start(t)
	b := NewWithLimit(0, 8)
	if err := b.WriteInt64(1); err != nil {
		t.Fatalf("write within limit: %v", err)
	}
	if err := b.WriteInt8(1); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
	if err := NewWithLimit(0, 16).WriteString(strings.Repeat("x", 32)); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull for long string, got %v", err)
	}
	if b.Written() != 8 {
		t.Fatalf("failed write must not change content, written=%d", b.Written())
	}
}

func TestLongStringRoundTrip(t *testing.T) {
	testlog.Start(t)
	long := strings.Repeat("protocol", 8192)
	b := New(0)
	if err := b.WriteString(long); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := b.ReadString()
	if err != nil || got != long {
		t.Fatalf("long string mismatch: len=%d err=%v", len(got), err)
	}
}

func TestResetKeepsStorage(t *testing.T) {
	testlog.Start(t)
	b := New(4)
	_ = b.WriteInt32(7)
	_, _ = b.ReadInt16()
	b.Reset()
	if b.Len() != 0 || b.Written() != 0 {
		t.Fatalf("reset left data: len=%d written=%d", b.Len(), b.Written())
	}
}

func TestTruncateDropsTail(t *testing.T) {
	testlog.Start(t)
	b := New(0)
	_ = b.WriteInt16(1)
	mark := b.Written()
	_ = b.WriteInt32(2)
	_ = b.WriteString("tail")
	b.Truncate(mark)
	if b.Written() != mark || !bytes.Equal(b.Bytes(), []byte{0, 1}) {
		t.Fatalf("truncate: written=%d bytes=%x", b.Written(), b.Bytes())
	}
	if _, err := b.ReadInt16(); err != nil {
		t.Fatalf("read kept prefix: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when truncating read bytes")
		}
	}()
	b.Truncate(0)
}

func TestSortedKeysWireOrder(t *testing.T) {
	testlog.Start(t)
	ints, err := SortedKeys(map[int32]string{3: "c", -1: "a", 2: "b"})
	if err != nil || !reflect.DeepEqual(ints, []int32{-1, 2, 3}) {
		t.Fatalf("int keys: %v %v", ints, err)
	}
	bools, err := SortedKeys(map[bool]int8{true: 1, false: 0})
	if err != nil || !reflect.DeepEqual(bools, []bool{false, true}) {
		t.Fatalf("bool keys: %v %v", bools, err)
	}
	strs, err := SortedKeys(map[string]bool{"b": true, "B": true, "a": true})
	if err != nil || !reflect.DeepEqual(strs, []string{"B", "a", "b"}) {
		t.Fatalf("string keys: %v %v", strs, err)
	}
	if _, err := SortedKeys(map[float64]int32{math.NaN(): 1, 2: 2}); !errors.Is(err, ErrNaNKey) {
		t.Fatalf("expected ErrNaNKey, got %v", err)
	}
	if keys, err := SortedKeys(map[string]int32(nil)); err != nil || len(keys) != 0 {
		t.Fatalf("nil map: %v %v", keys, err)
	}
}
