// Package frame length-delimits registry frames on a byte stream:
//
//	[length: uint32, big-endian][protocol id: int16][field payload]
//
// Registry frames carry no length of their own, so captures and stream
// transports wrap each one with this prefix.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/protoreg/pkg/buffer"
)

const LengthPrefixLen = 4

var (
	ErrShortHeader   = errors.New("frame: short length prefix")
	ErrShortFrame    = errors.New("frame: stream ended inside frame")
	ErrFrameTooLarge = errors.New("frame: frame too large")
	ErrEmptyFrame    = errors.New("frame: empty frame")
	ErrTrailingBytes = errors.New("frame: trailing bytes after message")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: 8 * 1024 * 1024}
}

// Codec is the registry surface used to encode and decode frames.
type Codec interface {
	Write(buf *buffer.Buffer, v any) error
	Read(buf *buffer.Buffer) (any, error)
}

// ReadFrame reads one frame. It returns io.EOF when the stream ends
// cleanly between frames.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [LengthPrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if n > limits.MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, limits.MaxFrameBytes)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	return frame, nil
}

func WriteFrame(w io.Writer, frame []byte, limits Limits) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}
	if uint64(len(frame)) > uint64(limits.MaxFrameBytes) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), limits.MaxFrameBytes)
	}
	var prefix [LengthPrefixLen]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(frame)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

// WriteMessage encodes v through c and writes it as one frame.
func WriteMessage(w io.Writer, c Codec, v any, limits Limits) error {
	buf := buffer.NewWithLimit(64, int(limits.MaxFrameBytes))
	if err := c.Write(buf, v); err != nil {
		return err
	}
	return WriteFrame(w, buf.Bytes(), limits)
}

// ReadMessage reads one frame and decodes it through c. The frame must hold
// exactly one message.
func ReadMessage(r io.Reader, c Codec, limits Limits) (any, error) {
	frame, err := ReadFrame(r, limits)
	if err != nil {
		return nil, err
	}
	buf := buffer.Wrap(frame)
	v, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	if buf.Len() != 0 {
		return nil, fmt.Errorf("%w: %d", ErrTrailingBytes, buf.Len())
	}
	return v, nil
}
