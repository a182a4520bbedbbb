package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/protoreg/internal/protocol/field"
	"github.com/danmuck/protoreg/pkg/buffer"
)

var (
	ErrAlreadyInitialized = errors.New("protocol: registry already initialized")
	ErrUnknownProtocol    = errors.New("protocol: unknown protocol id")
	ErrDuplicateProtocol  = errors.New("protocol: protocol slot already taken")
	ErrDuplicateModule    = errors.New("protocol: module slot already taken")
)

// DecodeError is a per-frame read failure. The registry is unaffected.
type DecodeError struct {
	ID       int16
	Protocol string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Protocol == "" {
		return fmt.Sprintf("protocol: decode id=%d: %v", e.ID, e.Err)
	}
	return fmt.Sprintf("protocol: decode id=%d (%s): %v", e.ID, e.Protocol, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Reason is a short label for metrics.
func (e *DecodeError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrUnknownProtocol):
		return "unknown_protocol"
	case errors.Is(e.Err, buffer.ErrTruncated):
		return "truncated"
	case errors.Is(e.Err, field.ErrTooDeep):
		return "too_deep"
	default:
		return "corrupt"
	}
}

// InvariantError means the caller and the analyzed protocol set disagree,
// for example writing a type that was never registered.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string { return "protocol: invariant violated: " + e.Reason }
