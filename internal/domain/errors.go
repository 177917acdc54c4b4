package domain

import (
	"errors"
	"fmt"
)

// Status is the canonical wire status code (spec §7). S_OK is the zero
// value so a freshly zeroed response defaults to success only when every
// field has actually been set by the responder — callers must not rely on
// the zero value and must always assign Status explicitly.
type Status int32

const (
	StatusOK Status = 0
	StatusFail Status = -1
	StatusInval Status = -2
	StatusBadParam Status = -3
	StatusTooLarge Status = -4
	StatusKeyNotFound Status = -5
	StatusKeyExists Status = -6
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "S_OK"
	case StatusFail:
		return "E_FAIL"
	case StatusInval:
		return "E_INVAL"
	case StatusBadParam:
		return "E_BAD_PARAM"
	case StatusTooLarge:
		return "E_TOO_LARGE"
	case StatusKeyNotFound:
		return "E_KEY_NOT_FOUND"
	case StatusKeyExists:
		return "E_KEY_EXISTS"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Err converts a non-OK status into an error, or nil for StatusOK.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return statusError{s}
}

type statusError struct{ s Status }

func (e statusError) Error() string { return e.s.String() }

// StatusFromErr recovers the Status a statusError carries, defaulting to
// StatusFail for any other non-nil error and StatusOK for nil.
func StatusFromErr(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se statusError
	if errors.As(err, &se) {
		return se.s
	}
	return StatusFail
}

// Sentinel errors used by the pool manager and region allocator. These are
// returned unchanged by every layer above them — they signal a programming
// error, not a transient runtime condition, per spec §7.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOutOfRange      = errors.New("out of range")
	ErrBadAlloc        = errors.New("allocator out of memory")

	ErrPoolFail            = errors.New("pool: operation failed")
	ErrPoolUnsupportedMode = errors.New("pool: unsupported flag combination")
	ErrRegionFail          = errors.New("pool: backing region failure")
	ErrRegionFailGeneral   = errors.New("pool: backing region failure (general)")
	ErrRegionFailAPI       = errors.New("pool: backing region failure (api)")
	ErrPoolNotFound        = errors.New("pool: not found")
)

// The closed wire-status error set, each wrapping the matching Status so
// StatusFromErr recovers it without a type switch at every call site.
var (
	ErrFail        = StatusFail.Err()
	ErrInval       = StatusInval.Err()
	ErrBadParam    = StatusBadParam.Err()
	ErrTooLarge    = StatusTooLarge.Err()
	ErrKeyNotFound = StatusKeyNotFound.Err()
	ErrKeyExists   = StatusKeyExists.Err()
)

// ProtocolError is fatal: it means wire framing or a state-machine
// invariant was violated and the connection that raised it must be
// considered unusable. Unlike the Status values above, it is never folded
// into StatusFail by the per-operation recovery wrapper.
type ProtocolError struct {
	Expected uint8
	Got      uint8
	Msg      string
}

func (e *ProtocolError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("protocol exception: %s (expected type_id=0x%x got 0x%x)", e.Msg, e.Expected, e.Got)
	}
	return fmt.Sprintf("protocol exception: expected type_id=0x%x got 0x%x", e.Expected, e.Got)
}
