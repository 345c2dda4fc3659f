package venue

import (
	"errors"
	"fmt"

	"github.com/zarfld/MixingStation-API-Client-sub001/internal/console"
)

var (
	// ErrInvalidMode is returned for a mode name with no configured
	// intent.
	ErrInvalidMode = errors.New("unknown venue mode")

	// ErrNotConnected is returned when an operation requires a connected
	// console session.
	ErrNotConnected = errors.New("console not connected")
)

// ModeSwitchError reports a mode switch that failed wholesale, before
// any console operation was attempted.
type ModeSwitchError struct {
	Mode Mode
	Err  error
}

func (e *ModeSwitchError) Error() string {
	return fmt.Sprintf("switch to mode %q: %v", e.Mode, e.Err)
}

func (e *ModeSwitchError) Unwrap() error {
	return e.Err
}

// GroupOpError reports a failed group-level operation.
type GroupOpError struct {
	Group console.Group
	Err   error
}

func (e *GroupOpError) Error() string {
	return fmt.Sprintf("group %q: %v", e.Group, e.Err)
}

func (e *GroupOpError) Unwrap() error {
	return e.Err
}
