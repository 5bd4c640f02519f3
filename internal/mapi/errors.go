package mapi

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use with errors.Is().
var (
	ErrNotFound         = errors.New("mapi: not found")
	ErrNoAccess         = errors.New("mapi: no access")
	ErrInvalidParameter = errors.New("mapi: invalid parameter")
	ErrCallFailed       = errors.New("mapi: call failed")
)

// Error codes reported to the client as "hresult".
const (
	CodeNotFound         uint32 = 0x8004010F
	CodeNoAccess         uint32 = 0x80070005
	CodeInvalidParameter uint32 = 0x80070057
	CodeCallFailed       uint32 = 0x80004005
)

// NotificationConsole tells the client to log the error instead of
// showing a dialog.
const NotificationConsole = "console"

// Error is a store failure carrying the code and display text for the client.
type Error struct {
	Code           uint32
	Message        string
	DisplayMessage string
	// NotificationType is "" for a regular client notice or
	// NotificationConsole when the request asked to suppress it.
	NotificationType string

	sentinel error
}

// NewError builds an Error wrapping one of the package sentinels.
func NewError(sentinel error, msg string) *Error {
	return &Error{
		Code:     codeFor(sentinel),
		Message:  msg,
		sentinel: sentinel,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (0x%08X)", e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.sentinel
}

func codeFor(sentinel error) uint32 {
	switch {
	case errors.Is(sentinel, ErrNotFound):
		return CodeNotFound
	case errors.Is(sentinel, ErrNoAccess):
		return CodeNoAccess
	case errors.Is(sentinel, ErrInvalidParameter):
		return CodeInvalidParameter
	default:
		return CodeCallFailed
	}
}

// AsError returns err as *Error, converting foreign errors into a
// generic call failure.
func AsError(err error) *Error {
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	return &Error{
		Code:     CodeCallFailed,
		Message:  err.Error(),
		sentinel: ErrCallFailed,
	}
}
