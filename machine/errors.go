package machine

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnected        = errors.New("already connected")
	ErrResponseTimeout  = errors.New("timed out waiting for response")
	ErrResponsePending  = errors.New("another response wait is outstanding")
	ErrTransferActive   = errors.New("file transfer in progress")
	ErrTransferFailed   = errors.New("file transfer failed")
	ErrTransferCanceled = errors.New("file transfer canceled")
	ErrDigestMismatch   = errors.New("received file digest mismatch")
	ErrNoAutoCommand    = errors.New("no auto command selected")
	ErrOutsideWorkArea  = errors.New("path origin outside work area")
	ErrNotIdle          = errors.New("machine not idle")
	ErrNoProbeData      = errors.New("no probe data returned")
)

// ConnectionError reports a failure to open or keep the machine link.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError reports a command that could not be sent.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
