package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects a user action before any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

var (
	ErrEmptyRemoteID  = &ValidationError{Field: "remote_id", Reason: "remote id is required"}
	ErrEmptyContent   = &ValidationError{Field: "content", Reason: "empty content"}
	ErrNoConnection   = &ValidationError{Field: "connection", Reason: "no connection"}
	ErrCallInProgress = &ValidationError{Field: "call", Reason: "a call is already in progress"}
	ErrNoCall         = &ValidationError{Field: "call", Reason: "no call in progress"}
	ErrFileTooLarge   = &ValidationError{Field: "file", Reason: "file too large"}
	ErrEmptyFile      = &ValidationError{Field: "file", Reason: "file name is required"}
)

// MediaAcquisitionError aborts a call transition when local capture fails.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition failed: %v", e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// CallError is reported by a call's error event. It is logged and surfaced
// but does not close the call by itself.
type CallError struct {
	RemoteID PeerID
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call with %s: %v", e.RemoteID, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// TransportError is a connection-level failure.
type TransportError struct {
	RemoteID PeerID
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection with %s: %v", e.RemoteID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

var (
	ErrClosed          = errors.New("closed")
	ErrNotReady        = errors.New("peer identity not ready")
	ErrPeerUnavailable = errors.New("peer unavailable")
	ErrIDTaken         = errors.New("peer id taken")
	ErrBackpressure    = errors.New("backpressure")
	ErrTimeout         = errors.New("timed out")
	ErrNoDevice        = errors.New("no media device")
	ErrDeclined        = errors.New("declined")
)
