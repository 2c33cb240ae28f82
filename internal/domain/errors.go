// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrSessionClosed    = errors.New("session is closed")
	ErrCallTimeout      = errors.New("call timed out waiting for reply")
	ErrNoContext        = errors.New("no execution context accepted the expression")
	ErrContextUnset     = errors.New("no execution context is remembered for this entry")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNoConversation   = errors.New("no conversation directory found")
	ErrHubNotRunning    = errors.New("event hub is not running")
	ErrSubscriberClosed = errors.New("subscriber is closed")
	ErrHistoryDisabled  = errors.New("history store is disabled")
)

// ConnectError represents a failed transport handshake. The candidate is
// dropped for the current cycle and retried on the next one.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// NewConnectError creates a new ConnectError.
func NewConnectError(addr string, err error) *ConnectError {
	return &ConnectError{Addr: addr, Err: err}
}

// RemoteError is an error explicitly reported by the remote process in a
// call reply. The session stays alive.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("remote error: %s", e.Message)
}

// IsRemoteError reports whether err is (or wraps) a RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
