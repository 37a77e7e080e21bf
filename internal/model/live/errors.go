package live

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id is not registered.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionConflict is returned when a learner already owns a session being created.
	ErrSessionConflict = errors.New("session already active")
	// ErrNotConnected is returned when writing to a closed upstream stream.
	ErrNotConnected = errors.New("upstream not connected")
	// ErrNoActiveSession is returned when a learner has no live session.
	ErrNoActiveSession = errors.New("no active session")
)

// UpstreamError wraps handshake and transport failures towards the remote AI service.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError builds an UpstreamError for op.
func NewUpstreamError(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}

// SessionError reports an unknown session id or a duplicate-session conflict.
type SessionError struct {
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ConnectionError reports a client transport decode failure or unexpected disconnect.
type ConnectionError struct {
	ConnectionID string
	Err          error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.ConnectionID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ConversationError is returned by the orchestrator when a session cannot be started.
type ConversationError struct {
	LearnerID string
	Err       error
}

func (e *ConversationError) Error() string {
	return fmt.Sprintf("conversation for learner %s: %v", e.LearnerID, e.Err)
}

func (e *ConversationError) Unwrap() error { return e.Err }
