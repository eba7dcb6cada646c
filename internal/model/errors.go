package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
)

// InvalidSessionError reports an ownership/authorization failure. It is never
// retried automatically; surface it to the caller.
type InvalidSessionError struct {
	ThreadID string
}

func (e InvalidSessionError) Error() string {
	return fmt.Sprintf("session validation failed for thread %s", e.ThreadID)
}

// IsInvalidSession checks for InvalidSessionError (including wrapped errors).
func IsInvalidSession(err error) bool {
	var e InvalidSessionError
	return errors.As(err, &e)
}

// PersistenceError reports a failed durable-store call. The in-memory cache
// is left unmodified when it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// IsPersistence checks for PersistenceError.
func IsPersistence(err error) bool {
	var e PersistenceError
	return errors.As(err, &e)
}

// MessagePersistError is the append-path flavor of PersistenceError.
type MessagePersistError struct {
	ThreadID string
	Err      error
}

func (e MessagePersistError) Error() string {
	return fmt.Sprintf("failed to persist message for thread %s: %v", e.ThreadID, e.Err)
}

func (e MessagePersistError) Unwrap() error { return e.Err }

// IsMessagePersist checks for MessagePersistError.
func IsMessagePersist(err error) bool {
	var e MessagePersistError
	return errors.As(err, &e)
}

// SerializationError reports a context blob that could not be encoded or
// decoded. Fatal for the current operation; never substitute an empty
// context in its place.
type SerializationError struct {
	Field string
	Err   error
}

func (e SerializationError) Error() string {
	return fmt.Sprintf("context serialization failed on %s: %v", e.Field, e.Err)
}

func (e SerializationError) Unwrap() error { return e.Err }

// IsSerialization checks for SerializationError.
func IsSerialization(err error) bool {
	var e SerializationError
	return errors.As(err, &e)
}

// InvalidContextError reports a context window that failed structural
// validation before persist.
type InvalidContextError struct {
	Reason string
}

func (e InvalidContextError) Error() string {
	return fmt.Sprintf("invalid context window: %s", e.Reason)
}

// IsInvalidContext checks for InvalidContextError.
func IsInvalidContext(err error) bool {
	var e InvalidContextError
	return errors.As(err, &e)
}

// ErrConcurrentSend is returned when a send is already in flight on a
// runtime instance. Callers should back off and retry.
var ErrConcurrentSend = errors.New("a message send is already in progress")

// ThreadNotFoundError reports a thread id this store does not know about.
type ThreadNotFoundError struct {
	ThreadID string
}

func (e ThreadNotFoundError) Error() string {
	return fmt.Sprintf("thread %s not found", e.ThreadID)
}

// IsThreadNotFound checks for ThreadNotFoundError.
func IsThreadNotFound(err error) bool {
	var e ThreadNotFoundError
	return errors.As(err, &e)
}

// MessageNotFoundError reports a message id absent from the current thread.
type MessageNotFoundError struct {
	MessageID string
}

func (e MessageNotFoundError) Error() string {
	return fmt.Sprintf("message %s not found", e.MessageID)
}

// IsMessageNotFound checks for MessageNotFoundError.
func IsMessageNotFound(err error) bool {
	var e MessageNotFoundError
	return errors.As(err, &e)
}
