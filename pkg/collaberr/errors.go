// Package collaberr holds the error taxonomy shared by the server and the Go client.
package collaberr

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPError is implemented by errors that know their HTTP status.
type HTTPError interface {
	error
	StatusCode() int
}

var (
	ErrNotFound     = errors.New("not found")
	ErrLockDenied   = errors.New("section is locked by another editor")
	ErrStaleCommit  = errors.New("stale commit")
	ErrTransport    = errors.New("unable to reach the collaboration service")
	ErrNotEditable  = errors.New("section is not editable")
	ErrNotEditing   = errors.New("section is not focused for editing")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
)

// Holder describes the identity currently holding a section lease.
type Holder struct {
	UserId     uuid.UUID `json:"user_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LockDeniedError is returned when a section is held by a different identity.
// It is expected in normal operation: callers render the section read-only.
type LockDeniedError struct {
	DocumentId uuid.UUID
	SectionId  string
	Holder     Holder
}

func (e *LockDeniedError) Error() string {
	return fmt.Sprintf("section %q of document %s is held by %s", e.SectionId, e.DocumentId, e.Holder.UserId)
}

func (e *LockDeniedError) Is(target error) bool { return target == ErrLockDenied }
func (e *LockDeniedError) StatusCode() int      { return http.StatusConflict }

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string        { return fmt.Sprintf("%s %s not found", e.Resource, e.Key) }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
func (e *NotFoundError) StatusCode() int      { return http.StatusNotFound }

// ValidationError carries a user facing validation message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string        { return e.Message }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) StatusCode() int      { return http.StatusBadRequest }

func NotFound(resource, key string) error {
	return &NotFoundError{Resource: resource, Key: key}
}

func Invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Transport wraps a network failure so callers can test it with errors.Is(err, ErrTransport).
func Transport(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// StatusCode maps any error of the taxonomy to an HTTP status.
func StatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLockDenied), errors.Is(err, ErrStaleCommit), errors.Is(err, ErrNotEditing):
		return http.StatusConflict
	case errors.Is(err, ErrNotEditable):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTransport):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Code is the stable machine readable error code sent over the wire.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrLockDenied):
		return "LOCK_DENIED"
	case errors.Is(err, ErrStaleCommit):
		return "STALE_COMMIT"
	case errors.Is(err, ErrNotEditable):
		return "NOT_EDITABLE"
	case errors.Is(err, ErrNotEditing):
		return "NOT_EDITING"
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrTransport):
		return "TRANSPORT"
	}
	return "INTERNAL"
}

// FromCode is the inverse of Code, used by clients decoding error bodies.
func FromCode(code, message string) error {
	switch code {
	case "NOT_FOUND":
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	case "LOCK_DENIED":
		return fmt.Errorf("%w: %s", ErrLockDenied, message)
	case "STALE_COMMIT":
		return fmt.Errorf("%w: %s", ErrStaleCommit, message)
	case "NOT_EDITABLE":
		return fmt.Errorf("%w: %s", ErrNotEditable, message)
	case "NOT_EDITING":
		return fmt.Errorf("%w: %s", ErrNotEditing, message)
	case "VALIDATION":
		return &ValidationError{Message: message}
	case "UNAUTHORIZED":
		return fmt.Errorf("%w: %s", ErrUnauthorized, message)
	case "TRANSPORT":
		return fmt.Errorf("%w: %s", ErrTransport, message)
	}
	return errors.New(message)
}
