package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrViewMounted is returned by Mount when a view already exists.
	ErrViewMounted = errors.New("view already mounted")

	// ErrNoView is returned by Unmount when no view exists.
	ErrNoView = errors.New("no view mounted")

	// ErrStopped is returned by requests made after the engine stopped.
	ErrStopped = errors.New("engine stopped")
)

// RestoreErrorCode categorizes restoration errors.
type RestoreErrorCode string

const (
	// ErrCodeRestoreFailed indicates one persisted record could not be
	// recreated on the new view.
	ErrCodeRestoreFailed RestoreErrorCode = "RESTORE_FAILED"
)

// RestoreError reports one entity that failed to restore. Restoration
// continues past it.
type RestoreError struct {
	// Code identifies the error category.
	Code RestoreErrorCode `json:"code"`

	// Entity is "source" or "layer".
	Entity string `json:"entity"`

	// ID is the record id.
	ID string `json:"id"`

	// Message is the backend error text.
	Message string `json:"message"`

	// Err is the backend error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *RestoreError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Entity, e.ID, e.Err)
}

// Unwrap returns the backend error.
func (e *RestoreError) Unwrap() error {
	return e.Err
}

// IsRestoreError returns true if the error is a restoration failure.
// Uses errors.As to handle wrapped errors.
func IsRestoreError(err error) bool {
	var re *RestoreError
	if errors.As(err, &re) {
		return re.Code == ErrCodeRestoreFailed
	}
	return false
}

func newRestoreError(entity, id string, err error) *RestoreError {
	return &RestoreError{
		Code:    ErrCodeRestoreFailed,
		Entity:  entity,
		ID:      id,
		Message: err.Error(),
		Err:     err,
	}
}
