package storage

import (
	"errors"
	"fmt"
)

// Common errors. Callers match them with errors.Is.
var (
	ErrInvalidType         = errors.New("invalid type")
	ErrInvalidPropertyName = errors.New("invalid property name")
	ErrInvalidValue        = errors.New("invalid property value")
	ErrVertexNotFound      = errors.New("vertex not found")
	ErrOwnerNotFound       = errors.New("property owner not found")
	ErrValueTooLarge       = errors.New("property value too large")
	ErrAlreadyExists       = errors.New("already exists")
	ErrStorageIO           = errors.New("storage I/O error")
	ErrLimitExceeded       = errors.New("limit exceeded")
	ErrStorageClosed       = errors.New("storage closed")
	ErrInvalidQuery        = errors.New("invalid query")
)

// wrapIO tags an engine failure as ErrStorageIO while keeping the cause
// reachable through errors.Is / errors.As. Errors that already carry one of
// the package's kinds are returned unchanged.
func wrapIO(op string, err error) error {
	if err == nil || isKnown(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageIO, err)
}

// WrapIO is wrapIO for other engine packages.
func WrapIO(op string, err error) error {
	return wrapIO(op, err)
}

func isKnown(err error) bool {
	for _, kind := range []error{
		ErrInvalidType, ErrInvalidPropertyName, ErrInvalidValue,
		ErrVertexNotFound, ErrOwnerNotFound, ErrValueTooLarge,
		ErrAlreadyExists, ErrStorageIO, ErrLimitExceeded, ErrStorageClosed,
		ErrInvalidQuery,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
