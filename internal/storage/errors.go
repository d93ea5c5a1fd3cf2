package storage

import (
	"errors"

	"portfolio-tracker/internal/domain"
)

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Wrap tags err as a storage failure of op. Sentinel errors keep matching with errors.Is.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return domain.NewError(domain.KindStorage, op, err)
}
