package entitlement

import (
	"errors"
	"fmt"
)

// Error taxonomy for the entitlement engine.
var (
	ErrInvalidTierName  = errors.New("invalid tier name")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMigrationFailure = errors.New("migration failure")
	ErrStorageFailure   = errors.New("storage failure")
)

// OpError records a failed store operation.
type OpError struct {
	Op  string // "get", "set", "remove", "keys"
	Key string
	Err error
}

func (e *OpError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %q failed: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *OpError) Is(target error) bool {
	return target == ErrStorageFailure
}

func storageError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Key: key, Err: err}
}
