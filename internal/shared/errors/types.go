package errors

import (
	"errors"
	"fmt"
)

// StoreError reports that a persisted document could not be read, parsed or
// written. The process must stop rather than continue on a store whose
// integrity is unknown.
type StoreError struct {
	Op       string // read, decode, encode, write
	Resource string // document name, e.g. "agenda"
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Resource, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ConfigError reports a missing or invalid configuration value.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err as a StoreError. A nil err yields nil.
func NewStoreError(op, resource string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Resource: resource, Err: err}
}

// NewConfigError builds a ConfigError from a formatted message.
func NewConfigError(key, format string, args ...any) error {
	return &ConfigError{Key: key, Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err must terminate the process. Only store and
// configuration errors qualify; everything else is absorbed where detected.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return true
	}
	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// IsStoreError reports whether err wraps a StoreError.
func IsStoreError(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}
