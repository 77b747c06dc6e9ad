// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rif

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

var (
	// ErrAccessDenied is returned when the Secure World is not allowed to
	// use, or cannot take, a resource.
	ErrAccessDenied = errors.New("access denied")
	// ErrBadParameters is returned on malformed or out of range requests.
	ErrBadParameters = errors.New("bad parameters")
	// ErrNotSupported is returned when a controller lacks an operation.
	ErrNotSupported = errors.New("not supported")
	// ErrItemNotFound is returned when a lookup has no match.
	ErrItemNotFound = errors.New("item not found")
)

// ConfigurationError represents an unrecoverable firewall configuration
// anomaly, it carries the stack trace of the detection point.
type ConfigurationError struct {
	err   error
	stack *goerrors.Error
}

// Configurationf returns a ConfigurationError formatted according to a
// format specifier.
func Configurationf(format string, a ...interface{}) error {
	err := fmt.Errorf(format, a...)

	return &ConfigurationError{
		err:   err,
		stack: goerrors.Wrap(err, 1),
	}
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return "invalid firewall configuration, " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.err
}

// ErrorStack returns the error message followed by the stack trace captured
// when the error was created.
func (e *ConfigurationError) ErrorStack() string {
	return e.stack.ErrorStack()
}

// IsConfigurationError returns whether err, or any error it wraps, is a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}
