// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a DriverError for callers that dispatch on the
// failure class rather than the message.
type ErrorKind int

const (
	// ErrArg means an input precondition was violated.
	ErrArg ErrorKind = iota
	// ErrUnavailable means the feature is not supported on this variant.
	ErrUnavailable
	// ErrTransport means the underlying USB call failed.
	ErrTransport
	// ErrProtocol means the device answered outside the protocol contract.
	ErrProtocol
	// ErrResource means an allocation or file access failed.
	ErrResource
	// ErrBug means an internal invariant was broken.
	ErrBug
)

func (k ErrorKind) String() string {
	switch k {
	case ErrArg:
		return "argument"
	case ErrUnavailable:
		return "unavailable"
	case ErrTransport:
		return "transport"
	case ErrProtocol:
		return "protocol"
	case ErrResource:
		return "resource"
	case ErrBug:
		return "bug"
	default:
		return "unknown"
	}
}

// DriverError is the error type returned by all driver operations.
type DriverError struct {
	errorString string
	Kind        ErrorKind
}

func (e *DriverError) Error() string {
	return e.errorString
}

func newError(kind ErrorKind, msg string) error {
	return &DriverError{msg, kind}
}

func errorf(kind ErrorKind, format string, args ...interface{}) error {
	return &DriverError{fmt.Sprintf(format, args...), kind}
}

// IsKind reports whether err is a DriverError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
