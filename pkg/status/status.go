// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package status defines the outcome of fusion-pass steps and the error kinds returned by
// graph-editing primitives.
//
// A Status is what a pass reports: Success (graph rewritten), NotChanged (matched but
// rejected, not an error), Failed or ParamInvalid (an invariant was violated).
//
// Graph and rewrite primitives return plain Go errors. Those errors carry a Status that
// can be recovered with Of, so the driver can tell a bad parameter from an internal failure.
package status

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status of a pass attempt or a graph-editing primitive.
type Status int

//go:generate go tool enumer -type=Status -transform=snake-upper -output=gen_status_enumer.go status.go

const (
	Success Status = iota
	NotChanged
	Failed
	ParamInvalid
)

// IsError returns whether the status is Failed or ParamInvalid.
func (s Status) IsError() bool {
	return s == Failed || s == ParamInvalid
}

// codedError attaches a Status to an error created with github.com/pkg/errors, which
// holds the stack trace.
type codedError struct {
	code Status
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

// Cause implements the github.com/pkg/errors causer interface.
func (e *codedError) Cause() error { return e.err }

// Unwrap implements the standard library wrapping protocol.
func (e *codedError) Unwrap() error { return e.err }

// Format prints the stack trace of the wrapped error with "%+v".
func (e *codedError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		_, _ = fmt.Fprintf(s, "%s: %+v", e.code, e.err)
		return
	}
	_, _ = fmt.Fprint(s, e.err.Error())
}

// Errorf creates a new error with the given status code. Use Success or NotChanged
// here is a bug, and they are converted to Failed.
func Errorf(code Status, format string, args ...any) error {
	if !code.IsError() {
		code = Failed
	}
	return &codedError{code: code, err: errors.Errorf(format, args...)}
}

// Wrapf annotates err, keeping its status code, or using code if err has none.
// It returns nil if err is nil.
func Wrapf(err error, code Status, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var coded *codedError
	if errors.As(err, &coded) {
		code = coded.code
	}
	if !code.IsError() {
		code = Failed
	}
	return &codedError{code: code, err: errors.Wrapf(err, format, args...)}
}

// Of returns the status carried by err: Success for nil, Failed for errors without a code.
func Of(err error) Status {
	if err == nil {
		return Success
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return Failed
}
