// Package errors defines the typed error taxonomy from spec section 7:
// transient I/O, invalid input, persistent state inconsistency, protocol
// violation, and unrecoverable. Each type wraps an underlying error so
// callers can use errors.Is/errors.As.
package errors

import (
	"fmt"
	"time"
)

// Kind classifies an error for status-bar display and recovery policy.
type Kind string

const (
	KindTransientIO    Kind = "transient_io"
	KindInvalidInput   Kind = "invalid_input"
	KindStateInconsist Kind = "state_inconsistent"
	KindProtocol       Kind = "protocol_violation"
	KindUnrecoverable  Kind = "unrecoverable"
)

// ReaderError represents a failure reading or scanning a source file.
type ReaderError struct {
	Kind       Kind
	Path       string
	Op         string
	Underlying error
	At         time.Time
}

func NewReaderError(op, path string, err error) *ReaderError {
	return &ReaderError{Kind: KindTransientIO, Op: op, Path: path, Underlying: err, At: time.Now()}
}

func (e *ReaderError) Error() string {
	return fmt.Sprintf("reader %s failed for %s: %v", e.Op, e.Path, e.Underlying)
}

func (e *ReaderError) Unwrap() error { return e.Underlying }

// IndexError represents a failure building, reading, or validating a
// columnar index.
type IndexError struct {
	Kind       Kind
	Path       string
	Op         string
	Underlying error
	At         time.Time
}

func NewIndexError(kind Kind, op, path string, err error) *IndexError {
	return &IndexError{Kind: kind, Op: op, Path: path, Underlying: err, At: time.Now()}
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s failed for %s: %v", e.Op, e.Path, e.Underlying)
}

func (e *IndexError) Unwrap() error { return e.Underlying }

// FilterError represents a failure compiling or running a filter. Invalid
// input (bad regex, bad query) must not clear existing results; the
// IsInvalidInput helper lets callers distinguish that case from a transient
// scan failure.
type FilterError struct {
	Kind       Kind
	Pattern    string
	Underlying error
	At         time.Time
}

func NewInvalidFilterError(pattern string, err error) *FilterError {
	return &FilterError{Kind: KindInvalidInput, Pattern: pattern, Underlying: err, At: time.Now()}
}

func NewTransientFilterError(pattern string, err error) *FilterError {
	return &FilterError{Kind: KindTransientIO, Pattern: pattern, Underlying: err, At: time.Now()}
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %q failed: %v", e.Pattern, e.Underlying)
}

func (e *FilterError) Unwrap() error { return e.Underlying }

func (e *FilterError) IsInvalidInput() bool { return e.Kind == KindInvalidInput }

// CaptureError represents a failure in capture mode (PID marker conflict,
// tee I/O failure).
type CaptureError struct {
	Kind       Kind
	Name       string
	Op         string
	Underlying error
	At         time.Time
}

func NewCaptureError(kind Kind, op, name string, err error) *CaptureError {
	return &CaptureError{Kind: kind, Op: op, Name: name, Underlying: err, At: time.Now()}
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s failed for %q: %v", e.Op, e.Name, e.Underlying)
}

func (e *CaptureError) Unwrap() error { return e.Underlying }

// MultiError aggregates independent errors, e.g. from closing several
// sources during shutdown.
type MultiError struct {
	Errors []error
}

func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return &MultiError{Errors: filtered}
}

func (e *MultiError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

func (e *MultiError) Unwrap() []error { return e.Errors }
