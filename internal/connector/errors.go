package connector

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// KindRecoverable errors are transient; another channel or a later retry may succeed.
	KindRecoverable ErrorKind = iota
	// KindUnrecoverable errors come from configuration or programming mistakes.
	KindUnrecoverable
)

func (k ErrorKind) String() string {
	if k == KindRecoverable {
		return "recoverable"
	}
	return "unrecoverable"
}

type DispatchError struct {
	Kind ErrorKind
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s dispatch error: %v", e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func Recoverable(err error) *DispatchError {
	return &DispatchError{Kind: KindRecoverable, Err: err}
}

func Unrecoverable(err error) *DispatchError {
	return &DispatchError{Kind: KindUnrecoverable, Err: err}
}

// IsRecoverable reports whether err is a recoverable DispatchError.
// Plain errors are treated as recoverable.
func IsRecoverable(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind == KindRecoverable
	}
	return err != nil
}

// Classify returns the kind of err, defaulting to recoverable for plain errors.
func Classify(err error) ErrorKind {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindRecoverable
}
