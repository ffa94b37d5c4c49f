// Package errors adds context and user-facing messages to errors. Context is
// attached with WithContext as the error propagates up the call stack, and
// the original error can be recovered with RootCause.
package errors

import (
	goErrors "errors"
	"fmt"
)

// New returns an error that formats as the given text.
func New(msg string) error {
	return goErrors.New(msg)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return goErrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return goErrors.As(err, target)
}

type withContext struct {
	context string
	err     error
}

// WithContext annotates err with a short description of what was being done
// when it occurred. It returns nil if err is nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return withContext{context: context, err: err}
}

func (err withContext) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err withContext) Unwrap() error {
	return err.err
}

// RootCause strips every layer of context added by WithContext and returns
// the error that was originally wrapped.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(withContext)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// FriendlyError is an error whose message is meant to be read by the user
// as-is, without the internal context that led to it.
type FriendlyError struct {
	msg string
}

// NewFriendlyError formats a FriendlyError.
func NewFriendlyError(template string, args ...interface{}) error {
	return FriendlyError{fmt.Sprintf(template, args...)}
}

func (err FriendlyError) Error() string {
	return err.msg
}

// FriendlyMessage returns the user-facing message.
func (err FriendlyError) FriendlyMessage() string {
	return err.msg
}

type friendlyMessager interface {
	FriendlyMessage() string
}

// GetPrintableMessage returns the message that should be shown to the user
// for err. If any error in the chain has a friendly message, that message is
// used. Otherwise, the full error string including context is returned.
func GetPrintableMessage(err error) string {
	for e := err; e != nil; e = goErrors.Unwrap(e) {
		if friendly, ok := e.(friendlyMessager); ok {
			return friendly.FriendlyMessage()
		}
	}
	return err.Error()
}
