package database

import (
	"errors"
	"fmt"

	"github.com/tomyedwab/sqlext/database/dialect"
)

// ErrNotExecuted is returned by the scanning helpers when the underlying
// statement failed. The statement's own error is wrapped alongside it.
var ErrNotExecuted = errors.New("statement not executed")

// ConnectError is returned when the session cannot be established or
// normalized.
type ConnectError struct {
	Driver string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Driver, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// UnsupportedOptionError reports an option this package refuses to apply,
// such as persistent connections.
type UnsupportedOptionError struct {
	Option string
	Reason string
}

func (e *UnsupportedOptionError) Error() string {
	return fmt.Sprintf("unsupported option %s: %s", e.Option, e.Reason)
}

// PrepareError wraps a driver failure while preparing a statement.
type PrepareError struct {
	SQL string
	Err error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("prepare: %v", e.Err)
}

func (e *PrepareError) Unwrap() error {
	return e.Err
}

// ExecuteError wraps a driver failure while running a statement.
type ExecuteError struct {
	SQL string
	Err error
}

func (e *ExecuteError) Error() string {
	return fmt.Sprintf("execute: %v", e.Err)
}

func (e *ExecuteError) Unwrap() error {
	return e.Err
}

// UnsupportedOperationError is returned by operations the connection's
// dialect cannot perform.
type UnsupportedOperationError struct {
	Operation string
	Dialect   dialect.Dialect
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s is not supported by the %s dialect", e.Operation, e.Dialect)
}

var errPersistent = &UnsupportedOptionError{
	Option: "persistent",
	Reason: "statistics and statement bookkeeping are per connection and cannot survive driver-level reuse",
}
