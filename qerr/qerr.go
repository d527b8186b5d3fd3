// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package qerr implements the shared error taxonomy: every failure
// that can abort an operator, fail a task or fail a query is tagged
// with a stable Category so that the stage scheduler
// can decide whether to retry it.
package qerr

import "fmt"

// Category is one of the four error buckets callers can act on
type Category uint8

const (
	// User covers SQL syntax, type mismatch, access denied,
	// division by zero, invalid argument, and similar errors that
	// will recur no matter how many times the query is retried.
	User Category = iota
	// InsufficientResources covers memory-exceeded, too-many-tasks,
	// queue-full and admission rejection.
	InsufficientResources
	// Internal covers invariant violations, codec corruption and
	// scheduler bugs.
	Internal
	// External covers connector failure, network timeout and
	// remote task lost.
	External
)

func (c Category) String() string {
	switch c {
	case User:
		return "USER_ERROR"
	case InsufficientResources:
		return "INSUFFICIENT_RESOURCES"
	case Internal:
		return "INTERNAL_ERROR"
	case External:
		return "EXTERNAL"
	default:
		return fmt.Sprintf("Category(%d)", uint8(c))
	}
}

// Retryable reports whether an error of this category may be
// retried at the stage level: User and External errors propagate
// unchanged; Internal and InsufficientResources errors may be
// retried depending on the query's retry policy.
func (c Category) Retryable() bool {
	return c == Internal || c == InsufficientResources
}

// Code is a stable numeric code used on the wire. Code
// values are never renumbered; new codes are appended.
type Code int32

const (
	CodeUnspecified Code = iota
	CodeSyntaxError
	CodeTypeMismatch
	CodeAccessDenied
	CodeDivisionByZero
	CodeInvalidArgument
	CodeExceededMemory
	CodeTooManyTasks
	CodeQueueFull
	CodeAdmissionRejected
	CodeInvariantViolation
	CodeCodecCorruption
	CodeSchedulerBug
	CodeConnectorFailure
	CodeNetworkTimeout
	CodeRemoteTaskLost
	CodeQueryCanceled
	CodeTransactionAlreadyComplete
	CodeUnsupportedOperation
	CodeTransactionAlreadyActive
	CodeMultipleWriteTargets
)

// Error is the core's single error type. It always carries a
// Category so that callers never need to sniff error strings to
// decide how to react.
type Error struct {
	Category Category
	Code     Code
	Name     string
	Message  string
	Cause    error
}

func New(cat Category, code Code, name, message string) *Error {
	return &Error{Category: cat, Code: code, Name: name, Message: message}
}

func Wrap(cat Category, code Code, name string, cause error) *Error {
	return &Error{Category: cat, Code: code, Name: name, Message: cause.Error(), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Name, e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Name, e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// As a convenience, a handful of constructors exist for the errors
// that arise as named, recurring failure conditions elsewhere in this
// package.

func ExceededMemory(message string) *Error {
	return New(InsufficientResources, CodeExceededMemory, "ExceededMemory", message)
}

func QueryCanceled() *Error {
	return New(User, CodeQueryCanceled, "QUERY_CANCELED", "query was canceled")
}

func TransactionAlreadyComplete() *Error {
	return New(User, CodeTransactionAlreadyComplete, "TransactionAlreadyComplete", "transaction has already reached a terminal state")
}

func UnsupportedOperation(op string) *Error {
	return New(Internal, CodeUnsupportedOperation, "UnsupportedOperation", fmt.Sprintf("%s is not supported here", op))
}

func Internal_(format string, args ...any) *Error {
	return New(Internal, CodeInvariantViolation, "InternalError", fmt.Sprintf(format, args...))
}

// FailureInfo is the user-visible, JSON-serializable failure object
type FailureInfo struct {
	ErrorCode   Code     `json:"errorCode"`
	ErrorName   string   `json:"errorName"`
	ErrorType   Category `json:"errorType"`
	Message     string   `json:"message"`
	Stack       []string `json:"stack,omitempty"`
	Suppressed  []string `json:"suppressed,omitempty"`
}

// ToFailureInfo converts any error into the wire-visible failure
// shape, preserving category and code when the error is (or wraps)
// an *Error and otherwise falling back to Internal.
func ToFailureInfo(err error) FailureInfo {
	var qe *Error
	if asError(err, &qe) {
		return FailureInfo{
			ErrorCode: qe.Code,
			ErrorName: qe.Name,
			ErrorType: qe.Category,
			Message:   qe.Message,
		}
	}
	return FailureInfo{
		ErrorCode: CodeUnspecified,
		ErrorName: "InternalError",
		ErrorType: Internal,
		Message:   err.Error(),
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
