package meridian

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures surfaced by the library.
type ErrorCode string

const (
	// ErrCodeSchema indicates an empty or incompatible schema set.
	ErrCodeSchema ErrorCode = "SCHEMA"

	// ErrCodeFileAccess indicates the store file could not be opened,
	// e.g. a read-only open against a missing file.
	ErrCodeFileAccess ErrorCode = "FILE_ACCESS"

	// ErrCodeTransactionState indicates a mutation outside a write
	// transaction, or a nested/concurrent write attempt.
	ErrCodeTransactionState ErrorCode = "TRANSACTION_STATE"

	// ErrCodePermission indicates a write attempt on a read-only session.
	ErrCodePermission ErrorCode = "PERMISSION"

	// ErrCodeDuplicateKey indicates a primary-key collision at commit.
	ErrCodeDuplicateKey ErrorCode = "DUPLICATE_KEY"

	// ErrCodeTypeNotConfigured indicates an operation on a type absent
	// from the session's schema.
	ErrCodeTypeNotConfigured ErrorCode = "TYPE_NOT_CONFIGURED"

	// ErrCodeInvalidObject indicates access through a deleted or
	// invalidated object handle.
	ErrCodeInvalidObject ErrorCode = "INVALID_OBJECT"

	// ErrCodeInvalidCollection indicates access to an invalidated
	// collection view.
	ErrCodeInvalidCollection ErrorCode = "INVALID_COLLECTION"

	// ErrCodeIndexOutOfRange indicates a negative index or an index past
	// the end of a collection.
	ErrCodeIndexOutOfRange ErrorCode = "INDEX_OUT_OF_RANGE"

	// ErrCodeQueryArgument indicates a missing or mismatched predicate
	// argument.
	ErrCodeQueryArgument ErrorCode = "QUERY_ARGUMENT"

	// ErrCodeClosedSession indicates an operation on a closed session or
	// anything owned by one.
	ErrCodeClosedSession ErrorCode = "CLOSED_SESSION"

	// ErrCodeReadOnlyProperty indicates a write to a primary-key property
	// of an already-persisted object.
	ErrCodeReadOnlyProperty ErrorCode = "READ_ONLY_PROPERTY"

	// ErrCodeTypeMismatch indicates a value whose type does not match the
	// declared property type, including cross-type link assignment.
	ErrCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"
)

// Error is the typed failure surfaced by all meridian operations.
//
// Every error carries enough context (type name, property name, or index)
// to diagnose the failure without a debugger.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Type is the object type name involved, if any.
	Type string

	// Property is the property name involved, if any.
	Property string

	// Index is the offending index for out-of-range errors, -1 otherwise.
	Index int
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Type != "" && e.Property != "":
		return fmt.Sprintf("%s: %s (type=%s, property=%s)", e.Code, e.Message, e.Type, e.Property)
	case e.Type != "":
		return fmt.Sprintf("%s: %s (type=%s)", e.Code, e.Message, e.Type)
	case e.Code == ErrCodeIndexOutOfRange:
		return fmt.Sprintf("%s: %s (index=%d)", e.Code, e.Message, e.Index)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// CodeOf extracts the ErrorCode from an error chain.
// Returns the empty string if the error is not a meridian *Error.
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsClosedSession reports whether err is a closed-session error.
func IsClosedSession(err error) bool {
	return CodeOf(err) == ErrCodeClosedSession
}

// IsInvalidObject reports whether err is an invalidated-object error.
func IsInvalidObject(err error) bool {
	return CodeOf(err) == ErrCodeInvalidObject
}

// IsDuplicateKey reports whether err is a primary-key collision error.
func IsDuplicateKey(err error) bool {
	return CodeOf(err) == ErrCodeDuplicateKey
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Index: -1}
}

func errClosedSession() *Error {
	return newError(ErrCodeClosedSession, "session is closed")
}

func errInvalidObject(typeName string) *Error {
	e := newError(ErrCodeInvalidObject, "object is invalidated or deleted")
	e.Type = typeName
	return e
}

func errInvalidCollection(typeName, detail string) *Error {
	e := newError(ErrCodeInvalidCollection, "access to invalidated collection: %s", detail)
	e.Type = typeName
	return e
}

func errIndexOutOfRange(index, length int) *Error {
	e := newError(ErrCodeIndexOutOfRange, "index %d out of range for collection of length %d", index, length)
	e.Index = index
	return e
}

func errTypeNotConfigured(typeName string) *Error {
	e := newError(ErrCodeTypeNotConfigured, "type is not part of the open schema")
	e.Type = typeName
	return e
}
