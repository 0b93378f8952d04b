package engine

import (
	"errors"
	"fmt"
)

// ErrWriteInProgress is returned by Begin when another write transaction
// is already active. Writers fail fast rather than queue.
var ErrWriteInProgress = errors.New("write transaction already in progress")

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine is closed")

// ErrReadOnly is returned by Begin on a read-only engine.
var ErrReadOnly = errors.New("engine is read-only")

// ErrStoreInUse is returned by Remove while open handles exist for the path.
var ErrStoreInUse = errors.New("store has open handles")

// DuplicateKeyError reports a unique-constraint violation on insert or
// update. Column is the offending SQL column when it can be determined.
type DuplicateKeyError struct {
	Table  string
	Column string
}

// Error implements the error interface.
func (e *DuplicateKeyError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("duplicate key for %s.%s", e.Table, e.Column)
	}
	return fmt.Sprintf("duplicate key in %s", e.Table)
}

// IsDuplicateKey reports whether err is a unique-constraint violation.
// Uses errors.As to handle wrapped errors.
func IsDuplicateKey(err error) bool {
	var de *DuplicateKeyError
	return errors.As(err, &de)
}

// SchemaMismatchError reports an on-disk column whose declared type
// conflicts with the requested schema, or a column missing on a
// read-only open.
type SchemaMismatchError struct {
	Table   string
	Column  string
	Message string
}

// Error implements the error interface.
func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on %s.%s: %s", e.Table, e.Column, e.Message)
}

// IsSchemaMismatch reports whether err is a schema compatibility error.
func IsSchemaMismatch(err error) bool {
	var se *SchemaMismatchError
	return errors.As(err, &se)
}
