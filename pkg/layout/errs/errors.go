// Package errs defines the sentinel error values and carrying-data error
// types raised by the layout engine while packing and unpacking descriptor
// trees.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConstraintViolation is raised when a value fails a range, size, or
	// schema shape check (integer out of range, oversized string, unknown
	// enum symbol in strict mode, unmapped schema keys).
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrUnknownKey is raised when a struct pack call is given a key that is
	// not a declared field name.
	ErrUnknownKey = errors.New("unknown key")

	// ErrUnknownMember is raised when a union accessor or union pack call is
	// given an undeclared member name.
	ErrUnknownMember = errors.New("unknown member")

	// ErrUnknownField is raised when a bitfield accessor is given an
	// undeclared sub-field name.
	ErrUnknownField = errors.New("unknown field")

	// ErrMissingBytes is the sentinel wrapped by MissingBytesError; match it
	// with errors.Is rather than constructing it directly.
	ErrMissingBytes = errors.New("missing bytes")

	// ErrTerminatorNotFound is raised by Terminated and terminated arrays
	// when the input ends before the terminator is located.
	ErrTerminatorNotFound = errors.New("terminator not found")

	// ErrConflictingMembers is raised when two members or fields sharing one
	// namespace collide: a lifted struct field name already declared by an
	// outer struct, or a union pack call's value map naming more than one
	// member.
	ErrConflictingMembers = errors.New("conflicting members")

	// ErrUnsupportedOperation is raised by Read/PRead on a variable-size
	// descriptor, and by writes to a frozen union.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrBuildError is the sentinel wrapped by BuildError; match it with
	// errors.Is rather than constructing it directly.
	ErrBuildError = errors.New("build error")
)

// MissingBytesError reports that a decoder needed Need additional bytes
// that the input buffer did not supply.
type MissingBytesError struct {
	Need int
}

// NewMissingBytes constructs a MissingBytesError for the given shortfall.
func NewMissingBytes(need int) error {
	return &MissingBytesError{Need: need}
}

func (e *MissingBytesError) Error() string {
	return fmt.Sprintf("missing bytes: need %d more", e.Need)
}

// Is makes errors.Is(err, ErrMissingBytes) succeed for any MissingBytesError.
func (e *MissingBytesError) Is(target error) bool {
	return target == ErrMissingBytes
}

// BuildError reports a layout construction failure (duplicate field name,
// illegal slot mix, invalid bitfield width, and similar schema-authoring
// mistakes caught at Build() time rather than at pack/unpack time).
type BuildError struct {
	Context string
	Err     error
}

// NewBuildError wraps cause with a human-readable construction context.
func NewBuildError(context string, cause error) error {
	return &BuildError{Context: context, Err: cause}
}

func (e *BuildError) Error() string {
	if e.Err == nil {
		return e.Context
	}
	return fmt.Sprintf("%s: %v", e.Context, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrBuildError) succeed for any BuildError.
func (e *BuildError) Is(target error) bool {
	return target == ErrBuildError
}
