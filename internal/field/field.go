// Package field indexes the decoded protocol tree of a single frame and
// answers name, ancestry and predicate queries over it.
package field

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// RootID is the ParentID of first-level fields.
	RootID = -1

	// NoSource is the SourceID of fields that do not point into a data source.
	NoSource = -1

	// MaxInlineValueLength is the largest value rendered inline in a
	// document. Longer values are rendered as a reference into their blob.
	MaxInlineValueLength = 256
)

var (
	// ErrInvalidArgument reports a caller error: a nil or foreign parent,
	// a nil callback, or too many arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInconsistent reports an internal consistency failure between the
	// index and the tree it was built from. It is not recoverable.
	ErrInconsistent = errors.New("internal consistency error")

	// ErrFieldDoesNotMatch is matched by every *MatchError.
	ErrFieldDoesNotMatch = errors.New("field does not match query")

	// Stop may be returned by a Visitor to end an iteration early without
	// an error.
	Stop = errors.New("stop iteration")
)

// MatchError is returned by a Matcher that cannot evaluate a field.
type MatchError struct {
	Field  *Field
	Reason string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("field %s does not match query: %s", e.Field, e.Reason)
}

func (e *MatchError) Is(target error) bool { return target == ErrFieldDoesNotMatch }

// Field is one indexed node of a frame's protocol tree. Fields are owned by
// their Index and are read-only.
type Field struct {
	Ordinal      int
	Name         string
	DisplayName  string
	DisplayValue string
	IsProtocol   bool
	Value        []byte
	Offset       int
	Length       int
	SourceID     int
	ParentID     int

	owner *Index
}

// ValueLength is the length of the decoded value.
func (f *Field) ValueLength() int { return len(f.Value) }

// HasValue reports whether the field carries a value that is rendered.
func (f *Field) HasValue() bool { return !f.IsProtocol && len(f.Value) > 0 }

// IsRoot reports whether the field hangs directly off the tree root.
func (f *Field) IsRoot() bool { return f.ParentID == RootID }

// Key is the name used for the field in documents: its name, or
// <Field#ordinal> when the name is empty.
func (f *Field) Key() string {
	if f.Name == "" {
		return fmt.Sprintf("<Field#%d>", f.Ordinal)
	}
	return f.Name
}

func (f *Field) String() string {
	if f == nil {
		return "<nil>"
	}
	return f.Key()
}
