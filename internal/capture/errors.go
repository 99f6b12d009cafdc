package capture

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ErrCapFile is matched by every *CapFileError through errors.Is.
var ErrCapFile = errors.New("capture file error")

// ErrorKind classifies a failure reported by the capture reader.
type ErrorKind int

const (
	Other ErrorKind = iota
	UnsupportedEncap
	ReadFailure
	ShortRead
	BadRecord
)

func (k ErrorKind) String() string {
	switch k {
	case UnsupportedEncap:
		return "unsupported encapsulation"
	case ReadFailure:
		return "read failure"
	case ShortRead:
		return "short read"
	case BadRecord:
		return "bad record"
	default:
		return "other"
	}
}

// CapFileError is returned by Reader for anything that goes wrong while
// opening or reading a capture file.
type CapFileError struct {
	Kind     ErrorKind
	Filename string
	Detail   string
	Err      error
}

func (e *CapFileError) Error() string {
	switch e.Kind {
	case UnsupportedEncap:
		return fmt.Sprintf("%q has a packet with a network type that is not supported.\n(%s)", e.Filename, e.Detail)
	case ReadFailure:
		return fmt.Sprintf("An attempt to read from %q failed for some unknown reason.", e.Filename)
	case ShortRead:
		return fmt.Sprintf("%q appears to have been cut short in the middle of a packet.", e.Filename)
	case BadRecord:
		return fmt.Sprintf("%q appears to be damaged or corrupt.\n(%s)", e.Filename, e.Detail)
	default:
		return fmt.Sprintf("An error occurred while reading %q: %s.", e.Filename, e.Detail)
	}
}

func (e *CapFileError) Unwrap() error { return e.Err }

func (e *CapFileError) Is(target error) bool { return target == ErrCapFile }

// IsKind reports whether err is a *CapFileError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var cfe *CapFileError
	if errors.As(err, &cfe) {
		return cfe.Kind == kind
	}
	return false
}

// classify maps a reader error onto a CapFileError. ioErr is the error the
// underlying file produced, if any.
func classify(filename string, err, ioErr error) error {
	switch {
	case ioErr != nil:
		return &CapFileError{Kind: ReadFailure, Filename: filename, Detail: ioErr.Error(), Err: ioErr}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return &CapFileError{Kind: ShortRead, Filename: filename, Err: err}
	case strings.Contains(err.Error(), "exceeds"), strings.Contains(err.Error(), "invalid"):
		return &CapFileError{Kind: BadRecord, Filename: filename, Detail: err.Error(), Err: err}
	default:
		return &CapFileError{Kind: Other, Filename: filename, Detail: err.Error(), Err: err}
	}
}
