// Package errs defines the closed set of result codes the driver core can
// produce (spec §6, §7) and the error type that carries them across the
// public API.
package errs

import "fmt"

// Code is a result code returned by every public operation. Ok and MoreData
// are the only non-error values; every other value is an error.
//
// Numeric values are stable across releases so host tooling can decode a
// code without a lookup table, per §6.
type Code uint8

const (
	Ok Code = iota
	MoreData
	IoError
	IncorrectOperation
	NotFat32
	BytesPerSectorNot512
	PathNotFound
	FilePathTooLong
	InvalidFilename
	DeviceFull
	DirNotEmpty
	NotADirectory
	FileAlreadyExists
	TooManyFilesOpen
	InvalidFileIndex
	FileNotOpen
	SeekPastEof
)

var codeNames = [...]string{
	Ok:                   "Ok",
	MoreData:             "MoreData",
	IoError:              "IoError",
	IncorrectOperation:   "IncorrectOperation",
	NotFat32:             "NotFat32",
	BytesPerSectorNot512: "BytesPerSectorNot512",
	PathNotFound:         "PathNotFound",
	FilePathTooLong:      "FilePathTooLong",
	InvalidFilename:      "InvalidFilename",
	DeviceFull:           "DeviceFull",
	DirNotEmpty:          "DirNotEmpty",
	NotADirectory:        "NotADirectory",
	FileAlreadyExists:    "FileAlreadyExists",
	TooManyFilesOpen:     "TooManyFilesOpen",
	InvalidFileIndex:     "InvalidFileIndex",
	FileNotOpen:          "FileNotOpen",
	SeekPastEof:          "SeekPastEof",
}

func (c Code) String() string {
	if int(c) < len(codeNames) && codeNames[c] != "" {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// IsError reports whether c represents a failure. Ok and MoreData are the
// only values that are not errors (§7).
func (c Code) IsError() bool {
	return c != Ok && c != MoreData
}

// DriverError wraps a Code with an optional human-readable message and an
// optional underlying cause, mirroring the teacher's DriverError/WithMessage/
// WrapError shape but carrying this spec's own closed result-code set instead
// of a POSIX errno.
type DriverError struct {
	Code    Code
	message string
	cause   error
}

// New creates a DriverError whose message is the code's default description.
func New(code Code) *DriverError {
	return &DriverError{Code: code, message: code.String()}
}

// Newf creates a DriverError with a custom formatted message.
func Newf(code Code, format string, args ...any) *DriverError {
	return &DriverError{Code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap creates a DriverError that carries an underlying cause (typically an
// I/O failure reported by the host's read/write-sector callbacks).
func Wrap(code Code, cause error) *DriverError {
	return &DriverError{
		Code:    code,
		message: fmt.Sprintf("%s: %s", code.String(), cause.Error()),
		cause:   cause,
	}
}

func (e *DriverError) Error() string {
	return e.message
}

func (e *DriverError) Unwrap() error {
	return e.cause
}

// Is lets errors.Is(err, errs.New(SomeCode)) match any *DriverError carrying
// the same Code, ignoring message/cause. Targets of any other type never
// match.
func (e *DriverError) Is(target error) bool {
	other, ok := target.(*DriverError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// CodeOf extracts the Code from an error produced by this package. Errors
// that did not originate here report IoError, since every non-driver error
// that reaches a caller is, by construction, a host I/O failure that was not
// wrapped (see internal/blockio).
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var de *DriverError
	if e, ok := err.(*DriverError); ok {
		de = e
		return de.Code
	}
	return IoError
}
