// Package rodberrors defines the error taxonomy shared by every package in
// the dataset engine. Call sites that need to distinguish error kinds use
// errors.Is against the sentinels below rather than string matching.
package rodberrors

import "github.com/cockroachdb/errors"

var (
	// ErrMalformedBlob marks truncated streams, bad magic numbers, bad
	// VarInts, and schema body length mismatches.
	ErrMalformedBlob = errors.New("rodb: malformed blob")

	// ErrUnsupportedVersion marks a header version outside the accepted
	// range.
	ErrUnsupportedVersion = errors.New("rodb: unsupported blob version")

	// ErrSchemaMismatch marks a delta schema incompatible with the
	// resident schema for the same type name.
	ErrSchemaMismatch = errors.New("rodb: schema mismatch")

	// ErrWrongOrigin marks a delta whose origin tag does not equal the
	// engine's current randomized tag.
	ErrWrongOrigin = errors.New("rodb: wrong origin tag")

	// ErrKnownFailingTransition marks an update plan that intersects the
	// failed-transition tracker under double-snapshot mode.
	ErrKnownFailingTransition = errors.New("rodb: known failing transition")

	// ErrIO marks underlying file or mmap failures.
	ErrIO = errors.New("rodb: io error")

	// ErrOutOfRange marks an ordinal or bit-offset read past the
	// populated range.
	ErrOutOfRange = errors.New("rodb: out of range")
)

// Malformedf formats a new ErrMalformedBlob-marked error.
func Malformedf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrMalformedBlob)
}

// UnsupportedVersionf formats a new ErrUnsupportedVersion-marked error.
func UnsupportedVersionf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrUnsupportedVersion)
}

// SchemaMismatchf formats a new ErrSchemaMismatch-marked error.
func SchemaMismatchf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrSchemaMismatch)
}

// WrongOriginf formats a new ErrWrongOrigin-marked error.
func WrongOriginf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrWrongOrigin)
}

// KnownFailingf formats a new ErrKnownFailingTransition-marked error.
func KnownFailingf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrKnownFailingTransition)
}

// IOErrorf wraps err with a message and marks it ErrIO. err must be
// non-nil: like errors.Wrapf, wrapping a nil error returns nil, which
// would turn an intended failure into a silent success. Call sites with
// no underlying error (e.g. an explicit "not implemented" condition)
// should use IOf instead.
func IOErrorf(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrIO)
}

// IOf formats a new ErrIO-marked error with no underlying cause.
func IOf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrIO)
}

// OutOfRangef formats a new ErrOutOfRange-marked error.
func OutOfRangef(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrOutOfRange)
}
