package fsys

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrUnsupported is returned by operations a provider or handle
	// cannot perform.
	ErrUnsupported = errors.ErrUnsupported

	// ErrReadOnly is returned for any write-class operation on a
	// read-only filesystem.
	ErrReadOnly error = ReadOnlyError{}

	// ErrFormat classifies archives whose header is not understood.
	ErrFormat = errors.New("invalid archive format")

	// ErrCorrupt classifies archives whose tables reference data that is
	// not there.
	ErrCorrupt = errors.New("corrupt archive")

	// ErrCrossVolume classifies renames between two volumes.
	ErrCrossVolume = errors.New("rename across volumes")
)

// ReadOnlyError is returned for any write operation
type ReadOnlyError struct{}

func (e ReadOnlyError) Error() string {
	return "filesystem is read-only"
}

// Is makes a ReadOnlyError match fs.ErrPermission too.
func (e ReadOnlyError) Is(target error) bool {
	return target == fs.ErrPermission
}

// FormatError reports a header that does not describe a valid archive.
type FormatError struct {
	Field  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid archive format: %s: %s", e.Field, e.Reason)
}

func (e *FormatError) Unwrap() error { return ErrFormat }

// CorruptError reports a table record that points outside its table or a
// hash chain that never terminates.
type CorruptError struct {
	Table  string
	Offset uint32
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt archive: %s table at offset %#x: %s", e.Table, e.Offset, e.Reason)
}

func (e *CorruptError) Unwrap() error { return ErrCorrupt }

// CrossVolumeError is returned by a rename whose source and destination
// live on different volumes.
type CrossVolumeError struct {
	Old, New string
}

func (e *CrossVolumeError) Error() string {
	return fmt.Sprintf("rename %s %s: paths are on different volumes", e.Old, e.New)
}

func (e *CrossVolumeError) Unwrap() error { return ErrCrossVolume }

// Unsupported returns the error for an operation op on name that the
// caller cannot perform.
func Unsupported(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: ErrUnsupported}
}
