package sandbox

import (
	"errors"
	"fmt"
)

// ErrSandboxViolation matches any *ViolationError via errors.Is.
var ErrSandboxViolation = errors.New("path outside allowed root")

// ErrNotAFile is returned by Read when the path is missing or is not a
// regular file.
var ErrNotAFile = errors.New("is not a file")

// ErrAlreadyExists is returned by an exclusive-create Write when the
// target exists.
var ErrAlreadyExists = errors.New("file already exists")

// ErrInvalidRoot is returned by New and SetRoot for a root that does not
// exist or is not a directory.
var ErrInvalidRoot = errors.New("allowed root must be an existing directory")

// ViolationError reports an attempt to reach outside the allowed root.
type ViolationError struct {
	Path string // as requested
	Root string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("access denied: %s is outside the allowed directory %s", e.Path, e.Root)
}

// Is makes errors.Is(err, ErrSandboxViolation) true.
func (e *ViolationError) Is(target error) bool {
	return target == ErrSandboxViolation
}

// IOError wraps an operating system failure during a guarded operation.
// The original cause is available through errors.Unwrap.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
