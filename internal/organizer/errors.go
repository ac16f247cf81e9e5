package organizer

import (
	"errors"
	"fmt"
)

// ErrNotDirectory is returned when a destination path exists but is not a directory
var ErrNotDirectory = errors.New("not a directory")

// IOError reports a failure to prepare a destination directory
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// MoveError reports a failed relocation of Source to Dest
type MoveError struct {
	Source string
	Dest   string
	Err    error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s -> %s: %v", e.Source, e.Dest, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }
