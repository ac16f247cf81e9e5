package organizer

import (
	"errors"
	"io/fs"

	"github.com/rs/zerolog"
)

// Ensurer makes sure destination directories exist
type Ensurer struct {
	fs     FileSystem
	logger zerolog.Logger
}

// NewEnsurer creates an Ensurer
func NewEnsurer(fsys FileSystem, logger zerolog.Logger) *Ensurer {
	return &Ensurer{fs: fsys, logger: logger}
}

// Ensure creates path and any missing parents. An existing directory, including one
// created concurrently by someone else, is success. Only the creating call logs.
func (e *Ensurer) Ensure(path string) error {
	info, err := e.fs.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return &IOError{Op: "ensure", Path: path, Err: ErrNotDirectory}
	case !errors.Is(err, fs.ErrNotExist):
		return &IOError{Op: "stat", Path: path, Err: err}
	}

	if err := e.fs.MkdirAll(path, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return &IOError{Op: "mkdir", Path: path, Err: err}
	}

	e.logger.Info().Str("path", path).Msgf("Created directory: %s", path)
	return nil
}
