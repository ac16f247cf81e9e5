package organizer

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/your-org/fileorganizer/internal/classifier"
)

// copyTempExtension marks a cross-device copy that has not been renamed into place
const copyTempExtension = ".part"

// Result describes what Move did
type Result struct {
	Source   string
	Dest     string
	Category classifier.Category
	Moved    bool
}

// Mover files a path under root/<category>
type Mover struct {
	root    string
	table   classifier.Table
	fs      FileSystem
	ensurer *Ensurer
	logger  zerolog.Logger
}

// NewMover creates a Mover for root. A nil table uses the built-in extension groups.
func NewMover(root string, table classifier.Table, fsys FileSystem, ensurer *Ensurer, logger zerolog.Logger) *Mover {
	if table == nil {
		table = classifier.DefaultTable()
	}
	return &Mover{
		root:    filepath.Clean(root),
		table:   table,
		fs:      fsys,
		ensurer: ensurer,
		logger:  logger,
	}
}

// Move relocates source into its category directory. Empty paths, unclassified files
// and files already in place are no-ops. Failures are logged and returned, never
// retried.
func (m *Mover) Move(source string) (Result, error) {
	if source == "" {
		return Result{}, nil
	}

	source = filepath.Clean(source)
	name := filepath.Base(source)
	res := Result{
		Source:   source,
		Category: m.table.Classify(classifier.FileExtension(name)),
	}
	if res.Category == classifier.Unclassified {
		m.logger.Debug().Str("path", source).Msgf("Leaving unclassified file in place: %s", source)
		return res, nil
	}

	dir := filepath.Join(m.root, string(res.Category))
	if err := m.ensurer.Ensure(dir); err != nil {
		m.logger.Error().Err(err).Str("path", dir).Msgf("Error creating directory %s", dir)
		return res, err
	}

	res.Dest = filepath.Join(dir, name)
	if res.Dest == source {
		return res, nil
	}

	if err := m.rename(source, res.Dest); err != nil {
		moveErr := &MoveError{Source: source, Dest: res.Dest, Err: err}
		m.logger.Error().
			Err(err).
			Str("source", source).
			Str("dest", res.Dest).
			Msgf("Error moving file %s", source)
		return res, moveErr
	}

	res.Moved = true
	m.logger.Info().
		Str("source", source).
		Str("dest", res.Dest).
		Str("category", string(res.Category)).
		Msgf("Moved: %s -> %s", source, res.Dest)
	return res, nil
}

// rename falls back to copy and remove when source and dest are on different devices
func (m *Mover) rename(source, dest string) error {
	err := m.fs.Rename(source, dest)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	m.logger.Debug().Str("source", source).Str("dest", dest).Msg("Cross-device rename, copying instead")
	if err := m.copyAcross(source, dest); err != nil {
		return fmt.Errorf("cross-device copy: %w", err)
	}
	return m.fs.Remove(source)
}

// copyAcross copies source to a temporary name beside dest, gives it the source's
// permissions and renames it onto dest. dest is not touched unless the copy completed.
func (m *Mover) copyAcross(source, dest string) error {
	info, err := m.fs.Stat(source)
	if err != nil {
		return err
	}

	tempPath := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+"."+uuid.NewString()[:8]+copyTempExtension)
	if err := m.copyFile(source, tempPath); err != nil {
		m.fs.Remove(tempPath)
		return err
	}
	if err := m.fs.Chmod(tempPath, info.Mode().Perm()); err != nil {
		m.fs.Remove(tempPath)
		return err
	}
	if err := m.fs.Rename(tempPath, dest); err != nil {
		m.fs.Remove(tempPath)
		return err
	}
	return nil
}

func (m *Mover) copyFile(src, dst string) error {
	in, err := m.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := m.fs.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
