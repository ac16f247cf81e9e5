package organizer

import (
	"path/filepath"

	"github.com/rs/zerolog"
)

// Deduper remembers which entries of the watched root existed before watching began
type Deduper struct {
	existing map[string]struct{}
}

// NewDeduper lists root once. A failed listing is logged and leaves the set empty,
// so every later add is treated as new.
func NewDeduper(fsys FileSystem, root string, logger zerolog.Logger) *Deduper {
	d := &Deduper{existing: make(map[string]struct{})}

	entries, err := fsys.ReadDir(root)
	if err != nil {
		logger.Error().Err(err).Str("path", root).Msgf("Error reading directory %s", root)
		return d
	}

	for _, e := range entries {
		d.existing[filepath.Join(root, e.Name())] = struct{}{}
	}
	logger.Debug().Int("count", len(d.existing)).Msg("Captured pre-existing entries")
	return d
}

// IsPreExisting reports whether path was present when the snapshot was taken
func (d *Deduper) IsPreExisting(path string) bool {
	if d == nil {
		return false
	}
	_, ok := d.existing[filepath.Clean(path)]
	return ok
}

// Len returns the number of pre-existing entries
func (d *Deduper) Len() int {
	if d == nil {
		return 0
	}
	return len(d.existing)
}
