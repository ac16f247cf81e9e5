package classifier

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Category is the bucket a file is filed under
type Category string

const (
	Image        Category = "image"
	Doc          Category = "doc"
	Video        Category = "video"
	Audio        Category = "audio"
	Unclassified Category = "unclassified"
)

// Categories lists the categories that have a destination directory, in lookup order
var Categories = []Category{Video, Audio, Image, Doc}

// Table maps a lower-cased extension (no leading dot) to its category
type Table map[string]Category

// DefaultTable returns the built-in extension groups
func DefaultTable() Table {
	groups := map[Category][]string{
		Image: {"jpg", "jpeg", "png", "gif", "bmp"},
		Doc:   {"pdf", "doc", "docx", "txt", "ppt", "pptx"},
		Video: {"mp4", "avi", "mkv", "mov"},
		Audio: {"mp3", "wav", "aac", "flac"},
	}

	t, err := NewTable(groups)
	if err != nil {
		// The built-in groups are disjoint
		panic(err)
	}
	return t
}

// NewTable builds a table from extension groups. An extension listed under more than
// one category is an error.
func NewTable(groups map[Category][]string) (Table, error) {
	t := make(Table)
	for cat, exts := range groups {
		if !IsKnown(cat) {
			return nil, fmt.Errorf("unknown category %q", cat)
		}
		for _, ext := range exts {
			key := normalize(ext)
			if key == "" {
				continue
			}
			if prev, ok := t[key]; ok && prev != cat {
				return nil, fmt.Errorf("extension %q listed under both %s and %s", key, prev, cat)
			}
			t[key] = cat
		}
	}
	return t, nil
}

// Classify resolves the category of an extension given without its leading dot.
// Case is ignored; anything not in the table is Unclassified.
func (t Table) Classify(ext string) Category {
	if cat, ok := t[strings.ToLower(ext)]; ok {
		return cat
	}
	return Unclassified
}

// Extensions returns the sorted extensions filed under cat
func (t Table) Extensions(cat Category) []string {
	var exts []string
	for ext, c := range t {
		if c == cat {
			exts = append(exts, ext)
		}
	}
	sort.Strings(exts)
	return exts
}

var defaultTable = DefaultTable()

// Classify resolves ext against the built-in table
func Classify(ext string) Category {
	return defaultTable.Classify(ext)
}

// FileExtension returns the part of a file name after its last dot. Dotfiles such as
// ".pdf" and names without a dot have no extension.
func FileExtension(name string) string {
	name = filepath.Base(name)
	ext := filepath.Ext(name)
	if ext == name {
		return ""
	}
	return strings.TrimPrefix(ext, ".")
}

// IsKnown reports whether cat has a destination directory
func IsKnown(cat Category) bool {
	for _, c := range Categories {
		if c == cat {
			return true
		}
	}
	return false
}

func normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
