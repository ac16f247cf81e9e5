package classifier

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

const extensionsKey = "Extensions"

// ImportINI reads an extension table from an INI file with one section per category:
//
//	[image]
//	Extensions = jpg, jpeg, png
//
// Section and key names are case-insensitive. A category without a section keeps
// its built-in extensions.
func ImportINI(filePath string) (Table, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	defaults := DefaultTable()
	groups := make(map[Category][]string, len(Categories))
	for _, cat := range Categories {
		section, err := cfg.GetSection(string(cat))
		if err != nil {
			groups[cat] = defaults.Extensions(cat)
			continue
		}
		groups[cat] = section.Key(extensionsKey).Strings(",")
	}

	// Reject sections that would never be used, they are almost always typos
	for _, name := range cfg.SectionStrings() {
		if strings.EqualFold(name, ini.DefaultSection) {
			continue
		}
		if !IsKnown(Category(name)) {
			return nil, fmt.Errorf("unknown category section [%s]", name)
		}
	}

	return NewTable(groups)
}

// ExportINI writes t in the format read by ImportINI
func ExportINI(t Table, filePath string) error {
	cfg := ini.Empty()

	for _, cat := range Categories {
		section, err := cfg.NewSection(string(cat))
		if err != nil {
			return err
		}
		if _, err := section.NewKey(extensionsKey, strings.Join(t.Extensions(cat), ", ")); err != nil {
			return err
		}
	}

	return cfg.SaveTo(filePath)
}
