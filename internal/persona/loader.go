package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vthunder/charbot/internal/logging"
)

var recordPatterns = []string{"*.json", "*.yaml", "*.yml"}

// LoadDir loads every persona record in dir. A record that cannot be read or
// parsed is logged and skipped; only an unreadable directory is an error.
func LoadDir(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("characters dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("characters dir %s is not a directory", dir)
	}

	var files []string
	for _, pattern := range recordPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to glob characters: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	var entries []Entry
	for _, file := range files {
		id := idFromPath(file)
		if id == "" {
			logging.Warn("persona", "Skipping %s: no id before extension", file)
			continue
		}
		p, err := loadRecord(file)
		if err != nil {
			logging.Warn("persona", "Failed to load %s (id %q): %v", file, id, err)
			continue
		}
		logging.Info("persona", "Loaded character %s with ID %s", p.Name, id)
		entries = append(entries, Entry{ID: id, Persona: p})
	}

	catalog := NewCatalog(entries...)
	logging.Info("persona", "Loaded %d characters from %s", catalog.Len(), dir)
	return catalog, nil
}

// idFromPath returns the file name up to its first dot.
func idFromPath(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

func loadRecord(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, err
	}

	var p Persona
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	default:
		err = json.Unmarshal(data, &p)
	}
	if err != nil {
		return Persona{}, err
	}

	if strings.TrimSpace(p.Name) == "" {
		return Persona{}, errors.New("char_name is required")
	}
	return p, nil
}
