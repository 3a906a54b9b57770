package persona

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrEmptyCatalog is returned when a catalog file declares no personas.
var ErrEmptyCatalog = errors.New("persona catalog is empty")

type catalogFile struct {
	Personas []Persona `toml:"persona"`
}

// LoadCatalog reads personas from a TOML file made of [[persona]] tables.
func LoadCatalog(path string) ([]Persona, error) {
	var file catalogFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode persona catalog %s: %w", path, err)
	}
	return validateCatalog(file.Personas)
}

// ParseCatalog decodes a TOML catalog held in memory.
func ParseCatalog(data string) ([]Persona, error) {
	var file catalogFile
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, fmt.Errorf("decode persona catalog: %w", err)
	}
	return validateCatalog(file.Personas)
}

func validateCatalog(items []Persona) ([]Persona, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCatalog
	}

	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, fmt.Errorf("persona #%d: id is required", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("persona %q declared twice", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(item.Name) == "" {
			return nil, fmt.Errorf("persona %q: name is required", id)
		}
		if strings.TrimSpace(item.Greeting) == "" {
			return nil, fmt.Errorf("persona %q: greeting is required", id)
		}
		items[i].ID = id
	}
	return items, nil
}
