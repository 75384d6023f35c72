package service

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
)

// ActionCatalog is the set of actions declared by feature packs.
//
//	packs:
//	  - name: crm
//	    actions:
//	      - key: crm.contacts.export
//	        label: Export contacts
//	        default_enabled: false
type ActionCatalog struct {
	Packs []CatalogPack `yaml:"packs"`
}

// CatalogPack groups the actions of one feature pack.
type CatalogPack struct {
	Name    string          `yaml:"name"`
	Actions []CatalogAction `yaml:"actions"`
}

// CatalogAction is a single declared action.
type CatalogAction struct {
	Key            string `yaml:"key"`
	Label          string `yaml:"label"`
	Description    string `yaml:"description"`
	DefaultEnabled bool   `yaml:"default_enabled"`
}

// LoadActionCatalog reads a catalog file.
func LoadActionCatalog(path string) (*ActionCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read action catalog: %w", err)
	}
	return ParseActionCatalog(data)
}

// ParseActionCatalog decodes and validates catalog YAML. Keys must be unique
// across packs.
func ParseActionCatalog(data []byte) (*ActionCatalog, error) {
	var c ActionCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse action catalog: %w", err)
	}
	seen := make(map[string]string)
	for i, p := range c.Packs {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("action catalog: pack %d has no name", i)
		}
		for _, a := range p.Actions {
			key := strings.TrimSpace(a.Key)
			if key == "" {
				return nil, fmt.Errorf("action catalog: pack %s has an action without key", p.Name)
			}
			if other, dup := seen[key]; dup {
				return nil, fmt.Errorf("action catalog: %s declared by %s and %s", key, other, p.Name)
			}
			seen[key] = p.Name
		}
	}
	return &c, nil
}

// Actions flattens the catalog into registry entries.
func (c *ActionCatalog) Actions() []domain.PermissionAction {
	var out []domain.PermissionAction
	for _, p := range c.Packs {
		for _, a := range p.Actions {
			out = append(out, domain.PermissionAction{
				Key:            strings.TrimSpace(a.Key),
				PackName:       strings.TrimSpace(p.Name),
				Label:          a.Label,
				Description:    a.Description,
				DefaultEnabled: a.DefaultEnabled,
			})
		}
	}
	return out
}
