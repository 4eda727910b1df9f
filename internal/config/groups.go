package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
)

// Groups lists the designated main group (the transfer target) and the
// secondary groups a role may be transferred from. The order of Secondary
// is the menu order after the main group.
type Groups struct {
	Main      domain.GroupRef   `yaml:"main"`
	Secondary []domain.GroupRef `yaml:"secondary"`
}

// LoadGroups reads and validates the groups file at path.
func LoadGroups(path string) (Groups, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Groups{}, fmt.Errorf("read groups file: %w", err)
	}
	return ParseGroups(raw)
}

// ParseGroups decodes and validates a groups document.
func ParseGroups(raw []byte) (Groups, error) {
	var g Groups
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return Groups{}, fmt.Errorf("parse groups file: %w", err)
	}
	if err := g.validate(); err != nil {
		return Groups{}, err
	}
	return g, nil
}

func (g Groups) validate() error {
	if g.Main.ID <= 0 {
		return errors.New("groups: main.id must be > 0")
	}
	if len(g.Secondary) == 0 {
		return errors.New("groups: at least one secondary group is required")
	}
	seen := map[int64]struct{}{g.Main.ID: {}}
	for _, s := range g.Secondary {
		if s.ID <= 0 {
			return fmt.Errorf("groups: secondary id %d must be > 0", s.ID)
		}
		if s.ID == g.Main.ID {
			return fmt.Errorf("groups: main group %d cannot also be a secondary group", s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("groups: duplicate group id %d", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
