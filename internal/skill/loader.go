package skill

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hb-chen/skillexec/pkg/logger"
)

// Loader loads skills from a directory
type Loader struct {
	skillsDir string
}

// NewLoader creates a new skill loader
func NewLoader(skillsDir string) *Loader {
	return &Loader{
		skillsDir: skillsDir,
	}
}

// Dir returns the root directory the loader reads from
func (l *Loader) Dir() string {
	return l.skillsDir
}

// LoadAll loads all skills from the skills directory
func (l *Loader) LoadAll() ([]*SkillDefinition, error) {
	var defs []*SkillDefinition

	if _, err := os.Stat(l.skillsDir); os.IsNotExist(err) {
		return defs, fmt.Errorf("skills directory does not exist: %s", l.skillsDir)
	}

	err := filepath.Walk(l.skillsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.Name() == "SKILL.md" {
			def, err := ParseSKILL(path)
			if err != nil {
				// keep loading the rest
				logger.Warnf("Failed to load skill from %s: %v", path, err)
				return nil
			}
			defs = append(defs, def)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk skills directory: %w", err)
	}

	return defs, nil
}

// LoadSkill loads a specific skill by name
func (l *Loader) LoadSkill(name string) (*SkillDefinition, error) {
	skillPath := filepath.Join(l.skillsDir, name, "SKILL.md")

	if _, err := os.Stat(skillPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}

	return ParseSKILL(skillPath)
}

// LoadInto loads every skill under the directory into the registry and
// returns how many were registered
func (l *Loader) LoadInto(r *Registry) (int, error) {
	defs, err := l.LoadAll()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			logger.Warnf("Failed to register skill %s: %v", def.Name(), err)
			continue
		}
		n++
	}
	return n, nil
}
