package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ProjectFileName is the per-directory project configuration file.
const ProjectFileName = ".tinysecrets.toml"

// Project holds default project and environment names for a directory tree.
type Project struct {
	Project     string `toml:"project,omitempty"`
	Environment string `toml:"environment,omitempty"`
}

// FindProject walks up from dir looking for ProjectFileName. It returns an
// empty path and a nil error if no file exists up to the filesystem root.
func FindProject(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	for {
		candidate := filepath.Join(dir, ProjectFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// LoadProject decodes the project file at path.
func LoadProject(path string) (*Project, error) {
	var p Project
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &p, nil
}

// SaveProject writes p to path.
func SaveProject(path string, p *Project) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(p); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}

// Resolver picks the project and environment of a command: the explicit
// argument when given, else the project file found from the working directory.
type Resolver struct {
	project *Project
}

// NewResolver loads the project file found from dir, if any.
func NewResolver(dir string) (*Resolver, error) {
	path, err := FindProject(dir)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return &Resolver{}, nil
	}
	p, err := LoadProject(path)
	if err != nil {
		return nil, err
	}
	return &Resolver{project: p}, nil
}

// Project resolves the project name.
func (r *Resolver) Project(arg string) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if r.project != nil && r.project.Project != "" {
		return r.project.Project, nil
	}
	return "", fmt.Errorf("no project specified. Use -p/--project or create a %s file", ProjectFileName)
}

// Environment resolves the environment name.
func (r *Resolver) Environment(arg string) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if r.project != nil && r.project.Environment != "" {
		return r.project.Environment, nil
	}
	return "", fmt.Errorf("no environment specified. Use -e/--environment or create a %s file", ProjectFileName)
}
