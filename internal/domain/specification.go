// Package domain holds the value types shared by every pipeline stage.
package domain

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// FileTask is one planned file of the target project.
type FileTask struct {
	Path        string `json:"path" jsonschema:"path of the file relative to the project root, e.g. src/app/cli.py"`
	Description string `json:"description" jsonschema:"what this file does"`
}

// FunctionTask describes a function the project should expose. It is
// informational only; nothing enforces it.
type FunctionTask struct {
	Name      string `json:"name" jsonschema:"name of the function"`
	Signature string `json:"signature" jsonschema:"full function signature"`
	Behavior  string `json:"behavior" jsonschema:"what the function should do"`
}

// Specification is the project blueprint produced once by the design stage.
// Treat it as immutable after Validate succeeds; re-derivation replaces it.
type Specification struct {
	ProjectName   string         `json:"project_name" jsonschema:"short name of the project"`
	FileStructure []FileTask     `json:"file_structure" jsonschema:"every file to create, including tests and README"`
	Functions     []FunctionTask `json:"functions" jsonschema:"core logic functions"`
	SetupCommands []string       `json:"setup_commands" jsonschema:"shell commands that prepare the environment"`
	EnvVars       []string       `json:"env_vars,omitempty" jsonschema:"names of required environment variables"`
}

// Validate checks the structural invariants of the specification.
func (s *Specification) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: specification is nil", ErrSpecificationMalformed)
	}
	if len(s.FileStructure) == 0 {
		return fmt.Errorf("%w: file_structure is empty", ErrSpecificationMalformed)
	}
	for i, ft := range s.FileStructure {
		if _, err := CleanRelativePath(ft.Path); err != nil {
			return fmt.Errorf("%w: file_structure[%d]: %v", ErrSpecificationMalformed, i, err)
		}
	}
	return nil
}

// Paths returns the cleaned file task paths in planned order.
func (s *Specification) Paths() []string {
	paths := make([]string, 0, len(s.FileStructure))
	for _, ft := range s.FileStructure {
		p, err := CleanRelativePath(ft.Path)
		if err != nil {
			continue
		}
		paths = append(paths, p)
	}
	return paths
}

// HasPath reports whether p names one of the planned files.
func (s *Specification) HasPath(p string) bool {
	clean, err := CleanRelativePath(p)
	if err != nil {
		return false
	}
	for _, known := range s.Paths() {
		if known == clean {
			return true
		}
	}
	return false
}

// MarshalIndent renders the specification the way it is persisted as
// spec.json at the artifact root.
func (s *Specification) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ParseSpecification decodes and validates a serialized specification.
func ParseSpecification(data []byte) (*Specification, error) {
	var spec Specification
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpecificationMalformed, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// CleanRelativePath normalizes a slash-separated relative path and rejects
// anything that is empty, absolute, or climbs out of the root.
func CleanRelativePath(p string) (string, error) {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscapesRoot)
	}
	if strings.ContainsRune(trimmed, 0) {
		return "", fmt.Errorf("%w: null byte in path", ErrPathEscapesRoot)
	}
	slashed := filepath.ToSlash(trimmed)
	if path.IsAbs(slashed) || filepath.IsAbs(trimmed) || filepath.VolumeName(trimmed) != "" {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathEscapesRoot, p)
	}
	clean := path.Clean(slashed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, p)
	}
	return clean, nil
}
