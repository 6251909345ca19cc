// Package config loads agent definitions from disk. The engine never touches
// the filesystem itself: the spawner resolves agent_config_file references
// through the Loader interface, so tests and embedders can substitute their
// own source of definitions.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/agentic/internal/validation"
	"github.com/rendis/agentic/pkg/schema"
)

// Loader resolves a config reference into a validated AgentDefinition.
type Loader interface {
	Load(path string) (*schema.AgentDefinition, error)
}

// FileLoader reads JSON agent definitions from the filesystem, validating
// every document before returning it. Paths are resolved relative to Root
// and confined to it: agent_config_file references come from definitions,
// so an absolute path or one that escapes the root is rejected.
type FileLoader struct {
	Root      string
	validator *validation.Validator
}

// NewFileLoader creates a FileLoader rooted at root ("" = process cwd).
func NewFileLoader(root string) (*FileLoader, error) {
	v, err := validation.NewValidator()
	if err != nil {
		return nil, err
	}
	return &FileLoader{Root: root, validator: v}, nil
}

// Load reads, validates and decodes the definition at path.
func (l *FileLoader) Load(path string) (*schema.AgentDefinition, error) {
	resolved, err := l.resolve(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "read config %q: %s", path, err.Error()).WithCause(err)
	}

	def, err := l.validator.ValidateRaw(raw)
	if err != nil {
		if aerr, ok := err.(*schema.AgenticError); ok {
			return nil, aerr.WithDetails(mergeDetail(aerr.Details, "config_file", path))
		}
		return nil, err
	}
	return def, nil
}

// resolve joins path onto Root and verifies the result stays inside it.
func (l *FileLoader) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", schema.NewErrorf(schema.ErrCodeConfig,
			"config path %q must be relative to the config root", path)
	}

	root := l.Root
	if root == "" {
		root = "."
	}
	resolved := filepath.Join(root, path)

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", schema.NewErrorf(schema.ErrCodeConfig,
			"config path %q escapes the config root", path)
	}
	return resolved, nil
}

func mergeDetail(details map[string]any, key string, value any) map[string]any {
	if details == nil {
		details = make(map[string]any, 1)
	}
	details[key] = value
	return details
}
