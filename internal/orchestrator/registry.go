package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dataflowguard/dto/internal/dsl"
)

// ErrSuiteNotFound is returned when no suite file matches the requested
// name.
var ErrSuiteNotFound = errors.New("suite not found")

// Registry resolves suite names to parsed suites by scanning a directory
// of YAML files. Suites are re-read on every resolve so edits take effect
// without a restart.
type Registry struct {
	dir string
}

// NewRegistry builds a registry over the given suite directory.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Resolve loads the suite with the given name. The file's declared suite
// name wins over its filename; a file named <name>.yaml whose suite says
// otherwise does not match.
func (r *Registry) Resolve(name string) (*dsl.TestSuite, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSuiteNotFound, name)
		}
		return nil, fmt.Errorf("read suite dir %s: %w", r.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isSuiteFile(entry.Name()) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read suite %s: %w", path, err)
		}
		expanded, err := dsl.ExpandVariables(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("expand suite %s: %w", path, err)
		}
		suite, err := dsl.ParseSuite(expanded)
		if err != nil {
			return nil, fmt.Errorf("parse suite %s: %w", path, err)
		}
		if suite.Name == name {
			return &suite, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSuiteNotFound, name)
}

// List returns the names of all valid suites in the directory.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read suite dir %s: %w", r.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !isSuiteFile(entry.Name()) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			continue
		}
		expanded, err := dsl.ExpandVariables(raw, nil)
		if err != nil {
			continue
		}
		suite, err := dsl.ParseSuite(expanded)
		if err != nil {
			continue
		}
		names = append(names, suite.Name)
	}
	return names, nil
}

func isSuiteFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
