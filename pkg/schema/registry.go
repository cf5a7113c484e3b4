package schema

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	apperrors "github.com/crowdtasker/billing-backend/pkg/errors"
)

type registryKey struct {
	eventName    string
	eventVersion int
}

// Registry holds one compiled JSON Schema per (event name, version) pair and
// fails closed: envelopes for unregistered pairs are rejected.
type Registry struct {
	validators map[registryKey]*jsonschema.Schema
}

// Load walks a directory laid out as <event_name>/<version>.json and compiles
// every schema document it finds.
func Load(directory string) (*Registry, error) {
	reg := &Registry{validators: make(map[registryKey]*jsonschema.Schema)}

	err := filepath.WalkDir(directory, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			return nil
		}

		eventName := filepath.Base(filepath.Dir(path))
		versionText := strings.TrimSuffix(entry.Name(), ".json")
		eventVersion, err := strconv.Atoi(versionText)
		if err != nil {
			return fmt.Errorf("schema file %s: version must be numeric: %w", path, err)
		}

		compiled, err := compileSchema(path)
		if err != nil {
			return err
		}
		reg.validators[registryKey{eventName: eventName, eventVersion: eventVersion}] = compiled
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading schemas from %s: %w", directory, err)
	}
	if len(reg.validators) == 0 {
		return nil, fmt.Errorf("no schemas found under %s", directory)
	}
	return reg, nil
}

func compileSchema(path string) (*jsonschema.Schema, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema %s: %w", path, err)
	}
	defer file.Close()

	doc, err := jsonschema.UnmarshalJSON(file)
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(path, doc); err != nil {
		return nil, fmt.Errorf("register schema %s: %w", path, err)
	}
	compiled, err := compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", path, err)
	}
	return compiled, nil
}

// Has reports whether a schema is registered for the pair.
func (r *Registry) Has(name string, version int) bool {
	_, ok := r.validators[registryKey{eventName: name, eventVersion: version}]
	return ok
}

// Validate checks a decoded envelope against the schema registered for the
// pair. Unknown pairs are rejected, never silently accepted.
func (r *Registry) Validate(name string, version int, envelope any) error {
	validator, ok := r.validators[registryKey{eventName: name, eventVersion: version}]
	if !ok {
		return apperrors.New(
			apperrors.CodeValidation,
			fmt.Sprintf("no schema registered for %s v%d", name, version),
		)
	}
	if err := validator.Validate(envelope); err != nil {
		return apperrors.Wrap(
			apperrors.CodeValidation,
			err,
			fmt.Sprintf("envelope does not conform to %s v%d", name, version),
		)
	}
	return nil
}
