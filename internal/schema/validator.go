// Package schema validates generation input documents against per-endpoint
// JSON Schemas.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type entry struct {
	pattern string
	schema  *jsonschema.Schema
}

// Validator holds the compiled schemas. A nil or empty Validator accepts
// every object.
type Validator struct {
	entries []entry
}

// NewValidator compiles the schema file configured for each endpoint pattern.
// Patterns use path.Match syntax; when several match, the lexically first
// pattern wins so the choice is stable.
func NewValidator(schemaFiles map[string]string) (*Validator, error) {
	patterns := make([]string, 0, len(schemaFiles))
	for p := range schemaFiles {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid endpoint pattern %q: %w", p, err)
		}
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	v := &Validator{}
	for _, p := range patterns {
		sch, err := compileFile(schemaFiles[p])
		if err != nil {
			return nil, fmt.Errorf("schema for %q: %w", p, err)
		}
		v.entries = append(v.entries, entry{pattern: p, schema: sch})
	}
	return v, nil
}

func compileFile(file string) (*jsonschema.Schema, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema path: %w", err)
	}
	f, err := os.Open(abs) // #nosec G304 -- schema files are operator configured
	if err != nil {
		return nil, fmt.Errorf("failed to open schema: %w", err)
	}
	defer f.Close()

	doc, err := jsonschema.UnmarshalJSON(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	url := "file://" + filepath.ToSlash(abs)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return sch, nil
}

// Validate checks input against the schema of the first pattern matching
// endpoint. Endpoints without a schema only need a non-nil object.
func (v *Validator) Validate(endpoint string, input map[string]any) error {
	if input == nil {
		return fmt.Errorf("input must be a JSON object")
	}
	if v == nil {
		return nil
	}
	for _, e := range v.entries {
		if ok, _ := path.Match(e.pattern, endpoint); !ok {
			continue
		}
		// round trip through the schema library's decoder so numbers are json.Number
		data, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("input is not serializable: %w", err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("input is not valid JSON: %w", err)
		}
		if err := e.schema.Validate(doc); err != nil {
			return fmt.Errorf("input does not match the %s schema: %w", endpoint, err)
		}
		return nil
	}
	return nil
}
