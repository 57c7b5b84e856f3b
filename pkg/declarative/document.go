// Package declarative builds specs from YAML documents. Conditions and
// checks are CEL expressions over their declared arguments; the document is
// validated against an embedded JSON schema before anything is compiled.
package declarative

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var documentSchema string

const (
	schemaURL      = "https://checkengine.schemas.local/spec-document.schema.json"
	valueSchemaURL = "https://checkengine.schemas.local/values/%s.schema.json"
)

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader([]byte(documentSchema))); err != nil {
			schemaErr = fmt.Errorf("document schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Document is a declarative spec.
type Document struct {
	Version          string             `yaml:"version"`
	Requires         string             `yaml:"requires,omitempty"`
	IterArgs         IterArgsDoc        `yaml:"iterargs,omitempty"`
	ExpectedValues   []ExpectedValueDoc `yaml:"expected_values,omitempty"`
	Aliases          map[string]string  `yaml:"aliases,omitempty"`
	Conditions       []ConditionDoc     `yaml:"conditions,omitempty"`
	DerivedIterables []DerivedDoc       `yaml:"derived_iterables,omitempty"`
	Sections         []SectionDoc       `yaml:"sections"`
}

// IterArgsDoc maps iterarg names to their iterables, keeping the order the
// document declares them in.
type IterArgsDoc struct {
	Names     []string
	Iterables map[string]string
}

// UnmarshalYAML decodes a mapping node pair by pair.
func (ia *IterArgsDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: iterargs must be a mapping", node.Line)
	}
	ia.Names = make([]string, 0, len(node.Content)/2)
	ia.Iterables = make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name, iterable string
		if err := node.Content[i].Decode(&name); err != nil {
			return err
		}
		if err := node.Content[i+1].Decode(&iterable); err != nil {
			return err
		}
		if _, dup := ia.Iterables[name]; dup {
			return fmt.Errorf("line %d: iterarg %q declared twice", node.Content[i].Line, name)
		}
		ia.Names = append(ia.Names, name)
		ia.Iterables[name] = iterable
	}
	return nil
}

type ExpectedValueDoc struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Default     any            `yaml:"default,omitempty"`
	Schema      map[string]any `yaml:"schema,omitempty"`
}

type ConditionDoc struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description,omitempty"`
	Args         []string `yaml:"args,omitempty"`
	OptionalArgs []string `yaml:"optional_args,omitempty"`
	Expr         string   `yaml:"expr"`
}

type DerivedDoc struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
	Simple    bool   `yaml:"simple,omitempty"`
}

type SectionDoc struct {
	Name   string     `yaml:"name"`
	Order  []string   `yaml:"order,omitempty"`
	Checks []CheckDoc `yaml:"checks"`
}

type CheckDoc struct {
	ID           string   `yaml:"id"`
	Description  string   `yaml:"description,omitempty"`
	Rationale    string   `yaml:"rationale,omitempty"`
	Args         []string `yaml:"args,omitempty"`
	OptionalArgs []string `yaml:"optional_args,omitempty"`
	Conditions   []string `yaml:"conditions,omitempty"`
	Expr         string   `yaml:"expr"`
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load spec document %q: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse spec document %q: %w", path, err)
	}
	return doc, nil
}

// Parse validates data against the document schema and decodes it.
func Parse(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	instance, err := jsonInstance(raw)
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(instance); err != nil {
		return nil, fmt.Errorf("document does not match schema: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// jsonInstance converts a decoded YAML value to the representation the
// schema validator expects.
func jsonInstance(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("document is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("document is not representable as JSON: %w", err)
	}
	return out, nil
}
