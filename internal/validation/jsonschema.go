// Package validation checks request payloads against JSON Schema documents.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// maxReported bounds how many schema violations are joined into one error.
const maxReported = 5

// Error lists the violations of one payload.
type Error struct {
	Fields []string
	Msgs   []string
}

func (e *Error) Error() string { return strings.Join(e.Msgs, "; ") }

// Schema is a compiled schema, safe for concurrent use.
type Schema struct {
	s *gojsonschema.Schema
}

// Compile parses a schema document.
func Compile(doc string) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{s: s}, nil
}

// MustCompile is Compile for package-level schemas.
func MustCompile(doc string) *Schema {
	s, err := Compile(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// ValidateJSON validates raw JSON. An empty body validates as {}.
func (s *Schema) ValidateJSON(data []byte) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	return s.validate(gojsonschema.NewBytesLoader(data))
}

// Validate validates an already decoded value.
func (s *Schema) Validate(v any) error {
	return s.validate(gojsonschema.NewGoLoader(v))
}

func (s *Schema) validate(doc gojsonschema.JSONLoader) error {
	res, err := s.s.Validate(doc)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if res.Valid() {
		return nil
	}
	ve := &Error{}
	for i, e := range res.Errors() {
		if i >= maxReported {
			break
		}
		ve.Fields = append(ve.Fields, e.Field())
		ve.Msgs = append(ve.Msgs, e.String())
	}
	return ve
}

// IsValidationError reports whether err came from a schema check.
func IsValidationError(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*Schema{}
)

// Register makes s available under name; later registrations replace earlier ones.
func Register(name string, s *Schema) {
	registryMu.Lock()
	registry[name] = s
	registryMu.Unlock()
}

// Lookup returns the schema registered under name.
func Lookup(name string) (*Schema, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	return s, ok
}
