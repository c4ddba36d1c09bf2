// Package schema defines the extraction schemas that tell the engine which
// structured fields to derive from a document, and how extracted values are
// normalized before they are published to the index.
package schema

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// FieldType is the declared type of an extracted field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	// TypeDate is a string in YYYY-MM-DD form.
	TypeDate FieldType = "date"
)

// NotAvailable is what the engine is told to answer for absent values.
const NotAvailable = "Not Available"

// Field describes one extracted value.
type Field struct {
	Name        string    `toml:"name"`
	Type        FieldType `toml:"type"`
	Description string    `toml:"description"`
	Required    bool      `toml:"required"`
	// Default replaces missing or unavailable values at publish time.
	Default any `toml:"default,omitempty"`
}

// Schema is a named set of fields plus the instruction given to the engine.
type Schema struct {
	ID          string  `toml:"id"`
	Description string  `toml:"description"`
	Prompt      string  `toml:"prompt,omitempty"`
	Fields      []Field `toml:"fields"`
}

// Parse decodes and validates a TOML schema definition.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a TOML schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return s, nil
}

// Validate checks the schema is usable for extraction.
func (s *Schema) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("schema id must be set")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %s declares no fields", s.ID)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %s has a field without a name", s.ID)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %s declares field %q twice", s.ID, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeDate:
		default:
			return fmt.Errorf("schema %s field %q has unknown type %q", s.ID, f.Name, f.Type)
		}
	}
	return nil
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Instruction is the user prompt sent with the document.
func (s *Schema) Instruction() string {
	if s.Prompt != "" {
		return s.Prompt
	}
	var b strings.Builder
	b.WriteString("You will be provided with a document. Extract the following fields and return them as a single JSON object.\n\n")
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, f.Type, f.Description)
	}
	fmt.Fprintf(&b, "\nUse YYYY-MM-DD for dates. If a value is not present in the document, answer %q for text fields.", NotAvailable)
	return b.String()
}

// Normalize coerces extracted values to their declared types and substitutes
// defaults for missing values. Fields not declared in the schema are kept.
func (s *Schema) Normalize(fields models.FieldMap) models.FieldMap {
	out := fields.Clone()
	if out == nil {
		out = models.FieldMap{}
	}
	for _, f := range s.Fields {
		v, ok := normalizeValue(f, out[f.Name])
		if ok {
			out[f.Name] = v
			continue
		}
		if f.Default != nil {
			out[f.Name] = f.Default
		} else {
			delete(out, f.Name)
		}
	}
	return out
}

func normalizeValue(f Field, v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	if str, isStr := v.(string); isStr {
		str = strings.TrimSpace(str)
		if str == "" || strings.EqualFold(str, NotAvailable) {
			return nil, false
		}
		v = str
	}

	switch f.Type {
	case TypeDate:
		str, ok := v.(string)
		if !ok {
			return nil, false
		}
		return strings.ReplaceAll(str, "/", "-"), true
	case TypeInteger:
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) {
				return nil, false
			}
			return int64(n), true
		case int:
			return int64(n), true
		case int64:
			return n, true
		case string:
			i, err := strconv.ParseInt(strings.ReplaceAll(n, ",", ""), 10, 64)
			if err != nil {
				return nil, false
			}
			return i, true
		}
		return nil, false
	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case string:
			x, err := strconv.ParseFloat(strings.ReplaceAll(n, ",", ""), 64)
			if err != nil {
				return nil, false
			}
			return x, true
		}
		return nil, false
	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			x, err := strconv.ParseBool(b)
			if err != nil {
				return nil, false
			}
			return x, true
		}
		return nil, false
	default:
		if str, ok := v.(string); ok {
			return str, true
		}
		return fmt.Sprint(v), true
	}
}
