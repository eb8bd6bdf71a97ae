// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package events

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind is the value kind of a payload field.
type Kind int

const (
	// KindString is any string.
	KindString Kind = iota
	// KindInt is an integer.
	KindInt
	// KindBool is a boolean.
	KindBool
	// KindDecimal is a decimal carried as a string, e.g. "10000.00".
	KindDecimal
	// KindEnum is a string from a closed set.
	KindEnum
	// KindList is a list of typed rows.
	KindList
	// KindMap is a free-form object.
	KindMap
)

// Field describes one payload field.
type Field struct {
	Kind Kind
	// Enum lists the closed set for KindEnum.
	Enum []string
	// Rows describes each element for KindList.
	Rows *Schema
}

// Schema describes the payload contract of one event type. Events are a
// long-lived on-disk contract: adding optional fields is safe, renaming
// is a breaking change, and unknown fields are an error.
type Schema struct {
	Required map[string]Field
	Optional map[string]Field
}

// Validate checks presence, kinds, and closed sets, and rejects unknown
// fields.
func (schema *Schema) Validate(data map[string]interface{}) error {
	for name := range data {
		_, req := schema.Required[name]
		_, opt := schema.Optional[name]
		if !req && !opt {
			return ErrValidation.New("unknown field %q", name)
		}
	}
	for name, field := range schema.Required {
		value, ok := data[name]
		if !ok {
			return ErrValidation.New("missing required field %q", name)
		}
		if err := field.check(name, value); err != nil {
			return err
		}
	}
	for name, field := range schema.Optional {
		value, ok := data[name]
		if !ok || value == nil {
			continue
		}
		if err := field.check(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (field Field) check(name string, value interface{}) error {
	switch field.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return ErrValidation.New("field %q must be a string, got %T", name, value)
		}
	case KindInt:
		if !isInteger(value) {
			return ErrValidation.New("field %q must be an integer, got %T", name, value)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return ErrValidation.New("field %q must be a boolean, got %T", name, value)
		}
	case KindDecimal:
		s, ok := value.(string)
		if !ok {
			return ErrValidation.New("field %q must be a decimal string, got %T", name, value)
		}
		if _, err := decimal.NewFromString(s); err != nil {
			return ErrValidation.New("field %q is not a valid decimal: %q", name, s)
		}
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return ErrValidation.New("field %q must be a string, got %T", name, value)
		}
		for _, allowed := range field.Enum {
			if s == allowed {
				return nil
			}
		}
		return ErrValidation.New("field %q value %q not in %v", name, s, field.Enum)
	case KindList:
		rows, err := asRows(value)
		if err != nil {
			return ErrValidation.New("field %q: %v", name, err)
		}
		for i, row := range rows {
			if field.Rows == nil {
				continue
			}
			if err := field.Rows.Validate(row); err != nil {
				return ErrValidation.New("field %q row %d: %v", name, i, err)
			}
		}
	case KindMap:
		if _, ok := value.(map[string]interface{}); !ok {
			return ErrValidation.New("field %q must be an object, got %T", name, value)
		}
	}
	return nil
}

func isInteger(value interface{}) bool {
	switch v := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return v == float64(int64(v))
	case json.Number:
		_, err := v.Int64()
		return err == nil
	default:
		return false
	}
}

func asRows(value interface{}) ([]map[string]interface{}, error) {
	switch list := value.(type) {
	case []map[string]interface{}:
		return list, nil
	case []interface{}:
		rows := make([]map[string]interface{}, 0, len(list))
		for _, item := range list {
			row, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("element must be an object, got %T", item)
			}
			rows = append(rows, row)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("must be a list, got %T", value)
	}
}

// Registry maps event type strings to their payload schemas. It is
// populated at startup and read-only afterwards.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds a schema for the event type. Registering a type twice
// is a programmer error.
func (registry *Registry) Register(eventType string, schema *Schema) {
	if _, exists := registry.schemas[eventType]; exists {
		panic(fmt.Sprintf("events: schema for %q registered twice", eventType))
	}
	registry.schemas[eventType] = schema
}

// Lookup returns the schema for the event type.
func (registry *Registry) Lookup(eventType string) (*Schema, bool) {
	schema, ok := registry.schemas[eventType]
	return schema, ok
}

// Types returns every registered event type.
func (registry *Registry) Types() []string {
	types := make([]string, 0, len(registry.schemas))
	for eventType := range registry.schemas {
		types = append(types, eventType)
	}
	return types
}
