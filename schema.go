package strata

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// PrimitiveKind enumerates the base value kinds a schema leaf can declare.
type PrimitiveKind int

const (
	Integer PrimitiveKind = iota
	String
	Boolean
)

func (k PrimitiveKind) String() string {
	switch k {
	case Integer:
		return "integer"
	case String:
		return "string"
	case Boolean:
		return "boolean"
	}
	return fmt.Sprintf("primitive(%d)", int(k))
}

// SchemaKind tags the Schema variant. Consumers switch exhaustively on it;
// adding a new variant requires updating every switch centrally.
type SchemaKind int

const (
	KindPrimitive SchemaKind = iota
	KindMap
	KindRecord
)

// Field is one named, schema-typed member of a record.
type Field struct {
	Name   string `json:"name"`
	Schema Schema `json:"schema"`
}

// Schema describes a data shape independent of any stored data. It is a tagged
// variant: a primitive leaf, a map from a key schema to a value schema, or a
// record holding an ordered field sequence. Schema values are plain immutable
// descriptors; building one performs no I/O.
type Schema struct {
	Kind      SchemaKind    `json:"kind"`
	Primitive PrimitiveKind `json:"primitive,omitempty"`
	// KeySchema & ValueSchema are set for KindMap only.
	KeySchema   *Schema `json:"key_schema,omitempty"`
	ValueSchema *Schema `json:"value_schema,omitempty"`
	// Fields is set for KindRecord only; order is significant.
	Fields []Field `json:"fields,omitempty"`
}

// NewPrimitive returns a leaf schema for the given primitive kind.
func NewPrimitive(kind PrimitiveKind) Schema {
	return Schema{Kind: KindPrimitive, Primitive: kind}
}

// MapOf returns a map schema from key to value. Keys are unique and insertion
// order is irrelevant in the decoded representation.
func MapOf(key Schema, value Schema) Schema {
	return Schema{Kind: KindMap, KeySchema: &key, ValueSchema: &value}
}

// FieldOf wraps a schema into a single-field record. The name is not validated
// here; duplicate or empty names are rejected when the record is finalized into
// a structure.
func FieldOf(name string, schema Schema) Schema {
	return Schema{Kind: KindRecord, Fields: []Field{{Name: name, Schema: schema}}}
}

// EmptyRecord returns the record with zero fields. It is the identity of Concat
// and decodes to the trivial (empty) value.
func EmptyRecord() Schema {
	return Schema{Kind: KindRecord}
}

// Concat returns a record whose field sequence is s's fields followed by other's,
// preserving order. Both operands must be records; Concat panics on misuse since
// it indicates a programming error, not a data condition. A shared field name is
// not rejected here but at structure finalization, where it would make accessor
// derivation ambiguous.
func (s Schema) Concat(other Schema) Schema {
	if s.Kind != KindRecord || other.Kind != KindRecord {
		panic("strata: Concat requires record schemas")
	}
	fields := make([]Field, 0, len(s.Fields)+len(other.Fields))
	fields = append(fields, s.Fields...)
	fields = append(fields, other.Fields...)
	return Schema{Kind: KindRecord, Fields: fields}
}

// Validate checks the schema shape recursively: record field names must be
// non-empty and unique within one record, and map schemas must carry both a key
// and a value schema. It is invoked at structure finalization so malformed
// shapes surface as build-time errors, never at commit time.
func (s Schema) Validate() error {
	switch s.Kind {
	case KindPrimitive:
		switch s.Primitive {
		case Integer, String, Boolean:
			return nil
		}
		return Error{Code: InvalidValue, Err: fmt.Errorf("unknown primitive kind %d", int(s.Primitive))}
	case KindMap:
		if s.KeySchema == nil || s.ValueSchema == nil {
			return Error{Code: InvalidValue, Err: fmt.Errorf("map schema needs both key & value schemas")}
		}
		if err := s.KeySchema.Validate(); err != nil {
			return err
		}
		return s.ValueSchema.Validate()
	case KindRecord:
		seen := make(map[string]struct{}, len(s.Fields))
		for _, f := range s.Fields {
			if f.Name == "" {
				return Error{Code: DuplicateFieldName, Err: fmt.Errorf("record field name can't be empty")}
			}
			if _, ok := seen[f.Name]; ok {
				return Error{Code: DuplicateFieldName, Err: fmt.Errorf("duplicate record field name %q", f.Name), UserData: f.Name}
			}
			seen[f.Name] = struct{}{}
			if err := f.Schema.Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	return Error{Code: InvalidValue, Err: fmt.Errorf("unknown schema kind %d", int(s.Kind))}
}

// Equal reports deep structural equality of two schemas. Compose type checks
// rely on it.
func (s Schema) Equal(o Schema) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case KindPrimitive:
		return s.Primitive == o.Primitive
	case KindMap:
		if s.KeySchema == nil || o.KeySchema == nil || s.ValueSchema == nil || o.ValueSchema == nil {
			return s.KeySchema == o.KeySchema && s.ValueSchema == o.ValueSchema
		}
		return s.KeySchema.Equal(*o.KeySchema) && s.ValueSchema.Equal(*o.ValueSchema)
	case KindRecord:
		if len(s.Fields) != len(o.Fields) {
			return false
		}
		for i := range s.Fields {
			if s.Fields[i].Name != o.Fields[i].Name || !s.Fields[i].Schema.Equal(o.Fields[i].Schema) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders a compact, readable description, e.g.
// record(name:string, origin:integer) or map(string, integer).
func (s Schema) String() string {
	switch s.Kind {
	case KindPrimitive:
		return s.Primitive.String()
	case KindMap:
		if s.KeySchema == nil || s.ValueSchema == nil {
			return "map(?)"
		}
		return fmt.Sprintf("map(%s, %s)", s.KeySchema, s.ValueSchema)
	case KindRecord:
		parts := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			parts[i] = fmt.Sprintf("%s:%s", f.Name, f.Schema)
		}
		return "record(" + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprintf("schema(%d)", int(s.Kind))
}

// FieldNames returns the record's field names in declaration order; nil for
// non-record schemas.
func (s Schema) FieldNames() []string {
	if s.Kind != KindRecord || len(s.Fields) == 0 {
		return nil
	}
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// CheckValue verifies that a materialized Go value conforms to the schema's
// decoded representation: primitives decode to int64/string/bool, maps to a Go
// map whose keys & values conform recursively, records to map[string]any keyed
// by field name with every declared field present. Backends run it on value
// writes so commits never observe shape-invalid data.
func (s Schema) CheckValue(v any) error {
	switch s.Kind {
	case KindPrimitive:
		if _, err := normalizePrimitive(s.Primitive, v); err != nil {
			return err
		}
		return nil
	case KindMap:
		if s.KeySchema == nil || s.ValueSchema == nil {
			return Error{Code: InvalidValue, Err: fmt.Errorf("map schema needs both key & value schemas")}
		}
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || rv.Kind() != reflect.Map {
			return Error{Code: InvalidValue, Err: fmt.Errorf("value for %s is not a map: %T", s, v)}
		}
		iter := rv.MapRange()
		for iter.Next() {
			if err := s.KeySchema.CheckValue(iter.Key().Interface()); err != nil {
				return err
			}
			if err := s.ValueSchema.CheckValue(iter.Value().Interface()); err != nil {
				return err
			}
		}
		return nil
	case KindRecord:
		if len(s.Fields) == 0 {
			// The empty record decodes to the trivial value; anything goes.
			return nil
		}
		m, ok := v.(map[string]any)
		if !ok {
			return Error{Code: InvalidValue, Err: fmt.Errorf("value for %s is not a map[string]any: %T", s, v)}
		}
		for _, f := range s.Fields {
			fv, ok := m[f.Name]
			if !ok {
				return Error{Code: InvalidValue, Err: fmt.Errorf("record value is missing field %q", f.Name), UserData: f.Name}
			}
			if err := f.Schema.CheckValue(fv); err != nil {
				return err
			}
		}
		return nil
	}
	return Error{Code: InvalidValue, Err: fmt.Errorf("unknown schema kind %d", int(s.Kind))}
}

// InferSchema infers a primitive schema from a Go value. It is used to type
// Constant transactions. Only primitive constants are supported; richer
// constants should declare their type explicitly via NewTypedConstant.
func InferSchema(v any) (Schema, error) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return NewPrimitive(Integer), nil
	case string:
		return NewPrimitive(String), nil
	case bool:
		return NewPrimitive(Boolean), nil
	case float64:
		// JSON numbers decode as float64; treat integral ones as integers.
		f := v.(float64)
		if float64(int64(f)) == f {
			return NewPrimitive(Integer), nil
		}
	}
	return Schema{}, Error{Code: UnsupportedConstant, Err: fmt.Errorf("can't infer a schema from %T", v)}
}

// normalizePrimitive coerces a runtime value to the canonical Go representation
// of the primitive kind (int64/string/bool). JSON decoding yields float64 for
// numbers, so integral floats normalize to int64.
func normalizePrimitive(kind PrimitiveKind, v any) (any, error) {
	switch kind {
	case Integer:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint:
			if uint64(n) > math.MaxInt64 {
				break
			}
			return int64(n), nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint64:
			// Values past MaxInt64 would wrap negative on conversion.
			if n > math.MaxInt64 {
				break
			}
			return int64(n), nil
		case float64:
			if float64(int64(n)) == n {
				return int64(n), nil
			}
		}
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, Error{Code: InvalidValue, Err: fmt.Errorf("value %v (%T) is not a valid %s", v, v, kind)}
}
