package strata

import (
	"context"
	"fmt"
	"reflect"
)

// StructureReader supplies the materialized value of a structure at a single
// consistent snapshot. Cluster backends implement it; the evaluator is the only
// caller.
type StructureReader interface {
	// Read returns the structure's current materialized value.
	Read(ctx context.Context, st *Structure) (any, error)
}

// StructureReaderFunc adapts a function to the StructureReader interface.
type StructureReaderFunc func(ctx context.Context, st *Structure) (any, error)

func (f StructureReaderFunc) Read(ctx context.Context, st *Structure) (any, error) {
	return f(ctx, st)
}

// Evaluate interprets the pipeline left-to-right along its Compose chain as a
// single unit: each stage's produced value feeds the next stage's source, the
// first failure short-circuits the whole pipeline, and no partial prefix is
// externally visible. Evaluation is pure apart from reader.Read, which resolves
// AccessStructure roots against the cluster's snapshot.
//
// Data-level failures come back as Error values drawn from the pipeline's
// declared error kinds; reader failures pass through untouched so cluster
// backends can keep their infrastructure channel distinct.
func (t *Transaction) Evaluate(ctx context.Context, reader StructureReader) (any, error) {
	return t.eval(ctx, nil, reader)
}

func (t *Transaction) eval(ctx context.Context, source any, reader StructureReader) (any, error) {
	switch t.op {
	case OpConstant:
		return t.constant, nil

	case OpAccessStructure:
		if reader == nil {
			return nil, &DistributedError{Op: "evaluate", Err: fmt.Errorf("no structure reader supplied")}
		}
		return reader.Read(ctx, t.structure)

	case OpAccessField:
		record, ok := source.(map[string]any)
		if !ok {
			return nil, Error{Code: InvalidValue, Err: fmt.Errorf("source of field %q is not a record value: %T", t.field.Name, source)}
		}
		v, ok := record[t.field.Name]
		if !ok {
			return nil, Error{Code: InvalidValue, Err: fmt.Errorf("record value is missing field %q", t.field.Name), UserData: t.field.Name}
		}
		return v, nil

	case OpGetMapValue:
		return lookupMapValue(source, t.key, t.source.Schema)

	case OpExtractSome:
		opt, ok := source.(Optional[any])
		if !ok {
			return nil, Error{Code: InvalidValue, Err: fmt.Errorf("source of some is not an optional: %T", source)}
		}
		if !opt.Valid {
			return nil, Error{Code: AbsentValue, Err: fmt.Errorf("optional value is absent")}
		}
		return opt.Value, nil

	case OpCompose:
		v, err := t.first.eval(ctx, source, reader)
		if err != nil {
			// Short-circuit: the second stage is never evaluated.
			return nil, err
		}
		return t.second.eval(ctx, v, reader)
	}
	return nil, Error{Code: Unknown, Err: fmt.Errorf("unknown transaction op %d", int(t.op))}
}

// lookupMapValue finds key in a map-typed source value. Absence is encoded as
// an empty Optional, never as a failure. Keys are matched after normalization
// through the map's key schema: primitive keys normalize to int64/string/bool,
// any other key shape is canonicalized through the JSON marshaler so that even
// record-keyed maps support lookup.
func lookupMapValue(source any, key any, mapSchema *Schema) (any, error) {
	rv := reflect.ValueOf(source)
	if !rv.IsValid() || rv.Kind() != reflect.Map {
		return nil, Error{Code: InvalidValue, Err: fmt.Errorf("source of get is not a map value: %T", source)}
	}
	var keySchema *Schema
	if mapSchema != nil {
		keySchema = mapSchema.KeySchema
	}
	want, err := canonicalKey(key, keySchema)
	if err != nil {
		return nil, err
	}
	iter := rv.MapRange()
	for iter.Next() {
		have, err := canonicalKey(iter.Key().Interface(), keySchema)
		if err != nil {
			return nil, err
		}
		if have == want {
			return Some[any](iter.Value().Interface()), nil
		}
	}
	return None[any](), nil
}

// canonicalKey maps a key value to a comparable canonical form.
func canonicalKey(key any, keySchema *Schema) (any, error) {
	if keySchema != nil && keySchema.Kind == KindPrimitive {
		return normalizePrimitive(keySchema.Primitive, key)
	}
	// Non-primitive keys (e.g. record-typed) are canonicalized as JSON text.
	ba, err := NewMarshaler().Marshal(key)
	if err != nil {
		return nil, Error{Code: InvalidValue, Err: fmt.Errorf("can't canonicalize map key: %w", err)}
	}
	return string(ba), nil
}
