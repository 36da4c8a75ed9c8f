package strata

import (
	"errors"
	"math"
	"testing"
)

// Record concatenation must be associative: (A ++ B) ++ C and A ++ (B ++ C)
// produce identical field name/order sequences.
func TestRecordConcatAssociativity(t *testing.T) {
	a := FieldOf("a", NewPrimitive(Integer))
	b := FieldOf("b", NewPrimitive(String))
	c := FieldOf("c", NewPrimitive(Boolean))

	left := a.Concat(b).Concat(c)
	right := a.Concat(b.Concat(c))
	if !left.Equal(right) {
		t.Fatalf("concat not associative: %s vs %s", left, right)
	}
}

// The empty record is the identity of concatenation on both sides.
func TestRecordConcatEmptyIdentity(t *testing.T) {
	a := FieldOf("x", NewPrimitive(Integer)).Concat(FieldOf("y", NewPrimitive(String)))

	if got := EmptyRecord().Concat(a); !got.Equal(a) {
		t.Fatalf("Empty ++ A got %s want %s", got, a)
	}
	if got := a.Concat(EmptyRecord()); !got.Equal(a) {
		t.Fatalf("A ++ Empty got %s want %s", got, a)
	}
}

func TestRecordFieldOrderPreserved(t *testing.T) {
	r := FieldOf("x", NewPrimitive(Integer)).Concat(FieldOf("y", NewPrimitive(String)))

	names := r.FieldNames()
	if len(names) != 2 || names[0] != "x" || names[1] != "y" {
		t.Fatalf("field order got %v want [x y]", names)
	}
	if r.Fields[0].Schema.Primitive != Integer || r.Fields[1].Schema.Primitive != String {
		t.Fatalf("field schemas not preserved: %s", r)
	}
}

// Duplicate field names across ++ are not caught by Concat itself; they must be
// rejected when the record is finalized into a structure.
func TestDuplicateFieldNamesRejectedAtFinalization(t *testing.T) {
	dup := FieldOf("x", NewPrimitive(Integer)).Concat(FieldOf("x", NewPrimitive(String)))
	ns := NewNamespace("dev")

	_, err := ns.Structure("bad", dup)
	if err == nil {
		t.Fatalf("expected duplicate field name to be rejected")
	}
	var e Error
	if !errors.As(err, &e) || e.Code != DuplicateFieldName {
		t.Fatalf("expected DuplicateFieldName, got %v", err)
	}
}

func TestConcatPanicsOnNonRecord(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Concat on a primitive to panic")
		}
	}()
	NewPrimitive(Integer).Concat(EmptyRecord())
}

func TestSchemaEqual(t *testing.T) {
	m := MapOf(NewPrimitive(String), FieldOf("n", NewPrimitive(Integer)))
	same := MapOf(NewPrimitive(String), FieldOf("n", NewPrimitive(Integer)))
	if !m.Equal(same) {
		t.Fatalf("identical map schemas not equal")
	}
	if m.Equal(MapOf(NewPrimitive(Integer), FieldOf("n", NewPrimitive(Integer)))) {
		t.Fatalf("map schemas with different key schemas reported equal")
	}
	if NewPrimitive(Integer).Equal(NewPrimitive(Boolean)) {
		t.Fatalf("different primitives reported equal")
	}
}

func TestCheckValue(t *testing.T) {
	productValue := FieldOf("name", NewPrimitive(String)).Concat(FieldOf("origin", NewPrimitive(Integer)))
	catalog := MapOf(NewPrimitive(String), productValue)

	good := map[string]any{
		"X": map[string]any{"name": "Acme", "origin": 1},
	}
	if err := catalog.CheckValue(good); err != nil {
		t.Fatalf("CheckValue rejected conforming value: %v", err)
	}

	missingField := map[string]any{
		"X": map[string]any{"name": "Acme"},
	}
	if err := catalog.CheckValue(missingField); err == nil {
		t.Fatalf("expected missing record field to be rejected")
	}

	wrongType := map[string]any{
		"X": map[string]any{"name": "Acme", "origin": "one"},
	}
	if err := catalog.CheckValue(wrongType); err == nil {
		t.Fatalf("expected wrong field type to be rejected")
	}

	if err := catalog.CheckValue("not a map"); err == nil {
		t.Fatalf("expected non-map value to be rejected")
	}
}

func TestInferSchema(t *testing.T) {
	cases := []struct {
		in   any
		want PrimitiveKind
	}{
		{42, Integer},
		{int64(7), Integer},
		{float64(3), Integer}, // JSON integral number
		{"s", String},
		{true, Boolean},
	}
	for _, c := range cases {
		s, err := InferSchema(c.in)
		if err != nil {
			t.Fatalf("InferSchema(%v) failed: %v", c.in, err)
		}
		if s.Kind != KindPrimitive || s.Primitive != c.want {
			t.Fatalf("InferSchema(%v) got %s want %s", c.in, s, c.want)
		}
	}
	if _, err := InferSchema(map[string]any{}); err == nil {
		t.Fatalf("expected InferSchema on a map to fail")
	}
	if _, err := InferSchema(3.14); err == nil {
		t.Fatalf("expected InferSchema on a fractional float to fail")
	}
}

// Unsigned integers past MaxInt64 would wrap negative on the int64 conversion,
// so normalization rejects them instead of corrupting the value.
func TestIntegerNormalizationRejectsUnsignedOverflow(t *testing.T) {
	var e Error
	_, err := normalizePrimitive(Integer, uint64(math.MaxInt64)+1)
	if !errors.As(err, &e) || e.Code != InvalidValue {
		t.Fatalf("expected InvalidValue for overflowing uint64, got %v", err)
	}
	if _, err := normalizePrimitive(Integer, uint64(math.MaxUint64)); err == nil {
		t.Fatalf("expected overflowing uint64 max to be rejected")
	}
	if v, err := normalizePrimitive(Integer, uint64(math.MaxInt64)); err != nil || v != int64(math.MaxInt64) {
		t.Fatalf("uint64(MaxInt64) normalized to %v, %v", v, err)
	}
	if v, err := normalizePrimitive(Integer, uint(7)); err != nil || v != int64(7) {
		t.Fatalf("uint(7) normalized to %v, %v", v, err)
	}
}
