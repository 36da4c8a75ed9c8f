package strata

import (
	"context"
	"errors"
	"testing"
)

// fixedReader resolves every structure to the same value and counts Read calls.
type fixedReader struct {
	value any
	err   error
	reads int
}

func (r *fixedReader) Read(ctx context.Context, st *Structure) (any, error) {
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	return r.value, nil
}

func catalogData() map[string]any {
	return map[string]any{
		"X": map[string]any{"name": "Acme", "origin": 1},
	}
}

// get("a") evaluates to Some, get("z") to None, and only some converts the
// absence into a failure.
func TestMapLookupSemantics(t *testing.T) {
	st, _ := newCatalogStructure(t)
	ctx := context.Background()
	reader := &fixedReader{value: catalogData()}

	withHit, _ := st.Access().Get("X")
	v, err := withHit.Evaluate(ctx, reader)
	if err != nil {
		t.Fatalf("Evaluate(get X) failed: %v", err)
	}
	opt, ok := v.(Optional[any])
	if !ok || !opt.Valid {
		t.Fatalf("get X got %#v want present optional", v)
	}

	withMiss, _ := st.Access().Get("Z")
	v, err = withMiss.Evaluate(ctx, reader)
	if err != nil {
		t.Fatalf("Evaluate(get Z) failed: %v", err)
	}
	if opt := v.(Optional[any]); opt.Valid {
		t.Fatalf("get Z got present optional, want absent")
	}

	hitSome, _ := withHit.Some()
	v, err = hitSome.Evaluate(ctx, reader)
	if err != nil {
		t.Fatalf("Evaluate(get X + some) failed: %v", err)
	}
	record := v.(map[string]any)
	if record["name"] != "Acme" {
		t.Fatalf("extracted record got %v", record)
	}

	missSome, _ := withMiss.Some()
	_, err = missSome.Evaluate(ctx, reader)
	var e Error
	if !errors.As(err, &e) || e.Code != AbsentValue {
		t.Fatalf("get Z + some expected AbsentValue, got %v", err)
	}
}

// A failing first stage short-circuits the pipeline: the second stage never
// runs. The second stage here would fail with InvalidValue if it were fed the
// skipped stage's nil output, so observing AbsentValue proves it was skipped.
func TestComposeShortCircuitsOnFailure(t *testing.T) {
	productValue := FieldOf("name", NewPrimitive(String)).Concat(FieldOf("origin", NewPrimitive(Integer)))
	ns := NewNamespace("dev")
	st, _ := ns.Structure("productCatalog", MapOf(NewPrimitive(String), productValue))
	rec, _ := ns.Structure("product", productValue)

	failing, _ := st.Access().Get("missing")
	failing, _ = failing.Some()
	tx, err := Compose(failing, rec.FieldAccessors()[0])
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	reader := &fixedReader{value: catalogData()}
	_, err = tx.Evaluate(context.Background(), reader)
	var e Error
	if !errors.As(err, &e) || e.Code != AbsentValue {
		t.Fatalf("expected AbsentValue from the failing first stage, got %v", err)
	}
	if reader.reads != 1 {
		t.Fatalf("reader reads got %d want 1", reader.reads)
	}
}

// Reader failures pass through untouched so cluster backends keep their
// infrastructure channel distinct from data-level errors.
func TestReaderErrorsPassThrough(t *testing.T) {
	st, _ := newCatalogStructure(t)
	infra := &DistributedError{Op: "commit", Err: errors.New("backend down")}
	reader := &fixedReader{err: infra}

	tx, _ := st.Access().Get("X")
	_, err := tx.Evaluate(context.Background(), reader)
	var de *DistributedError
	if !errors.As(err, &de) || de != infra {
		t.Fatalf("expected reader error to pass through, got %v", err)
	}
}

func TestConstantEvaluatesWithoutReader(t *testing.T) {
	c, _ := NewConstant(int64(7))
	v, err := c.Evaluate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Evaluate(constant) failed: %v", err)
	}
	if v != int64(7) {
		t.Fatalf("constant got %v want 7", v)
	}
}

// Field accessors project out of record values produced upstream.
func TestFieldAccessorPipeline(t *testing.T) {
	productValue := FieldOf("name", NewPrimitive(String)).Concat(FieldOf("origin", NewPrimitive(Integer)))
	ns := NewNamespace("dev")
	st, _ := ns.Structure("productCatalog", MapOf(NewPrimitive(String), productValue))
	rec, _ := ns.Structure("product", productValue)

	extracted, _ := st.Access().Get("X")
	extracted, _ = extracted.Some()
	nameTx, err := Compose(extracted, rec.FieldAccessors()[0])
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	reader := &fixedReader{value: catalogData()}
	v, err := nameTx.Evaluate(context.Background(), reader)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if v != "Acme" {
		t.Fatalf("name got %v want Acme", v)
	}
}

// Lookups match keys after normalization: an int64-keyed query finds int-keyed
// data, and record-typed keys are canonicalized through JSON.
func TestLookupKeyNormalization(t *testing.T) {
	ns := NewNamespace("dev")
	counts, _ := ns.Structure("counts", MapOf(NewPrimitive(Integer), NewPrimitive(String)))

	reader := &fixedReader{value: map[int]string{1: "one", 2: "two"}}
	tx, err := counts.Access().Get(int64(2))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	tx, _ = tx.Some()
	v, err := tx.Evaluate(context.Background(), reader)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if v != "two" {
		t.Fatalf("lookup got %v want two", v)
	}

	// Record-typed keys are accepted at build time when they conform to the
	// key schema; lookup canonicalizes them through JSON.
	keySchema := FieldOf("id", NewPrimitive(Integer))
	byRecord, _ := ns.Structure("byRecord", MapOf(keySchema, NewPrimitive(String)))
	tx2, err := byRecord.Access().Get(map[string]any{"id": 7})
	if err != nil {
		t.Fatalf("Get with record key failed: %v", err)
	}
	if tx2.ValueType().Kind != TypeOptional {
		t.Fatalf("record-key get value got %s want optional", tx2.ValueType())
	}
}
