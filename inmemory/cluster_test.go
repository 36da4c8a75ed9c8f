package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sharedcode/strata"
)

func newProductCatalog(t *testing.T) (strata.Namespace, *strata.Structure) {
	t.Helper()
	productValue := strata.FieldOf("name", strata.NewPrimitive(strata.String)).
		Concat(strata.FieldOf("origin", strata.NewPrimitive(strata.Integer)))
	catalog := strata.MapOf(strata.NewPrimitive(strata.String), productValue)
	ns := strata.NewNamespace("dev")
	st, err := ns.Structure("productCatalog", catalog)
	if err != nil {
		t.Fatalf("Structure failed: %v", err)
	}
	return ns, st
}

// End-to-end walkthrough: declare the catalog in namespace dev, seed it, then
// commit access.get("X").some against populated & empty data sets.
func TestCommitEndToEnd(t *testing.T) {
	ctx := context.Background()
	c := NewCluster()
	ns, st := newProductCatalog(t)

	if err := c.CreateNamespace(ctx, ns); err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}
	if err := c.CreateStructure(ctx, st); err != nil {
		t.Fatalf("CreateStructure failed: %v", err)
	}
	if err := c.SetValue(ctx, st, map[string]any{
		"X": map[string]any{"name": "Acme", "origin": 1},
	}); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	tx, err := st.Access().Get("X")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	tx, err = tx.Some()
	if err != nil {
		t.Fatalf("Some failed: %v", err)
	}

	v, err := c.Commit(ctx, tx)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	record, ok := v.(map[string]any)
	if !ok || record["name"] != "Acme" {
		t.Fatalf("Commit got %#v want the Acme record", v)
	}

	// Against an empty catalog the same pipeline fails with AbsentValue on the
	// data channel, not with a DistributedError.
	if err := c.SetValue(ctx, st, map[string]any{}); err != nil {
		t.Fatalf("SetValue(empty) failed: %v", err)
	}
	_, err = c.Commit(ctx, tx)
	var e strata.Error
	if !errors.As(err, &e) || e.Code != strata.AbsentValue {
		t.Fatalf("expected AbsentValue, got %v", err)
	}
	var de *strata.DistributedError
	if errors.As(err, &de) {
		t.Fatalf("data-level failure leaked onto the infrastructure channel: %v", err)
	}
}

func TestNamespaceAndStructureLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewCluster()
	ns, st := newProductCatalog(t)

	// Structure creation requires a registered namespace.
	if err := c.CreateStructure(ctx, st); err == nil {
		t.Fatalf("expected CreateStructure without namespace to fail")
	}

	if err := c.CreateNamespace(ctx, ns); err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}
	if err := c.CreateStructure(ctx, st); err != nil {
		t.Fatalf("CreateStructure failed: %v", err)
	}

	// Name collision on the structure.
	if err := c.CreateStructure(ctx, st); err == nil {
		t.Fatalf("expected duplicate CreateStructure to fail")
	} else {
		var de *strata.DistributedError
		if !errors.As(err, &de) {
			t.Fatalf("expected DistributedError, got %v", err)
		}
	}

	// Name collision on the namespace (different identity).
	if err := c.CreateNamespace(ctx, strata.NewNamespace("dev")); err == nil {
		t.Fatalf("expected namespace name collision to fail")
	}

	nss, err := c.Namespaces(ctx)
	if err != nil {
		t.Fatalf("Namespaces failed: %v", err)
	}
	if len(nss) != 1 || nss[0].Name != "dev" {
		t.Fatalf("Namespaces got %v", nss)
	}

	infos, err := c.Structures(ctx, ns)
	if err != nil {
		t.Fatalf("Structures failed: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "productCatalog" {
		t.Fatalf("Structures got %v", infos)
	}
	if !infos[0].Schema.Equal(st.Schema) {
		t.Fatalf("registered schema differs from declared one")
	}

	if err := c.DropStructure(ctx, st); err != nil {
		t.Fatalf("DropStructure failed: %v", err)
	}
	if err := c.DropStructure(ctx, st); err == nil {
		t.Fatalf("expected DropStructure on a missing structure to fail")
	}
}

// A transaction built against a namespace identity the cluster doesn't know is
// rejected; when the name exists under another identity the failure carries
// NamespaceMismatch.
func TestCommitNamespaceMismatch(t *testing.T) {
	ctx := context.Background()
	c := NewCluster()
	_, st := newProductCatalog(t)

	// Register a different namespace that reuses the name "dev".
	other := strata.NewNamespace("dev")
	if err := c.CreateNamespace(ctx, other); err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}

	tx, _ := st.Access().Get("X")
	_, err := c.Commit(ctx, tx)
	var de *strata.DistributedError
	if !errors.As(err, &de) {
		t.Fatalf("expected DistributedError, got %v", err)
	}
	var e strata.Error
	if !errors.As(err, &e) || e.Code != strata.NamespaceMismatch {
		t.Fatalf("expected NamespaceMismatch cause, got %v", err)
	}
}

func TestSetValueValidation(t *testing.T) {
	ctx := context.Background()
	c := NewCluster()
	productValue := strata.FieldOf("name", strata.NewPrimitive(strata.String)).
		Concat(strata.FieldOf("origin", strata.NewPrimitive(strata.Integer)))
	ns := strata.NewNamespace("dev")
	st, err := ns.StructureWithOptions(strata.StructureOptions{
		Name:            "product",
		Schema:          productValue,
		ValueValidation: `value.name != ""`,
	})
	if err != nil {
		t.Fatalf("StructureWithOptions failed: %v", err)
	}
	if err := c.CreateNamespace(ctx, ns); err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}
	if err := c.CreateStructure(ctx, st); err != nil {
		t.Fatalf("CreateStructure failed: %v", err)
	}

	// Schema-invalid value.
	if err := c.SetValue(ctx, st, map[string]any{"name": "Acme"}); err == nil {
		t.Fatalf("expected schema-invalid value to be rejected")
	}
	// Schema-valid but failing the validation expression.
	err = c.SetValue(ctx, st, map[string]any{"name": "", "origin": 1})
	var e strata.Error
	if !errors.As(err, &e) || e.Code != strata.InvalidValue {
		t.Fatalf("expected InvalidValue from the validation expression, got %v", err)
	}
	// Passing value.
	if err := c.SetValue(ctx, st, map[string]any{"name": "Acme", "origin": 1}); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	// A malformed expression surfaces at CreateStructure, not at write time.
	bad, err := ns.StructureWithOptions(strata.StructureOptions{
		Name:            "bad",
		Schema:          productValue,
		ValueValidation: "value ===",
	})
	if err != nil {
		t.Fatalf("StructureWithOptions failed: %v", err)
	}
	if err := c.CreateStructure(ctx, bad); err == nil {
		t.Fatalf("expected malformed validation expression to fail CreateStructure")
	}
}

// Concurrent commits against disjoint structures proceed without coordination;
// same-structure commits all observe a consistent snapshot.
func TestConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	c := NewCluster()
	ns := strata.NewNamespace("dev")
	if err := c.CreateNamespace(ctx, ns); err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}

	const structures = 4
	txs := make([]*strata.Transaction, 0, structures)
	for i := 0; i < structures; i++ {
		st, err := ns.Structure(fmt.Sprintf("m%d", i), strata.MapOf(strata.NewPrimitive(strata.String), strata.NewPrimitive(strata.Integer)))
		if err != nil {
			t.Fatalf("Structure failed: %v", err)
		}
		if err := c.CreateStructure(ctx, st); err != nil {
			t.Fatalf("CreateStructure failed: %v", err)
		}
		if err := c.SetValue(ctx, st, map[string]any{"k": i}); err != nil {
			t.Fatalf("SetValue failed: %v", err)
		}
		tx, _ := st.Access().Get("k")
		tx, _ = tx.Some()
		txs = append(txs, tx)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, structures*50)
	for i := 0; i < structures; i++ {
		for j := 0; j < 50; j++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, err := c.Commit(ctx, txs[i])
				if err != nil {
					errCh <- err
					return
				}
				if n, _ := v.(int); n != i {
					errCh <- fmt.Errorf("structure m%d commit got %v", i, v)
				}
			}(i)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent commit failed: %v", err)
	}
}
