package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	retry "github.com/sethvargo/go-retry"

	"github.com/sharedcode/strata"
	"github.com/sharedcode/strata/cel"
)

const (
	// namespacesKey is the hash holding name -> Namespace JSON.
	namespacesKey = "strata:namespaces"
	// defaultLockTTL bounds per-structure write locks so a crashed writer
	// can't wedge a structure.
	defaultLockTTL = 30 * time.Second
)

func structuresKey(nsID strata.UUID) string {
	return fmt.Sprintf("strata:structures:%s", nsID)
}

func valueKey(nsID strata.UUID, name string) string {
	return fmt.Sprintf("strata:value:%s:%s", nsID, name)
}

func writeLockKey(nsID strata.UUID, name string) string {
	return fmt.Sprintf("strata:lock:%s:%s", nsID, name)
}

// storedValue is the JSON envelope of a materialized value, so an explicit
// null value stays distinguishable from an absent key.
type storedValue struct {
	Value any `json:"value"`
}

// Cluster is the Redis-backed commit authority. One commit reads the target
// structure's value exactly once, so the whole pipeline observes a single
// snapshot; writes take a per-structure lock key.
type Cluster struct {
	cache   Cache
	lockTTL time.Duration
}

// NewCluster returns a Cluster over the singleton Connection; OpenConnection
// must have been called.
func NewCluster() *Cluster {
	return NewClusterWithCache(NewClient())
}

// NewClusterWithCache returns a Cluster over the given Cache, e.g. the mock
// client for tests and single-process embedding.
func NewClusterWithCache(cache Cache) *Cluster {
	return &Cluster{cache: cache, lockTTL: defaultLockTTL}
}

func (c *Cluster) CreateNamespace(ctx context.Context, ns strata.Namespace) error {
	var existing strata.Namespace
	found, err := c.cache.HGetStruct(ctx, namespacesKey, ns.Name, &existing)
	if err != nil {
		return &strata.DistributedError{Op: "createNamespace", Err: err}
	}
	if found && existing.ID != ns.ID {
		return &strata.DistributedError{Op: "createNamespace", Err: fmt.Errorf("namespace %q already exists", ns.Name)}
	}
	if err := c.cache.HSetStruct(ctx, namespacesKey, ns.Name, ns); err != nil {
		return &strata.DistributedError{Op: "createNamespace", Err: err}
	}
	return nil
}

func (c *Cluster) CreateStructure(ctx context.Context, st *strata.Structure) error {
	if err := c.checkNamespace(ctx, "createStructure", st); err != nil {
		return err
	}
	var existing strata.StructureInfo
	found, err := c.cache.HGetStruct(ctx, structuresKey(st.NamespaceID), st.Name, &existing)
	if err != nil {
		return &strata.DistributedError{Op: "createStructure", Err: err}
	}
	if found {
		return &strata.DistributedError{Op: "createStructure", Err: fmt.Errorf("structure %q already exists in namespace %q", st.Name, st.NamespaceName)}
	}
	if st.ValueValidation != "" {
		// Compile now so a malformed expression fails creation, not writes.
		if _, err := cel.NewValidator(st.Name, st.ValueValidation); err != nil {
			return &strata.DistributedError{Op: "createStructure", Err: err}
		}
	}
	info := strata.NewStructureInfo(st, st.CacheConfig)
	if err := c.cache.HSetStruct(ctx, structuresKey(st.NamespaceID), st.Name, info); err != nil {
		return &strata.DistributedError{Op: "createStructure", Err: err}
	}
	return nil
}

func (c *Cluster) DropStructure(ctx context.Context, st *strata.Structure) error {
	if _, err := c.resolve(ctx, "dropStructure", st); err != nil {
		return err
	}
	if err := c.cache.HDelete(ctx, structuresKey(st.NamespaceID), st.Name); err != nil {
		return &strata.DistributedError{Op: "dropStructure", Err: err}
	}
	if err := c.cache.Delete(ctx, valueKey(st.NamespaceID, st.Name)); err != nil {
		return &strata.DistributedError{Op: "dropStructure", Err: err}
	}
	return nil
}

func (c *Cluster) Structures(ctx context.Context, ns strata.Namespace) ([]strata.StructureInfo, error) {
	var registered strata.Namespace
	found, err := c.cache.HGetStruct(ctx, namespacesKey, ns.Name, &registered)
	if err != nil {
		return nil, &strata.DistributedError{Op: "structures", Err: err}
	}
	if !found || registered.ID != ns.ID {
		return nil, &strata.DistributedError{Op: "structures", Err: fmt.Errorf("namespace %q not found", ns.Name)}
	}
	fields, err := c.cache.HGetAll(ctx, structuresKey(ns.ID))
	if err != nil {
		return nil, &strata.DistributedError{Op: "structures", Err: err}
	}
	infos := make([]strata.StructureInfo, 0, len(fields))
	for _, ba := range fields {
		var info strata.StructureInfo
		if err := strata.NewMarshaler().Unmarshal([]byte(ba), &info); err != nil {
			return nil, &strata.DistributedError{Op: "structures", Err: err}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (c *Cluster) Namespaces(ctx context.Context) ([]strata.Namespace, error) {
	fields, err := c.cache.HGetAll(ctx, namespacesKey)
	if err != nil {
		return nil, &strata.DistributedError{Op: "namespaces", Err: err}
	}
	nss := make([]strata.Namespace, 0, len(fields))
	for _, ba := range fields {
		var ns strata.Namespace
		if err := strata.NewMarshaler().Unmarshal([]byte(ba), &ns); err != nil {
			return nil, &strata.DistributedError{Op: "namespaces", Err: err}
		}
		nss = append(nss, ns)
	}
	sort.Slice(nss, func(i, j int) bool { return nss[i].Name < nss[j].Name })
	return nss, nil
}

func (c *Cluster) SetValue(ctx context.Context, st *strata.Structure, value any) error {
	info, err := c.resolve(ctx, "setValue", st)
	if err != nil {
		return err
	}
	if err := info.Schema.CheckValue(value); err != nil {
		return err
	}
	if info.ValueValidation != "" {
		v, err := cel.NewValidator(info.Name, info.ValueValidation)
		if err != nil {
			return &strata.DistributedError{Op: "setValue", Err: err}
		}
		ok, err := v.Validate(value)
		if err != nil {
			return &strata.DistributedError{Op: "setValue", Err: err}
		}
		if !ok {
			return strata.Error{Code: strata.InvalidValue, Err: fmt.Errorf("value rejected by validation expression %q", info.ValueValidation)}
		}
	}

	// Serialize same-structure writes behind the structure's lock key.
	lk := writeLockKey(st.NamespaceID, st.Name)
	owner, err := Lock(ctx, c.cache, lk, c.lockTTL)
	if err != nil {
		return err
	}
	defer Unlock(ctx, c.cache, lk, owner)

	// The value key is the master copy here, not a cache, so it never
	// expires; cache durations apply only to true cache copies.
	if err := c.cache.SetStruct(ctx, valueKey(st.NamespaceID, st.Name), storedValue{Value: value}, 0); err != nil {
		return &strata.DistributedError{Op: "setValue", Err: err}
	}
	return nil
}

func (c *Cluster) Commit(ctx context.Context, t *strata.Transaction) (any, error) {
	root := t.Root()
	if root == nil {
		// Structure-free pipeline (constants); nothing to snapshot.
		return t.Evaluate(ctx, nil)
	}

	// Resolve the registration and the value snapshot concurrently; transient
	// cache faults get a backoff loop before the commit gives up.
	var sv storedValue
	var hasValue bool
	tr := strata.NewTaskRunner(ctx, 2)
	tr.Go(func() error {
		_, err := c.resolve(tr.GetContext(), "commit", root)
		return err
	})
	tr.Go(func() error {
		return strata.Retry(tr.GetContext(), func(ctx context.Context) error {
			found, err := c.cache.GetStruct(ctx, valueKey(root.NamespaceID, root.Name), &sv)
			if err != nil {
				if strata.ShouldRetry(err) {
					return retry.RetryableError(err)
				}
				return err
			}
			hasValue = found
			return nil
		}, nil)
	})
	if err := tr.Wait(); err != nil {
		if _, ok := err.(*strata.DistributedError); ok {
			return nil, err
		}
		return nil, &strata.DistributedError{Op: "commit", Err: err}
	}
	if !hasValue {
		return nil, &strata.DistributedError{Op: "commit", Err: fmt.Errorf("structure %q has no materialized value", root.Name)}
	}

	// The snapshot was read once above; every stage observes the same state.
	reader := strata.StructureReaderFunc(func(ctx context.Context, st *strata.Structure) (any, error) {
		return sv.Value, nil
	})
	return t.Evaluate(ctx, reader)
}

// checkNamespace verifies the structure's owning namespace is registered under
// the same identity the structure is scoped to.
func (c *Cluster) checkNamespace(ctx context.Context, op string, st *strata.Structure) error {
	var registered strata.Namespace
	found, err := c.cache.HGetStruct(ctx, namespacesKey, st.NamespaceName, &registered)
	if err != nil {
		return &strata.DistributedError{Op: op, Err: err}
	}
	if !found {
		return &strata.DistributedError{Op: op, Err: fmt.Errorf("namespace %q not found", st.NamespaceName)}
	}
	if registered.ID != st.NamespaceID {
		return &strata.DistributedError{
			Op: op,
			Err: strata.Error{
				Code: strata.NamespaceMismatch,
				Err:  fmt.Errorf("namespace %q is registered under a different identity", st.NamespaceName),
			},
		}
	}
	return nil
}

// resolve fetches the structure's registration and verifies it is compatible
// with the caller's binding.
func (c *Cluster) resolve(ctx context.Context, op string, st *strata.Structure) (strata.StructureInfo, error) {
	if err := c.checkNamespace(ctx, op, st); err != nil {
		return strata.StructureInfo{}, err
	}
	var info strata.StructureInfo
	found, err := c.cache.HGetStruct(ctx, structuresKey(st.NamespaceID), st.Name, &info)
	if err != nil {
		return strata.StructureInfo{}, &strata.DistributedError{Op: op, Err: err}
	}
	if !found {
		return strata.StructureInfo{}, &strata.DistributedError{Op: op, Err: fmt.Errorf("structure %q not found in namespace %q", st.Name, st.NamespaceName)}
	}
	if !info.Schema.Equal(st.Schema) {
		return strata.StructureInfo{}, &strata.DistributedError{Op: op, Err: fmt.Errorf("structure %q schema differs from its registration", st.Name)}
	}
	return info, nil
}
