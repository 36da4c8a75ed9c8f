// Package inmemory provides a single-process Cluster implementation backed by
// plain maps. It is the reference commit authority for embedding and tests;
// durable backends live in the redis & cassandra packages.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sharedcode/strata"
	"github.com/sharedcode/strata/cel"
)

// structureEntry holds one registered structure: its descriptor, compiled
// validator and materialized value. Each entry carries its own lock so commits
// against disjoint structures never block each other.
type structureEntry struct {
	mu        sync.RWMutex
	info      strata.StructureInfo
	validator *cel.Validator
	value     any
	hasValue  bool
}

// Cluster is an in-memory commit authority. Commit evaluates the whole pipeline
// against a single snapshot of the target structure's value (read once under
// the entry's read lock); same-structure writes are serialized by the entry's
// write lock.
type Cluster struct {
	mu         sync.RWMutex
	namespaces map[strata.UUID]strata.Namespace
	nsByName   map[string]strata.UUID
	structures map[strata.UUID]map[string]*structureEntry
}

// NewCluster returns an empty in-memory cluster.
func NewCluster() *Cluster {
	return &Cluster{
		namespaces: make(map[strata.UUID]strata.Namespace),
		nsByName:   make(map[string]strata.UUID),
		structures: make(map[strata.UUID]map[string]*structureEntry),
	}
}

func (c *Cluster) CreateNamespace(ctx context.Context, ns strata.Namespace) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.nsByName[ns.Name]; ok && id != ns.ID {
		return &strata.DistributedError{Op: "createNamespace", Err: fmt.Errorf("namespace %q already exists", ns.Name)}
	}
	c.namespaces[ns.ID] = ns
	c.nsByName[ns.Name] = ns.ID
	if _, ok := c.structures[ns.ID]; !ok {
		c.structures[ns.ID] = make(map[string]*structureEntry)
	}
	return nil
}

func (c *Cluster) CreateStructure(ctx context.Context, st *strata.Structure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.structures[st.NamespaceID]
	if !ok {
		return namespaceLookupError("createStructure", c.nsByName, st)
	}
	if _, ok := entries[st.Name]; ok {
		return &strata.DistributedError{Op: "createStructure", Err: fmt.Errorf("structure %q already exists in namespace %q", st.Name, st.NamespaceName)}
	}
	entry := &structureEntry{info: strata.NewStructureInfo(st, st.CacheConfig)}
	if st.ValueValidation != "" {
		v, err := cel.NewValidator(st.Name, st.ValueValidation)
		if err != nil {
			return &strata.DistributedError{Op: "createStructure", Err: err}
		}
		entry.validator = v
	}
	entries[st.Name] = entry
	return nil
}

func (c *Cluster) DropStructure(ctx context.Context, st *strata.Structure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.structures[st.NamespaceID]
	if !ok {
		return namespaceLookupError("dropStructure", c.nsByName, st)
	}
	if _, ok := entries[st.Name]; !ok {
		return &strata.DistributedError{Op: "dropStructure", Err: fmt.Errorf("structure %q not found in namespace %q", st.Name, st.NamespaceName)}
	}
	delete(entries, st.Name)
	return nil
}

func (c *Cluster) Structures(ctx context.Context, ns strata.Namespace) ([]strata.StructureInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries, ok := c.structures[ns.ID]
	if !ok {
		return nil, &strata.DistributedError{Op: "structures", Err: fmt.Errorf("namespace %q not found", ns.Name)}
	}
	infos := make([]strata.StructureInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (c *Cluster) Namespaces(ctx context.Context) ([]strata.Namespace, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nss := make([]strata.Namespace, 0, len(c.namespaces))
	for _, ns := range c.namespaces {
		nss = append(nss, ns)
	}
	sort.Slice(nss, func(i, j int) bool { return nss[i].Name < nss[j].Name })
	return nss, nil
}

func (c *Cluster) SetValue(ctx context.Context, st *strata.Structure, value any) error {
	entry, err := c.lookup("setValue", st)
	if err != nil {
		return err
	}
	if err := entry.info.Schema.CheckValue(value); err != nil {
		return err
	}
	if entry.validator != nil {
		ok, err := entry.validator.Validate(value)
		if err != nil {
			return &strata.DistributedError{Op: "setValue", Err: err}
		}
		if !ok {
			return strata.Error{Code: strata.InvalidValue, Err: fmt.Errorf("value rejected by validation expression %q", entry.validator.Expression)}
		}
	}
	entry.mu.Lock()
	entry.value = value
	entry.hasValue = true
	entry.mu.Unlock()
	return nil
}

func (c *Cluster) Commit(ctx context.Context, t *strata.Transaction) (any, error) {
	root := t.Root()
	if root == nil {
		// Structure-free pipeline (constants); nothing to snapshot.
		return t.Evaluate(ctx, nil)
	}
	entry, err := c.lookup("commit", root)
	if err != nil {
		return nil, err
	}

	// Snapshot: the value is read exactly once under the read lock, so every
	// stage of the pipeline observes the same state.
	reader := strata.StructureReaderFunc(func(ctx context.Context, st *strata.Structure) (any, error) {
		entry.mu.RLock()
		defer entry.mu.RUnlock()
		if !entry.hasValue {
			return nil, &strata.DistributedError{Op: "commit", Err: fmt.Errorf("structure %q has no materialized value", st.Name)}
		}
		return entry.value, nil
	})
	return t.Evaluate(ctx, reader)
}

// lookup resolves a structure entry, distinguishing unknown namespaces, stale
// namespace identities and unknown/incompatible structures.
func (c *Cluster) lookup(op string, st *strata.Structure) (*structureEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries, ok := c.structures[st.NamespaceID]
	if !ok {
		return nil, namespaceLookupError(op, c.nsByName, st)
	}
	entry, ok := entries[st.Name]
	if !ok {
		return nil, &strata.DistributedError{Op: op, Err: fmt.Errorf("structure %q not found in namespace %q", st.Name, st.NamespaceName)}
	}
	if !entry.info.Schema.Equal(st.Schema) {
		return nil, &strata.DistributedError{Op: op, Err: fmt.Errorf("structure %q schema differs from its registration", st.Name)}
	}
	return entry, nil
}

// namespaceLookupError reports an unknown namespace, or a namespace mismatch
// when the name is registered under a different identity than the one the
// structure (and its transactions) are scoped to.
func namespaceLookupError(op string, nsByName map[string]strata.UUID, st *strata.Structure) error {
	if _, ok := nsByName[st.NamespaceName]; ok {
		return &strata.DistributedError{
			Op: op,
			Err: strata.Error{
				Code: strata.NamespaceMismatch,
				Err:  fmt.Errorf("namespace %q is registered under a different identity", st.NamespaceName),
			},
		}
	}
	return &strata.DistributedError{Op: op, Err: fmt.Errorf("namespace %q not found", st.NamespaceName)}
}
