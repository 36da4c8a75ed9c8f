package strata

import "context"

// Cluster is the external commit authority: it owns the durable registry of
// namespaces & structures, stores their materialized values, and executes
// (commits) fully-built transactions atomically.
//
// Failure channels are distinct and must not be conflated: infrastructure
// failures (namespace missing, name collision, backend I/O) are
// *DistributedError, while the data-level failures a transaction declares
// (e.g. AbsentValue) come back as Error. Retry/backoff policy belongs to
// implementations, never to the algebra.
type Cluster interface {
	// CreateNamespace registers the namespace in the cluster. Fails with a
	// DistributedError when the name is already taken by a different identity.
	CreateNamespace(ctx context.Context, ns Namespace) error

	// CreateStructure registers the structure in its owning namespace.
	// Fails with a DistributedError when the namespace is unknown or the
	// structure name collides.
	CreateStructure(ctx context.Context, st *Structure) error

	// DropStructure removes the structure and its value from the namespace.
	DropStructure(ctx context.Context, st *Structure) error

	// Structures lists the structure descriptors bound to the namespace.
	Structures(ctx context.Context, ns Namespace) ([]StructureInfo, error)

	// Namespaces lists the namespace descriptors known to the cluster.
	Namespaces(ctx context.Context) ([]Namespace, error)

	// SetValue replaces the structure's materialized value. The value must
	// conform to the structure's schema and pass its validation expression,
	// when one is declared.
	SetValue(ctx context.Context, st *Structure, value any) error

	// Commit evaluates the transaction as a single unit against one
	// consistent snapshot of its target structure and returns the derived
	// value, a data-level Error declared by the transaction itself, or a
	// *DistributedError from the infrastructure.
	Commit(ctx context.Context, t *Transaction) (any, error)
}
