package strata

import "fmt"

// Namespace is a named isolation domain owning a set of structures. The ID is an
// opaque identity tag minted at creation: transactions derived from a structure
// carry it, and commit rejects a transaction evaluated against a cluster whose
// registration of that structure belongs to a different namespace identity.
//
// Creating a Namespace is pure & local; the registry of existing namespaces and
// structures lives in the Cluster.
type Namespace struct {
	Name string `json:"name"`
	ID   UUID   `json:"id"`
}

// NewNamespace returns a fresh namespace value with a newly minted identity and
// no structures yet. Construction cannot fail.
func NewNamespace(name string) Namespace {
	return Namespace{Name: name, ID: NewUUID()}
}

// Structure is a named binding of one schema to exactly one namespace; the unit
// a transaction targets. Building a Structure value is pure/local and does not
// register it anywhere; making it durable is the Cluster.CreateStructure call.
type Structure struct {
	Name          string `json:"name"`
	Schema        Schema `json:"schema"`
	NamespaceID   UUID   `json:"namespace_id"`
	NamespaceName string `json:"namespace_name"`
	// Description optionally describes the structure.
	Description string `json:"description,omitempty"`
	// ValueValidation is an optional CEL expression the cluster evaluates
	// against each value written to this structure.
	ValueValidation string `json:"value_validation,omitempty"`
	// CacheConfig optionally overrides the cluster's cache policy for this
	// structure's artifacts; nil means the backend default.
	CacheConfig *StructureCacheConfig `json:"cache_config,omitempty"`

	// accessors are the per-field accessor transactions, derived once from a
	// record schema in field order.
	accessors []*Transaction
}

// Structure binds a schema to this namespace under the given name. The schema is
// validated here: duplicate record field names & malformed shapes are rejected
// as build-time errors so accessor derivation stays unambiguous.
func (ns Namespace) Structure(name string, schema Schema) (*Structure, error) {
	return ns.StructureWithOptions(StructureOptions{Name: name, Schema: schema})
}

// StructureWithOptions is Structure with the full option set (description,
// value-validation expression).
func (ns Namespace) StructureWithOptions(opts StructureOptions) (*Structure, error) {
	if opts.Name == "" {
		return nil, Error{Code: InvalidValue, Err: fmt.Errorf("structure name can't be empty")}
	}
	if err := opts.Schema.Validate(); err != nil {
		return nil, err
	}
	st := &Structure{
		Name:            opts.Name,
		Schema:          opts.Schema,
		NamespaceID:     ns.ID,
		NamespaceName:   ns.Name,
		Description:     opts.Description,
		ValueValidation: opts.ValueValidation,
		CacheConfig:     opts.CacheConfig,
	}
	if opts.Schema.Kind == KindRecord {
		st.accessors = deriveFieldAccessors(st)
	}
	return st, nil
}

// FieldAccessors returns the accessor transactions of a record-typed structure,
// one per field in schema field order. They are derived once at structure
// construction and reused; callers compose them after Access. Nil for
// non-record structures.
func (s *Structure) FieldAccessors() []*Transaction {
	return s.accessors
}
