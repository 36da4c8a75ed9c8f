package strata

import "fmt"

// TypeKind tags the TypeSpec variant.
type TypeKind int

const (
	// TypeNamespaceRoot is the source type of a root (AccessStructure) stage:
	// the namespace itself, not any materialized data.
	TypeNamespaceRoot TypeKind = iota
	// TypeSchema is a schema-decoded value type.
	TypeSchema
	// TypeOptional wraps an element type with possible absence.
	TypeOptional
	// TypeAny matches every type; it is the source type of a Constant stage,
	// which ignores its input.
	TypeAny
)

// TypeSpec is the runtime stand-in for the algebra's statically declared
// source/value types. Every transaction stage carries a (source, value) pair of
// these, and Compose is only constructible when they line up.
type TypeSpec struct {
	Kind TypeKind `json:"kind"`
	// Schema is set for TypeSchema.
	Schema *Schema `json:"schema,omitempty"`
	// Elem is set for TypeOptional.
	Elem *TypeSpec `json:"elem,omitempty"`
}

// SchemaType returns the TypeSpec of a schema-decoded value.
func SchemaType(s Schema) TypeSpec {
	return TypeSpec{Kind: TypeSchema, Schema: &s}
}

// OptionalType returns the TypeSpec of Optional<elem>.
func OptionalType(elem TypeSpec) TypeSpec {
	return TypeSpec{Kind: TypeOptional, Elem: &elem}
}

// Equal reports whether two TypeSpecs denote the same type. TypeAny matches
// everything, which is how Constant stages compose after any value.
func (t TypeSpec) Equal(o TypeSpec) bool {
	if t.Kind == TypeAny || o.Kind == TypeAny {
		return true
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case TypeNamespaceRoot:
		return true
	case TypeSchema:
		return t.Schema != nil && o.Schema != nil && t.Schema.Equal(*o.Schema)
	case TypeOptional:
		return t.Elem != nil && o.Elem != nil && t.Elem.Equal(*o.Elem)
	}
	return false
}

func (t TypeSpec) String() string {
	switch t.Kind {
	case TypeNamespaceRoot:
		return "namespace"
	case TypeSchema:
		if t.Schema == nil {
			return "schema(?)"
		}
		return t.Schema.String()
	case TypeOptional:
		if t.Elem == nil {
			return "optional(?)"
		}
		return fmt.Sprintf("optional(%s)", t.Elem)
	case TypeAny:
		return "any"
	}
	return fmt.Sprintf("type(%d)", int(t.Kind))
}

// TransactionOp tags the Transaction variant. The evaluator switches
// exhaustively on it.
type TransactionOp int

const (
	OpConstant TransactionOp = iota
	OpAccessStructure
	OpAccessField
	OpGetMapValue
	OpExtractSome
	OpCompose
)

func (op TransactionOp) String() string {
	switch op {
	case OpConstant:
		return "constant"
	case OpAccessStructure:
		return "accessStructure"
	case OpAccessField:
		return "accessField"
	case OpGetMapValue:
		return "getMapValue"
	case OpExtractSome:
		return "extractSome"
	case OpCompose:
		return "compose"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Transaction is a composable pipeline describing, in data only, how to derive
// a value from a structure's materialized data. Building one performs no I/O or
// lookup; evaluation happens only when the cluster commits it. Values are
// immutable once constructed and safe for concurrent use.
type Transaction struct {
	op TransactionOp

	// Stage payloads; which are set depends on op.
	constant      any
	structure     *Structure
	field         Field
	key           any
	first, second *Transaction

	// The statically declared (source, value) pair plus the union of error
	// kinds this pipeline may fail with.
	source, value TypeSpec
	errKinds      map[ErrorCode]struct{}

	// namespaceID tags the pipeline with the owning namespace of its root
	// structure; NilUUID for structure-free pipelines (constants).
	namespaceID UUID
}

// Op returns the stage variant tag.
func (t *Transaction) Op() TransactionOp { return t.op }

// SourceType returns the declared input type of the pipeline.
func (t *Transaction) SourceType() TypeSpec { return t.source }

// ValueType returns the declared output type of the pipeline.
func (t *Transaction) ValueType() TypeSpec { return t.value }

// NamespaceID returns the identity of the namespace this pipeline is scoped to,
// or NilUUID when it touches no structure.
func (t *Transaction) NamespaceID() UUID { return t.namespaceID }

// Root returns the structure targeted by the pipeline's AccessStructure root,
// or nil for structure-free pipelines.
func (t *Transaction) Root() *Structure {
	switch t.op {
	case OpAccessStructure:
		return t.structure
	case OpCompose:
		if st := t.first.Root(); st != nil {
			return st
		}
		return t.second.Root()
	}
	return nil
}

// ErrorKinds returns the union of data-level error codes the pipeline may fail
// with at commit time.
func (t *Transaction) ErrorKinds() []ErrorCode {
	kinds := make([]ErrorCode, 0, len(t.errKinds))
	for k := range t.errKinds {
		kinds = append(kinds, k)
	}
	return kinds
}

// Access returns the root-entry transaction of the structure: source is the
// owning namespace, value is the fully decoded representation of the
// structure's schema.
func (s *Structure) Access() *Transaction {
	return &Transaction{
		op:          OpAccessStructure,
		structure:   s,
		source:      TypeSpec{Kind: TypeNamespaceRoot},
		value:       SchemaType(s.Schema),
		namespaceID: s.NamespaceID,
	}
}

func deriveFieldAccessors(s *Structure) []*Transaction {
	accessors := make([]*Transaction, len(s.Schema.Fields))
	for i, f := range s.Schema.Fields {
		accessors[i] = &Transaction{
			op:          OpAccessField,
			field:       f,
			source:      SchemaType(s.Schema),
			value:       SchemaType(f.Schema),
			namespaceID: s.NamespaceID,
		}
	}
	return accessors
}

// NewConstant returns a transaction that ignores its input and always yields
// value. The value type is inferred from the Go value; only primitive constants
// infer, richer ones go through NewTypedConstant.
func NewConstant(value any) (*Transaction, error) {
	schema, err := InferSchema(value)
	if err != nil {
		return nil, err
	}
	return NewTypedConstant(value, SchemaType(schema))
}

// NewTypedConstant returns a constant transaction with an explicitly declared
// value type. The value must conform to the declared schema when the type is a
// schema-decoded one.
func NewTypedConstant(value any, valueType TypeSpec) (*Transaction, error) {
	if valueType.Kind == TypeSchema && valueType.Schema != nil {
		if err := valueType.Schema.CheckValue(value); err != nil {
			return nil, err
		}
	}
	return &Transaction{
		op:       OpConstant,
		constant: value,
		source:   TypeSpec{Kind: TypeAny},
		value:    valueType,
	}, nil
}

// Compose sequences two pipelines: first's produced value feeds second's source.
// It is constructible only when first's value type equals second's source type;
// a mismatch is rejected here, at build time, never deferred to commit. The
// resulting error-kind set is the union of both stages'. Pipelines rooted in
// different namespaces can't be composed.
func Compose(first, second *Transaction) (*Transaction, error) {
	if first == nil || second == nil {
		return nil, Error{Code: TypeMismatch, Err: fmt.Errorf("compose requires two transactions")}
	}
	if !first.value.Equal(second.source) {
		return nil, Error{
			Code: TypeMismatch,
			Err:  fmt.Errorf("can't compose: first stage yields %s but second expects %s", first.value, second.source),
		}
	}
	if !first.namespaceID.IsNil() && !second.namespaceID.IsNil() && first.namespaceID != second.namespaceID {
		return nil, Error{Code: NamespaceMismatch, Err: fmt.Errorf("can't compose transactions scoped to different namespaces")}
	}
	nsID := first.namespaceID
	if nsID.IsNil() {
		nsID = second.namespaceID
	}
	return &Transaction{
		op:          OpCompose,
		first:       first,
		second:      second,
		source:      first.source,
		value:       second.value,
		errKinds:    unionErrKinds(first.errKinds, second.errKinds),
		namespaceID: nsID,
	}, nil
}

// Compose is the method form of the package-level Compose, for fluent pipelines.
func (t *Transaction) Compose(next *Transaction) (*Transaction, error) {
	return Compose(t, next)
}

// Get appends a map-lookup stage. The receiver's value type must be a map
// schema and the key must conform to its key schema. The resulting value type
// is Optional of the map's value schema: a missing key is encoded as absence,
// never as a failure.
func (t *Transaction) Get(key any) (*Transaction, error) {
	if t.value.Kind != TypeSchema || t.value.Schema == nil || t.value.Schema.Kind != KindMap {
		return nil, Error{Code: NotAMap, Err: fmt.Errorf("get requires a map-typed value, have %s", t.value)}
	}
	mapSchema := *t.value.Schema
	if mapSchema.KeySchema == nil || mapSchema.ValueSchema == nil {
		return nil, Error{Code: NotAMap, Err: fmt.Errorf("map schema needs both key & value schemas")}
	}
	if mapSchema.KeySchema.Kind == KindPrimitive {
		normalized, err := normalizePrimitive(mapSchema.KeySchema.Primitive, key)
		if err != nil {
			return nil, err
		}
		key = normalized
	} else if err := mapSchema.KeySchema.CheckValue(key); err != nil {
		return nil, err
	}
	stage := &Transaction{
		op:          OpGetMapValue,
		key:         key,
		source:      SchemaType(mapSchema),
		value:       OptionalType(SchemaType(*mapSchema.ValueSchema)),
		namespaceID: t.namespaceID,
	}
	return Compose(t, stage)
}

// Some appends an optional-unwrap stage. The receiver's value type must be an
// Optional; the result's value type is the element type. This is the sole stage
// that converts structural absence into an explicit AbsentValue failure at
// commit time, so the error kind joins the pipeline's declared set.
func (t *Transaction) Some() (*Transaction, error) {
	if t.value.Kind != TypeOptional || t.value.Elem == nil {
		return nil, Error{Code: NotOptional, Err: fmt.Errorf("some requires an optional-typed value, have %s", t.value)}
	}
	stage := &Transaction{
		op:          OpExtractSome,
		source:      t.value,
		value:       *t.value.Elem,
		errKinds:    map[ErrorCode]struct{}{AbsentValue: {}},
		namespaceID: t.namespaceID,
	}
	return Compose(t, stage)
}

// Field appends a field-access stage. The receiver's value type must be a
// record schema declaring the named field; the result's value type is the
// field's schema. Record-typed structures get these pre-derived as
// FieldAccessors, this builder covers records reached mid-pipeline (e.g. a
// record unwrapped out of a map lookup).
func (t *Transaction) Field(name string) (*Transaction, error) {
	if t.value.Kind != TypeSchema || t.value.Schema == nil || t.value.Schema.Kind != KindRecord {
		return nil, Error{Code: NotARecord, Err: fmt.Errorf("field access requires a record-typed value, have %s", t.value)}
	}
	for _, f := range t.value.Schema.Fields {
		if f.Name == name {
			stage := &Transaction{
				op:          OpAccessField,
				field:       f,
				source:      t.value,
				value:       SchemaType(f.Schema),
				namespaceID: t.namespaceID,
			}
			return Compose(t, stage)
		}
	}
	return nil, Error{Code: InvalidValue, Err: fmt.Errorf("record has no field %q", name)}
}

func unionErrKinds(a, b map[ErrorCode]struct{}) map[ErrorCode]struct{} {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	u := make(map[ErrorCode]struct{}, len(a)+len(b))
	for k := range a {
		u[k] = struct{}{}
	}
	for k := range b {
		u[k] = struct{}{}
	}
	return u
}
