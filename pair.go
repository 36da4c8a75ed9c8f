package strata

// KeyValuePair is a tuple used where the caller needs to name both halves of an entry,
// e.g. when seeding map-typed structure values.
type KeyValuePair[TK any, TV any] struct {
	// Key is the key part in the pair.
	Key TK
	// Value is the value part in the pair.
	Value TV
}

// MapValue assembles a map value from pairs, for seeding map-typed structures
// through Cluster.SetValue without writing map literals inline.
func MapValue[TK comparable, TV any](pairs ...KeyValuePair[TK, TV]) map[TK]TV {
	m := make(map[TK]TV, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}

// Optional carries a possibly absent value. It is the runtime representation of the
// transaction algebra's Optional<V>: GetMapValue yields an empty Optional for a missing
// key instead of failing, and ExtractSome is the only stage that turns that absence
// into an AbsentValue error.
type Optional[T any] struct {
	// Value part, meaningful only when Valid is true.
	Value T
	// Valid is true when a value is present.
	Valid bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}
