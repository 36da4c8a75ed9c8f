package strata

import "fmt"

type ErrorCode int

const (
	Unknown ErrorCode = iota
	LockAcquisitionFailure
	// AbsentValue is the data-level failure raised by ExtractSome when the
	// optional it unwraps is empty at commit time.
	AbsentValue
	// TypeMismatch is raised at build time when two pipeline stages are
	// composed but the first stage's value type differs from the second
	// stage's source type.
	TypeMismatch
	DuplicateFieldName
	NotARecord
	NotAMap
	NotOptional
	// InvalidValue flags a materialized value that does not conform to the
	// structure's declared schema.
	InvalidValue
	NamespaceMismatch
	UnsupportedConstant
)

// Error is the strata custom error used for both build-time rejections and the
// data-level failure channel of a committed transaction.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	return fmt.Errorf("error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// DistributedError is the infrastructure failure channel of the cluster boundary:
// namespace/structure lifecycle failures and backend I/O faults. It is deliberately
// a distinct type from Error so callers can tell the two channels apart with errors.As.
type DistributedError struct {
	// Op names the cluster operation that failed, e.g. "createStructure".
	Op  string
	Err error
}

func (e *DistributedError) Error() string {
	return fmt.Sprintf("distributed error on %s: %v", e.Op, e.Err)
}

func (e *DistributedError) Unwrap() error {
	return e.Err
}
