package vectorindex

import "fmt"

// VectorDBError indicates a structural problem with the index or its on-disk
// artifacts: mismatched counts, missing files, corrupt headers. Fatal to the
// operation that raised it; never retried internally.
type VectorDBError struct {
	Op  string
	Err error
}

func (e *VectorDBError) Error() string {
	return fmt.Sprintf("vector index %s failed: %v", e.Op, e.Err)
}

func (e *VectorDBError) Unwrap() error { return e.Err }

func dbErrorf(op, format string, args ...interface{}) *VectorDBError {
	return &VectorDBError{Op: op, Err: fmt.Errorf(format, args...)}
}
