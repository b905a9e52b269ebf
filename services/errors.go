package services

import (
	"errors"
	"fmt"
)

// ErrSessionUnavailable signals that a session is not resident and could not
// be initialized. Callers must re-initialize or report not-found; they never
// get silently served an empty index in its place.
var ErrSessionUnavailable = errors.New("vector session unavailable")

// UnsupportedFormatError indicates a document type the extractor cannot
// handle. User error, not retryable.
type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported document format %q (%s)", e.Ext, e.Path)
}

// DocumentProcessingError indicates text extraction failed on a document the
// extractor does support. User error, not retryable.
type DocumentProcessingError struct {
	Path string
	Err  error
}

func (e *DocumentProcessingError) Error() string {
	return fmt.Sprintf("failed to process document %s: %v", e.Path, e.Err)
}

func (e *DocumentProcessingError) Unwrap() error { return e.Err }
