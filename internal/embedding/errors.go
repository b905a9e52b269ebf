package embedding

import "fmt"

// ModelLoadError indicates the embedding backend could not be brought up.
// The operation that triggered the load fails; callers may retry.
type ModelLoadError struct {
	Provider string
	Err      error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("embedding model %q failed to load: %v", e.Provider, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// EmbeddingGenerationError indicates a failed embedding request. Fatal to the
// current operation; not retried internally.
type EmbeddingGenerationError struct {
	Provider string
	Batch    int
	Err      error
}

func (e *EmbeddingGenerationError) Error() string {
	if e.Batch >= 0 {
		return fmt.Sprintf("embedding generation failed (provider=%s batch=%d): %v", e.Provider, e.Batch, e.Err)
	}
	return fmt.Sprintf("embedding generation failed (provider=%s): %v", e.Provider, e.Err)
}

func (e *EmbeddingGenerationError) Unwrap() error { return e.Err }
