package translate

import "fmt"

// Error kinds recorded per failed batch.
const (
	KindAPI    = "api_error"    // terminal backend failure (retries exhausted, auth, ...)
	KindParse  = "parse_error"  // backend text did not parse as a complete batch mapping
	KindTarget = "target_error" // target file could not be read or written
)

// ErrorRecord captures one batch-scoped failure with enough context to
// reproduce it. Records are accumulated for the whole run and never
// discarded, even when later batches succeed.
type ErrorRecord struct {
	// Target is the target file name.
	Target string
	// Batch is the 1-based batch position; 0 for target-level failures.
	Batch int
	// BatchCount is the number of batches for the target.
	BatchCount int
	// Kind classifies the failure.
	Kind string
	// Keys are the batch keys that remain untranslated.
	Keys []string
	// Prompt is the prompt that was sent, if the failure happened after
	// prompt construction.
	Prompt string
	// RawResponse is the backend text, if any was received.
	RawResponse string
	// Err is the underlying error.
	Err error
}

func (e *ErrorRecord) Error() string {
	if e.Batch > 0 {
		return fmt.Sprintf("%s: batch %d/%d (%s): %v", e.Target, e.Batch, e.BatchCount, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Target, e.Kind, e.Err)
}

func (e *ErrorRecord) Unwrap() error {
	return e.Err
}
