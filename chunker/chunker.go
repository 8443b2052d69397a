// Package chunker splits an ordered list of translation keys into
// bounded-size batches for the translation backend.
package chunker

import "fmt"

// DefaultChunkSize is the default maximum number of entries per batch.
const DefaultChunkSize = 3000

// Split partitions keys into consecutive chunks of at most size entries,
// preserving input order. Every key appears in exactly one chunk.
// A size of zero or less is a configuration error.
func Split(keys []string, size int) ([][]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	chunks := make([][]string, 0, (len(keys)+size-1)/size)
	for i := 0; i < len(keys); i += size {
		end := i + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[i:end])
	}
	return chunks, nil
}
