// Package translate implements the translation engine: it determines which
// keys each target file needs translated, splits them into bounded batches,
// dispatches the batches to the translation backend under two concurrency
// ceilings, and merges partial results back into the target files without
// losing existing translations or letting one failed batch abort the run.
package translate

import (
	"context"
	"fmt"

	"github.com/MartinPavlik/ai-localization/chunker"
)

// Caller is one translation call: prompt in, raw response text out.
// Satisfied by backend.Retrying.
type Caller interface {
	Call(ctx context.Context, prompt string) (string, error)
}

// Options controls a translation run.
type Options struct {
	// Client performs the backend calls.
	Client Caller
	// ProductContext describes the product being localized; included in
	// every prompt.
	ProductContext string
	// Instructions maps each target file name to extra prompt
	// instructions (target language, tone, glossary). Every target must
	// have an entry.
	Instructions map[string]string
	// SourceDir is the directory containing the source file; also the
	// working directory for the diff command.
	SourceDir string
	// SourceFile is the source mapping file name (e.g. "en.json").
	SourceFile string
	// TargetDir is the directory containing the target files.
	TargetDir string
	// Targets are the target file names to produce/update.
	Targets []string
	// Recreate translates every source key, ignoring existing target
	// content and diff history.
	Recreate bool
	// Baseline is the git ref to diff against (default HEAD).
	Baseline string
	// FileParallelism is the ceiling on targets in flight. Default: 10.
	FileParallelism int
	// BatchParallelism is the ceiling on batches in flight per target.
	// Default: same as FileParallelism.
	BatchParallelism int
	// ChunkSize is the maximum number of keys per batch. Default: 3000.
	ChunkSize int
	// OnLog emits progress messages.
	OnLog func(format string, args ...any)
	// OnError emits error messages.
	OnError func(format string, args ...any)
	// Verbose enables per-batch logging.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveFileParallelism() int {
	if o.FileParallelism > 0 {
		return o.FileParallelism
	}
	return 10
}

func (o *Options) effectiveBatchParallelism() int {
	if o.BatchParallelism > 0 {
		return o.BatchParallelism
	}
	return o.effectiveFileParallelism()
}

func (o *Options) effectiveChunkSize() int {
	if o.ChunkSize == 0 {
		return chunker.DefaultChunkSize
	}
	return o.ChunkSize
}

// validate fails fast on configuration problems, before any dispatch.
func (o *Options) validate() error {
	if o.Client == nil {
		return fmt.Errorf("no backend client configured")
	}
	if o.SourceFile == "" {
		return fmt.Errorf("source file not configured")
	}
	if len(o.Targets) == 0 {
		return fmt.Errorf("no target files configured")
	}
	if o.effectiveChunkSize() <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.ChunkSize)
	}
	for _, target := range o.Targets {
		if _, ok := o.Instructions[target]; !ok {
			return fmt.Errorf("target %s has no instructions entry", target)
		}
	}
	return nil
}
