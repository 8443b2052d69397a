package translate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/MartinPavlik/ai-localization/chunker"
	"github.com/MartinPavlik/ai-localization/gitdiff"
	"github.com/MartinPavlik/ai-localization/langfile"
)

// TargetReport summarizes one target's run.
type TargetReport struct {
	// Target is the target file name.
	Target string
	// Needed is how many keys this target needed translated.
	Needed int
	// Translated is how many keys were translated and merged.
	Translated int
	// UpToDate is true when the target needed nothing.
	UpToDate bool
	// Errors are this target's batch failures.
	Errors []*ErrorRecord
}

// Report is the outcome of a whole run. Target order matches the input
// configuration order, not completion order.
type Report struct {
	Targets []TargetReport
	Errors  []*ErrorRecord
}

// Success reports whether the run completed without a single batch error.
func (r *Report) Success() bool {
	return len(r.Errors) == 0
}

// Err aggregates every recorded failure into one error, or nil.
func (r *Report) Err() error {
	var merr *multierror.Error
	for _, rec := range r.Errors {
		merr = multierror.Append(merr, rec)
	}
	return merr.ErrorOrNil()
}

// Run executes a full translation run: change detection, per-target set
// resolution, batched dispatch under both concurrency ceilings, and merge
// plus write of each target. Fatal configuration or source problems return
// an error before anything is written; batch failures are collected into
// the report instead.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	source, err := langfile.ParseFile(filepath.Join(opts.SourceDir, opts.SourceFile))
	if err != nil {
		return nil, fmt.Errorf("source mapping: %w", err)
	}

	// In incremental mode every target must already exist; checked before
	// any dispatch so a misconfigured run writes nothing.
	if !opts.Recreate {
		for _, target := range opts.Targets {
			if _, err := os.Stat(filepath.Join(opts.TargetDir, target)); err != nil {
				return nil, fmt.Errorf("target %s missing in incremental mode (run init or use recreate): %w", target, err)
			}
		}
	}

	changed := opts.resolveChangedKeys(ctx)

	outcomes := forEachLimit(ctx, opts.Targets, opts.effectiveFileParallelism(),
		func(ctx context.Context, target string) (TargetReport, error) {
			return opts.runTarget(ctx, source, changed, target), nil
		})

	report := &Report{Targets: make([]TargetReport, 0, len(outcomes))}
	for _, o := range outcomes {
		report.Targets = append(report.Targets, o.value)
		report.Errors = append(report.Errors, o.value.Errors...)
	}
	return report, nil
}

// resolveChangedKeys runs the diff and extracts changed keys. Diff failure
// is recoverable: the run continues on missing-key detection alone.
func (o *Options) resolveChangedKeys(ctx context.Context) map[string]struct{} {
	if o.Recreate {
		return nil
	}

	diff, err := gitdiff.Diff(ctx, o.SourceDir, o.SourceFile, o.Baseline)
	if err != nil {
		o.logError("Diff unavailable, falling back to missing-key detection: %v", err)
		return nil
	}
	return gitdiff.AddedKeys(diff)
}

// runTarget resolves, dispatches, and merges one target. It never fails
// the run: every problem becomes an error record on the report.
func (o *Options) runTarget(ctx context.Context, source *langfile.File, changed map[string]struct{}, target string) TargetReport {
	tr := TargetReport{Target: target}
	path := filepath.Join(o.TargetDir, target)

	var tf *langfile.File
	if o.Recreate {
		tf = langfile.New()
	} else {
		var err error
		tf, err = langfile.ParseFile(path)
		if err != nil {
			tr.Errors = append(tr.Errors, &ErrorRecord{Target: target, Kind: KindTarget, Err: err})
			return tr
		}
	}

	set := ResolveSet(source, tf, changed, o.Recreate)
	tr.Needed = len(set)
	if len(set) == 0 {
		tr.UpToDate = true
		o.log("%s is up to date", target)
		return tr
	}

	batches, err := chunker.Split(set, o.effectiveChunkSize())
	if err != nil {
		tr.Errors = append(tr.Errors, &ErrorRecord{Target: target, Kind: KindTarget, Err: err})
		return tr
	}

	o.log("Translating %s: %d keys in %d batch(es)...", target, len(set), len(batches))
	instructions := o.Instructions[target]

	type batchResult struct {
		prompt string
		raw    string
		values map[string]string
	}

	outcomes := forEachLimit(ctx, batches, o.effectiveBatchParallelism(),
		func(ctx context.Context, batch []string) (batchResult, error) {
			res := batchResult{prompt: BuildPrompt(o.ProductContext, instructions, batch, source)}

			text, err := o.Client.Call(ctx, res.prompt)
			if err != nil {
				return res, err
			}
			res.raw = text

			values, err := ParseBatch(text, batch)
			if err != nil {
				return res, err
			}
			res.values = values
			return res, nil
		})

	// Merge successful batches left-to-right in batch order. Keys outside
	// the set stay untouched; failed batches leave their keys as they were.
	for i, out := range outcomes {
		if out.err != nil {
			kind := KindAPI
			if out.value.raw != "" {
				kind = KindParse
			}
			tr.Errors = append(tr.Errors, &ErrorRecord{
				Target:      target,
				Batch:       i + 1,
				BatchCount:  len(batches),
				Kind:        kind,
				Keys:        batches[i],
				Prompt:      out.value.prompt,
				RawResponse: out.value.raw,
				Err:         out.err,
			})
			if o.Verbose {
				o.logError("  %s batch %d/%d failed: %v", target, i+1, len(batches), out.err)
			}
			continue
		}

		for _, k := range batches[i] {
			tf.Set(k, out.value.values[k])
		}
		tr.Translated += len(batches[i])
		if o.Verbose {
			o.log("  %s batch %d/%d done (%d keys)", target, i+1, len(batches), len(batches[i]))
		}
	}

	// Partial coverage still persists whatever succeeded.
	if err := tf.WriteFile(path); err != nil {
		tr.Errors = append(tr.Errors, &ErrorRecord{Target: target, Kind: KindTarget, Err: err})
	}

	return tr
}
