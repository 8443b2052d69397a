package translate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MartinPavlik/ai-localization/langfile"
)

// batchMarker separates the prompt preamble from the batch JSON.
const batchMarker = "Translate the values of this JSON object:\n\n"

// fakeCaller answers prompts by parsing the batch JSON out of the prompt
// and prefixing every value, failing whenever the batch contains a key
// from failKeys.
type fakeCaller struct {
	mu       sync.Mutex
	calls    int
	failKeys map[string]bool
	// respond overrides the default echo behavior when set.
	respond func(batch *langfile.File) (string, error)
}

func (f *fakeCaller) Call(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	idx := strings.Index(prompt, batchMarker)
	if idx < 0 {
		return "", fmt.Errorf("prompt has no batch section")
	}
	batch, err := langfile.Parse([]byte(prompt[idx+len(batchMarker):]))
	if err != nil {
		return "", fmt.Errorf("prompt batch not parseable: %v", err)
	}

	for _, k := range batch.Keys() {
		if f.failKeys[k] {
			return "", errors.New("backend exploded")
		}
	}

	if f.respond != nil {
		return f.respond(batch)
	}

	out := langfile.New()
	for _, k := range batch.Keys() {
		v, _ := batch.Get(k)
		out.Set(k, "X-"+v)
	}
	return string(out.Marshal()), nil
}

// writeMapping writes a mapping file into dir and returns its serialized form.
func writeMapping(t *testing.T, dir, name string, pairs ...string) []byte {
	t.Helper()
	f := mapping(pairs...)
	if err := f.WriteFile(filepath.Join(dir, name)); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return f.Marshal()
}

func testOptions(t *testing.T, caller Caller, targets ...string) Options {
	t.Helper()
	dir := t.TempDir()
	instructions := make(map[string]string, len(targets))
	for _, target := range targets {
		instructions[target] = "Translate to " + target
	}
	return Options{
		Client:       caller,
		Instructions: instructions,
		SourceDir:    dir,
		SourceFile:   "en.json",
		TargetDir:    dir,
		Targets:      targets,
	}
}

func readTarget(t *testing.T, opts Options, name string) *langfile.File {
	t.Helper()
	f, err := langfile.ParseFile(filepath.Join(opts.TargetDir, name))
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	return f
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	caller := &fakeCaller{failKeys: map[string]bool{"b": true}}
	opts := testOptions(t, caller, "de.json")
	opts.ChunkSize = 1 // 3 keys -> 3 batches, batch 2 fails

	writeMapping(t, opts.SourceDir, "en.json", "a", "A", "b", "B", "c", "C")
	writeMapping(t, opts.TargetDir, "de.json")

	report, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Success() {
		t.Error("run with a failed batch must not be successful")
	}
	if len(report.Errors) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(report.Errors), report.Err())
	}
	rec := report.Errors[0]
	if rec.Target != "de.json" || rec.Batch != 2 || rec.BatchCount != 3 {
		t.Errorf("record = batch %d/%d of %s, want 2/3 of de.json", rec.Batch, rec.BatchCount, rec.Target)
	}
	if rec.Kind != KindAPI {
		t.Errorf("kind = %q, want %q", rec.Kind, KindAPI)
	}
	if rec.Prompt == "" {
		t.Error("record must carry the prompt sent")
	}
	if len(rec.Keys) != 1 || rec.Keys[0] != "b" {
		t.Errorf("record keys = %v, want [b]", rec.Keys)
	}
	if aggErr := report.Err(); aggErr == nil || !strings.Contains(aggErr.Error(), "batch 2/3") {
		t.Errorf("aggregated error = %v, want batch 2/3 context", aggErr)
	}

	// Successful batches 1 and 3 are still merged and written.
	out := readTarget(t, opts, "de.json")
	if v, _ := out.Get("a"); v != "X-A" {
		t.Errorf("a = %q, want X-A", v)
	}
	if v, _ := out.Get("c"); v != "X-C" {
		t.Errorf("c = %q, want X-C", v)
	}
	if out.Has("b") {
		t.Error("failed batch key must stay untranslated in the output")
	}

	if report.Targets[0].Translated != 2 || report.Targets[0].Needed != 3 {
		t.Errorf("target report = %+v, want 2/3 translated", report.Targets[0])
	}
}

func TestRun_MergeAdditive(t *testing.T) {
	caller := &fakeCaller{}
	opts := testOptions(t, caller, "de.json")

	writeMapping(t, opts.SourceDir, "en.json", "a", "A", "b", "B")
	writeMapping(t, opts.TargetDir, "de.json", "a", "1")

	report, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Success() {
		t.Fatalf("run failed: %v", report.Err())
	}

	out := readTarget(t, opts, "de.json")
	if v, _ := out.Get("a"); v != "1" {
		t.Errorf("existing translation overwritten: a = %q, want 1", v)
	}
	if v, _ := out.Get("b"); v != "X-B" {
		t.Errorf("b = %q, want X-B", v)
	}
}

func TestRun_PreservesKeysOutsideSet(t *testing.T) {
	// A key present only in the target (e.g. manually added) survives the
	// merge even though the backend never returns it.
	caller := &fakeCaller{}
	opts := testOptions(t, caller, "de.json")

	writeMapping(t, opts.SourceDir, "en.json", "a", "A", "b", "B")
	writeMapping(t, opts.TargetDir, "de.json", "a", "1", "manual.extra", "kept")

	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatalf("run: %v", err)
	}

	out := readTarget(t, opts, "de.json")
	if v, _ := out.Get("manual.extra"); v != "kept" {
		t.Errorf("manual.extra = %q, want kept", v)
	}
}

func TestRun_UpToDateTargetUntouched(t *testing.T) {
	caller := &fakeCaller{}
	opts := testOptions(t, caller, "de.json")

	writeMapping(t, opts.SourceDir, "en.json", "a", "A")
	before := writeMapping(t, opts.TargetDir, "de.json", "a", "1")

	report, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Targets[0].UpToDate {
		t.Error("target should be reported up to date")
	}
	if caller.calls != 0 {
		t.Errorf("backend called %d times for an up-to-date target", caller.calls)
	}

	after, err := os.ReadFile(filepath.Join(opts.TargetDir, "de.json"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(after) != string(before) {
		t.Error("up-to-date target file changed on disk")
	}
}

func TestRun_RecreateIgnoresExistingTarget(t *testing.T) {
	caller := &fakeCaller{}
	opts := testOptions(t, caller, "de.json")
	opts.Recreate = true

	writeMapping(t, opts.SourceDir, "en.json", "a", "A", "b", "B")
	writeMapping(t, opts.TargetDir, "de.json", "a", "stale")

	report, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Targets[0].Needed != 2 {
		t.Errorf("needed = %d, want 2", report.Targets[0].Needed)
	}

	out := readTarget(t, opts, "de.json")
	if v, _ := out.Get("a"); v != "X-A" {
		t.Errorf("a = %q, want re-translated X-A", v)
	}
}

func TestRun_MissingInstructionsIsFatal(t *testing.T) {
	caller := &fakeCaller{}
	opts := testOptions(t, caller, "de.json", "fr.json")
	delete(opts.Instructions, "fr.json")

	writeMapping(t, opts.SourceDir, "en.json", "a", "A")
	writeMapping(t, opts.TargetDir, "de.json")
	writeMapping(t, opts.TargetDir, "fr.json")

	if _, err := Run(context.Background(), opts); err == nil {
		t.Fatal("expected fatal error for missing instructions entry")
	}
	if caller.calls != 0 {
		t.Error("nothing may be dispatched after a fatal validation error")
	}
}

func TestRun_MissingTargetIsFatalInIncrementalMode(t *testing.T) {
	caller := &fakeCaller{}
	opts := testOptions(t, caller, "de.json")
	writeMapping(t, opts.SourceDir, "en.json", "a", "A")
	// de.json intentionally not created.

	if _, err := Run(context.Background(), opts); err == nil {
		t.Fatal("expected fatal error for missing target file")
	}
}

func TestRun_UnparseableSourceIsFatal(t *testing.T) {
	caller := &fakeCaller{}
	opts := testOptions(t, caller, "de.json")
	if err := os.WriteFile(filepath.Join(opts.SourceDir, "en.json"), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	writeMapping(t, opts.TargetDir, "de.json")

	if _, err := Run(context.Background(), opts); err == nil {
		t.Fatal("expected fatal error for unreadable source")
	}
}

func TestRun_ParseFailureRecordsRawResponse(t *testing.T) {
	caller := &fakeCaller{respond: func(batch *langfile.File) (string, error) {
		return "this is not json", nil
	}}
	opts := testOptions(t, caller, "de.json")

	writeMapping(t, opts.SourceDir, "en.json", "a", "A")
	writeMapping(t, opts.TargetDir, "de.json")

	report, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("got %d errors, want 1", len(report.Errors))
	}
	rec := report.Errors[0]
	if rec.Kind != KindParse {
		t.Errorf("kind = %q, want %q", rec.Kind, KindParse)
	}
	if rec.RawResponse != "this is not json" {
		t.Errorf("raw response = %q", rec.RawResponse)
	}
}

func TestRun_ReportOrderMatchesInputOrder(t *testing.T) {
	caller := &fakeCaller{}
	targets := []string{"de.json", "fr.json", "es.json"}
	opts := testOptions(t, caller, targets...)
	opts.FileParallelism = 3

	writeMapping(t, opts.SourceDir, "en.json", "a", "A")
	for _, target := range targets {
		writeMapping(t, opts.TargetDir, target)
	}

	report, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, target := range targets {
		if report.Targets[i].Target != target {
			t.Errorf("report[%d] = %s, want %s (input order)", i, report.Targets[i].Target, target)
		}
	}
}

func TestForEachLimit_RespectsCeilingAndOrder(t *testing.T) {
	var inFlight, peak int32

	items := []int{0, 1, 2, 3, 4, 5, 6, 7}
	outcomes := forEachLimit(context.Background(), items, 3, func(ctx context.Context, n int) (int, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		if n == 4 {
			return 0, errors.New("unit 4 failed")
		}
		return n * 10, nil
	})

	if p := atomic.LoadInt32(&peak); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
	if len(outcomes) != len(items) {
		t.Fatalf("got %d outcomes", len(outcomes))
	}
	for i, o := range outcomes {
		if i == 4 {
			if o.err == nil {
				t.Error("unit 4 should have failed")
			}
			continue
		}
		if o.err != nil {
			t.Errorf("unit %d failed: %v (siblings must not be cancelled)", i, o.err)
		}
		if o.value != i*10 {
			t.Errorf("outcome[%d] = %d, want %d", i, o.value, i*10)
		}
	}
}
