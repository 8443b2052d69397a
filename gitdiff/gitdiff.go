// Package gitdiff discovers recently changed translation keys by running
// git diff on the source file and extracting added key-value lines.
//
// The parsing contract is intentionally lightweight: everything before the
// first hunk header (a line starting with "@@") is ignored, and only added
// lines (prefix "+") that match a "key": "value" shape contribute a key.
// Anything else (context lines, removals, empty additions, non-JSON
// noise) is skipped rather than treated as an error.
package gitdiff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// keyValueLine matches a JSON string entry like `"some key": "some value"`
// after the leading "+" and surrounding whitespace have been stripped.
var keyValueLine = regexp.MustCompile(`^"((?:[^"\\]|\\.)*)"\s*:\s*"(?:[^"\\]|\\.)*"$`)

// Diff runs `git diff <baseline> -- <path>` in dir and returns the raw
// unified diff text. A failure here (not a git repository, git missing,
// unknown baseline) is recoverable from the caller's point of view: the
// run continues with missing-key detection only.
func Diff(ctx context.Context, dir, path, baseline string) (string, error) {
	if baseline == "" {
		baseline = "HEAD"
	}

	cmd := exec.CommandContext(ctx, "git", "diff", baseline, "--", path)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git diff %s -- %s: %s", baseline, path, msg)
	}

	return stdout.String(), nil
}

// AddedKeys extracts the set of keys whose value line was added in the
// diff. Only lines after the first hunk header are considered; trailing
// commas are stripped before matching.
func AddedKeys(diff string) map[string]struct{} {
	keys := make(map[string]struct{})

	inHunk := false
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "@@") {
			inHunk = true
			continue
		}
		if !inHunk {
			continue
		}
		// "+++ b/file" headers only appear before the first hunk, so a
		// plain "+" prefix check is safe here.
		if !strings.HasPrefix(line, "+") {
			continue
		}

		entry := strings.TrimSpace(line[1:])
		entry = strings.TrimSuffix(entry, ",")
		m := keyValueLine.FindStringSubmatch(entry)
		if m == nil {
			continue
		}

		key, err := unquoteJSON(m[1])
		if err != nil {
			continue
		}
		keys[key] = struct{}{}
	}

	return keys
}

// unquoteJSON decodes the escaped inner text of a JSON string literal.
func unquoteJSON(inner string) (string, error) {
	var s string
	if err := json.Unmarshal([]byte(`"`+inner+`"`), &s); err != nil {
		return "", err
	}
	return s, nil
}
