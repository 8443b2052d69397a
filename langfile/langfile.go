// Package langfile implements reading and writing of flat key-value JSON
// translation files.
//
// The expected file format is a single JSON object mapping string keys to
// string values:
//
//	{
//	    "welcome.title": "Welcome back",
//	    "welcome.subtitle": "Sign in to continue"
//	}
//
// No nesting is allowed. Key order from the file is preserved on write;
// files are written pretty-printed with 2-space indentation.
package langfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File represents a parsed flat translation file.
type File struct {
	Values map[string]string
	// keys preserves the original key order from the file, plus any keys
	// added afterwards in insertion order.
	keys []string
}

// New returns an empty translation file.
func New() *File {
	return &File{Values: make(map[string]string)}
}

// ParseFile reads and parses a flat JSON translation file.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

// Parse parses flat JSON translation data, preserving key order.
func Parse(data []byte) (*File, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))

	// Read opening brace.
	t, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := t.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected {, got %v", t)
	}

	f := New()

	for dec.More() {
		// Read key.
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := kt.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %T", kt)
		}

		// Read value.
		vt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		value, ok := vt.(string)
		if !ok {
			return nil, fmt.Errorf("expected string value for key %q, got %T", key, vt)
		}

		if _, exists := f.Values[key]; !exists {
			f.keys = append(f.keys, key)
		}
		f.Values[key] = value
	}

	return f, nil
}

// Keys returns the keys in their original order.
func (f *File) Keys() []string {
	if len(f.keys) > 0 {
		return f.keys
	}

	// Fallback: sorted keys.
	keys := make([]string, 0, len(f.Values))
	for k := range f.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value for a key and whether it exists.
func (f *File) Get(key string) (string, bool) {
	v, ok := f.Values[key]
	return v, ok
}

// Has reports whether the file contains the key.
func (f *File) Has(key string) bool {
	_, ok := f.Values[key]
	return ok
}

// Set stores a value, appending the key to the order if it is new.
func (f *File) Set(key, value string) {
	if _, exists := f.Values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.Values[key] = value
}

// Len returns the number of entries.
func (f *File) Len() int {
	return len(f.Values)
}

// WriteFile writes the translation file to disk, preserving key order and
// using 2-space indentation.
func (f *File) WriteFile(path string) error {
	data := f.Marshal()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Marshal produces the JSON output with 2-space indentation, keys in
// original order.
func (f *File) Marshal() []byte {
	var b strings.Builder
	b.WriteString("{\n")

	keys := f.Keys()
	for i, k := range keys {
		b.WriteString(fmt.Sprintf("  %s: %s", jsonString(k), jsonString(f.Values[k])))
		if i < len(keys)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}\n")

	return []byte(b.String())
}

// jsonString encodes s as a JSON string. Control characters come out as
// \u escapes, so the output always parses back. HTML escaping is disabled
// to keep text like "a < b" unchanged on a round trip.
func jsonString(s string) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(b.String(), "\n")
}
