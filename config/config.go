// Package config loads and validates the ail.yaml configuration file.
//
// The configuration file is the sole source of truth for a run: every
// target file must be explicitly declared together with its prompt
// instructions. Defaults are applied before validation, and validation
// fails fast so a misconfigured run never reaches the backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/MartinPavlik/ai-localization/backend"
	"github.com/MartinPavlik/ai-localization/chunker"
)

// FileName is the default configuration file name.
const FileName = "ail.yaml"

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// Config is the top-level ail.yaml structure.
type Config struct {
	// SourceFile is the source mapping file name (e.g. "en.json").
	SourceFile string `yaml:"source_file"`
	// SourceDir is the directory containing the source file (default ".").
	SourceDir string `yaml:"source_dir,omitempty"`
	// Targets are the target file names to produce/update.
	Targets []string `yaml:"targets"`
	// TargetDir is the directory containing target files (default: source_dir).
	TargetDir string `yaml:"target_dir,omitempty"`
	// Instructions maps every target file name to its prompt instructions
	// (target language, tone, glossary).
	Instructions map[string]string `yaml:"instructions"`
	// ProductContext describes the product; included in every prompt.
	ProductContext string `yaml:"product_context"`
	// Recreate translates every source key from scratch (default false).
	Recreate bool `yaml:"recreate,omitempty"`
	// Baseline is the git ref changed keys are diffed against (default "HEAD").
	Baseline string `yaml:"baseline,omitempty"`
	// FileParallelism is the ceiling on target files in flight (default 10).
	FileParallelism int `yaml:"file_parallelism,omitempty"`
	// BatchParallelism is the ceiling on batches in flight per target
	// (default: file_parallelism).
	BatchParallelism int `yaml:"batch_parallelism,omitempty"`
	// ChunkSize is the maximum keys per batch (default 3000).
	ChunkSize int `yaml:"chunk_size,omitempty"`
	// MaxRetries is the rate-limit retry budget per batch (default 5).
	MaxRetries int `yaml:"max_retries,omitempty"`
	// Assistant configures the translation backend.
	Assistant Assistant `yaml:"assistant"`
}

// Assistant is the translation backend configuration. The API key is never
// read from the YAML file; it comes from a flag, the environment, or the
// credentials store.
type Assistant struct {
	// ID is the assistant identifier (e.g. "asst_...").
	ID string `yaml:"id"`
	// BaseURL overrides the API base URL.
	BaseURL string `yaml:"base_url,omitempty"`
	// APIKey is resolved at runtime, not declared in ail.yaml.
	APIKey string `yaml:"-"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads and validates ail.yaml from the given directory, with
// defaults applied.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &cfg, nil
}

// ApplyDefaults fills in every optional field that was left unset.
// Explicitly configured invalid values (e.g. a negative chunk size) are
// not clamped; Validate rejects them.
func (c *Config) ApplyDefaults() {
	if c.SourceDir == "" {
		c.SourceDir = "."
	}
	if c.TargetDir == "" {
		c.TargetDir = c.SourceDir
	}
	if c.Baseline == "" {
		c.Baseline = "HEAD"
	}
	if c.FileParallelism == 0 {
		c.FileParallelism = 10
	}
	if c.BatchParallelism == 0 {
		c.BatchParallelism = c.FileParallelism
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = chunker.DefaultChunkSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = backend.DefaultMaxRetries
	}
}

// Validate fails fast on anything that would break the run later.
func (c *Config) Validate() error {
	if c.SourceFile == "" {
		return fmt.Errorf("source_file is required")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	if c.Assistant.ID == "" {
		return fmt.Errorf("assistant.id is required")
	}
	if c.ProductContext == "" {
		return fmt.Errorf("product_context is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.FileParallelism <= 0 {
		return fmt.Errorf("file_parallelism must be positive, got %d", c.FileParallelism)
	}
	if c.BatchParallelism <= 0 {
		return fmt.Errorf("batch_parallelism must be positive, got %d", c.BatchParallelism)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}

	seen := make(map[string]bool, len(c.Targets))
	for _, target := range c.Targets {
		if target == "" {
			return fmt.Errorf("empty target file name")
		}
		if target == c.SourceFile && c.TargetDir == c.SourceDir {
			return fmt.Errorf("target %s is the source file", target)
		}
		if seen[target] {
			return fmt.Errorf("target %s listed twice", target)
		}
		seen[target] = true
		if _, ok := c.Instructions[target]; !ok {
			return fmt.Errorf("target %s has no instructions entry", target)
		}
	}

	return nil
}

// WriteStarter writes a commented starter ail.yaml into dir. It refuses to
// overwrite an existing file.
func WriteStarter(dir string) (string, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%s already exists", path)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return path, fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
		return path, fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

const starterConfig = `# ail.yaml: AI localization configuration.

# Source mapping: a flat key-value JSON file.
source_file: en.json
source_dir: locales

# Target files to produce/update. Each target MUST have an entry under
# "instructions" below or the run fails before anything is dispatched.
targets:
  - de.json
  - fr.json

instructions:
  de.json: Translate to German. Formal tone ("Sie").
  fr.json: Translate to French.

# Included in every prompt so the model knows the domain.
product_context: |
  Describe your product here.

assistant:
  id: asst_REPLACE_ME

# Tuning (defaults shown).
#file_parallelism: 10
#chunk_size: 3000
#max_retries: 5
#baseline: HEAD
#recreate: false
`
