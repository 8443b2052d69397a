// Command ail does incremental, batched AI translation of flat
// key-value JSON locale files.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MartinPavlik/ai-localization/backend"
	"github.com/MartinPavlik/ai-localization/config"
	"github.com/MartinPavlik/ai-localization/gitdiff"
	"github.com/MartinPavlik/ai-localization/langfile"
	"github.com/MartinPavlik/ai-localization/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flag
// ---------------------------------------------------------------------------

var rootDir string

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ail",
		Short: "AI localization: batched AI translation of JSON locale files",
		Long: `ail translates flat key-value JSON locale files with an AI backend.

Detects which keys need translation (keys changed since the git baseline
plus keys missing from each target), sends them to the translation backend
in bounded batches with rate-limit-aware retry, and merges results back
without losing existing translations. A failed batch never aborts the run:
its keys stay untranslated and the failure is reported at the end.

Commands:
  status      Show per-target pending-key counts without translating
  init        Write a starter ail.yaml and create missing target files
  translate   Run a translation pass
  auth        Manage backend credentials`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global persistent flag, inherited by all subcommands
	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory (where ail.yaml lives)")

	root.AddCommand(
		newStatusCmd(),
		newInitCmd(),
		newTranslateCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ail version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// init (starter config + missing target files)
// ---------------------------------------------------------------------------

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter ail.yaml and create missing target files",
		Long: `Prepare a project for translation.

Without an ail.yaml, writes a commented starter configuration and stops so
you can fill it in. With one, creates every missing target file as an empty
mapping so incremental runs have something to merge into.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootDir)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					path, werr := config.WriteStarter(rootDir)
					if werr != nil {
						return werr
					}
					logSuccess("Wrote %s. Edit it, then run 'ail init' again", path)
					return nil
				}
				return err
			}

			targetDir := filepath.Join(rootDir, cfg.TargetDir)
			created := 0
			for _, target := range cfg.Targets {
				path := filepath.Join(targetDir, target)
				if _, err := os.Stat(path); err == nil {
					continue
				}
				if err := langfile.New().WriteFile(path); err != nil {
					return fmt.Errorf("creating %s: %w", path, err)
				}
				logInfo("Created %s", path)
				created++
			}
			if created == 0 {
				logSuccess("All %d target files exist", len(cfg.Targets))
			} else {
				logSuccess("Created %d target file(s)", created)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// status (read-only: pending-key counts per target)
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-target pending-key counts without translating",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootDir)
			if err != nil {
				return err
			}

			sourceDir := filepath.Join(rootDir, cfg.SourceDir)
			source, err := langfile.ParseFile(filepath.Join(sourceDir, cfg.SourceFile))
			if err != nil {
				return fmt.Errorf("source mapping: %w", err)
			}

			changed := map[string]struct{}{}
			if !cfg.Recreate {
				diff, err := gitdiff.Diff(cmd.Context(), sourceDir, cfg.SourceFile, cfg.Baseline)
				if err != nil {
					logWarning("Diff unavailable, showing missing keys only: %v", err)
				} else {
					changed = gitdiff.AddedKeys(diff)
				}
			}

			fmt.Printf("Source: %s (%d keys)\n\n", cfg.SourceFile, source.Len())
			for _, target := range cfg.Targets {
				path := filepath.Join(rootDir, cfg.TargetDir, target)
				tf, err := langfile.ParseFile(path)
				if err != nil {
					fmt.Printf("  %-20s %s\n", target, "missing (run 'ail init')")
					continue
				}
				pending := translate.ResolveSet(source, tf, changed, cfg.Recreate)
				if len(pending) == 0 {
					fmt.Printf("  %-20s up to date (%d keys)\n", target, tf.Len())
				} else {
					fmt.Printf("  %-20s %d key(s) pending\n", target, len(pending))
				}
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// translate (the run)
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		apiKey   string
		recreate bool
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Run a translation pass",
		Long: `Translate pending keys for every configured target file.

Pending keys are those added or changed since the git baseline plus those
missing from the target. With --recreate, every source key is translated
and existing target content is ignored. Batch failures are collected and
reported at the end; successful batches are always merged and written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootDir)
			if err != nil {
				return err
			}
			if recreate {
				cfg.Recreate = true
			}

			key, err := config.ResolveAPIKey(apiKey)
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("no API key: use --api-key, AIL_API_KEY, or 'ail auth login'")
			}

			client := &backend.Retrying{
				Backend: &backend.Client{
					BaseURL:     cfg.Assistant.BaseURL,
					APIKey:      key,
					AssistantID: cfg.Assistant.ID,
				},
				MaxRetries: cfg.MaxRetries,
				OnLog:      logWarning,
			}

			report, err := translate.Run(cmd.Context(), translate.Options{
				Client:           client,
				ProductContext:   cfg.ProductContext,
				Instructions:     cfg.Instructions,
				SourceDir:        filepath.Join(rootDir, cfg.SourceDir),
				SourceFile:       cfg.SourceFile,
				TargetDir:        filepath.Join(rootDir, cfg.TargetDir),
				Targets:          cfg.Targets,
				Recreate:         cfg.Recreate,
				Baseline:         cfg.Baseline,
				FileParallelism:  cfg.FileParallelism,
				BatchParallelism: cfg.BatchParallelism,
				ChunkSize:        cfg.ChunkSize,
				OnLog:            logInfo,
				OnError:          logWarning,
				Verbose:          verbose,
			})
			if err != nil {
				return err
			}

			printReport(report, verbose)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "Backend API key (overrides env and stored credentials)")
	cmd.Flags().BoolVar(&recreate, "recreate", false, "Translate every key from scratch, ignoring existing target content")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Per-batch logging and full error context")

	return cmd
}

// printReport writes the per-target summary and the error list. A run with
// errors still returns normally; success is the empty error list, not the
// exit code.
func printReport(report *translate.Report, verbose bool) {
	for _, tr := range report.Targets {
		switch {
		case tr.UpToDate:
			logInfo("%s: up to date", tr.Target)
		case len(tr.Errors) == 0:
			logSuccess("%s: translated %d key(s)", tr.Target, tr.Translated)
		default:
			logWarning("%s: translated %d of %d key(s), %d batch(es) failed",
				tr.Target, tr.Translated, tr.Needed, len(tr.Errors))
		}
	}

	if report.Success() {
		logSuccess("Run fully successful")
		return
	}

	logError("Completed with %d error(s):", len(report.Errors))
	for _, rec := range report.Errors {
		logError("  %v", rec)
		if verbose {
			if rec.RawResponse != "" {
				fmt.Fprintf(os.Stderr, "    raw response: %s\n", rec.RawResponse)
			}
			if rec.Prompt != "" {
				fmt.Fprintf(os.Stderr, "    prompt sent:\n%s\n", rec.Prompt)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// auth (credential store)
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Manage backend credentials",
	}

	var apiKey string
	login := &cobra.Command{
		Use:   "login",
		Short: "Store the backend API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				return fmt.Errorf("--api-key is required")
			}
			if err := config.SaveAPIKey(apiKey); err != nil {
				return err
			}
			logSuccess("API key stored")
			return nil
		},
	}
	login.Flags().StringVar(&apiKey, "api-key", "", "Backend API key to store")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DeleteAPIKey(); err != nil {
				return err
			}
			logSuccess("Credentials removed")
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether credentials are configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := config.ResolveAPIKey("")
			if err != nil {
				return err
			}
			if key == "" {
				logWarning("No API key configured")
			} else {
				logSuccess("API key configured")
			}
			return nil
		},
	}

	auth.AddCommand(login, logout, status)
	return auth
}
