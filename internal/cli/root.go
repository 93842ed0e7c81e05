// Package cli provides the rosterlab command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/config"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  = slog.New(slog.DiscardHandler)
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rosterlab",
		Short: "Rosterlab - HTML extraction rule engine",
		Long: `Rosterlab turns scraped club and league HTML pages into structured
records using declarative extraction rules.

Rules are validated, sandbox-scanned and simulated against the corpus
before anything is applied; every apply is audited.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			var err error
			cfg, err = config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			logger = newLogger(cfg)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default rosterlab.yaml)")
	rootCmd.PersistentFlags().String("rules", "", "rule document path")
	rootCmd.PersistentFlags().String("corpus", "", "corpus directory of HTML files")
	rootCmd.PersistentFlags().String("state", "", "state database path")
	rootCmd.PersistentFlags().Bool("disallow-custom-code", false, "reject rule documents containing expression code")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newValidateCommand(),
		newScanCommand(),
		newPreviewCommand(),
		newCoverageCommand(),
		newGatesCommand(),
		newSimulateCommand(),
		newApplyCommand(),
		newMigrateCommand(),
		newDiffCommand(),
		newSnapshotCommand(),
		newExportCommand(),
		newImportCommand(),
		newVersionsCommand(),
		newAuditCommand(),
	)
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if !cfg.Verbose && !strings.EqualFold(cfg.LogLevel, "debug") {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadRuleText reads the configured rule document.
func loadRuleText() (string, error) {
	raw, err := os.ReadFile(cfg.RulesPath)
	if err != nil {
		return "", fmt.Errorf("failed to read rules from %s: %w", cfg.RulesPath, err)
	}
	return string(raw), nil
}

// loadRuleSet parses and validates the configured rule document.
func loadRuleSet() (*rules.RuleSet, string, error) {
	text, err := loadRuleText()
	if err != nil {
		return nil, "", err
	}
	payload, err := rules.ParseDocument(text)
	if err != nil {
		return nil, "", err
	}
	rs, err := rules.FromMapping(payload)
	if err != nil {
		return nil, "", err
	}
	return rs, text, nil
}

// loadCorpus reads every .html file under the configured corpus directory,
// keyed by path relative to the directory.
func loadCorpus() (map[string]string, error) {
	out := map[string]string{}
	err := filepath.WalkDir(cfg.CorpusDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".html") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		rel, err := filepath.Rel(cfg.CorpusDir, path)
		if err != nil {
			rel = path
		}
		out[filepath.ToSlash(rel)] = string(raw)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus %s: %w", cfg.CorpusDir, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no .html files found in corpus %s", cfg.CorpusDir)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
