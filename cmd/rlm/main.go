// Package main provides the CLI entry point for the RLM runtime: a
// thin harness wiring a configuration file to one pkg/rlmapi.Run call.
//
// Run a task against a corpus directory:
//
//	rlm run --config rlm.yaml --corpus-root ./myrepo --context "some code" --task "summarize the entry point"
//	rlm run --config rlm.yaml --corpus-root ./myrepo --path cmd/main.go --task "summarize this file"
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/rlm/internal/config"
	"github.com/haasonsaas/rlm/internal/observability"
	"github.com/haasonsaas/rlm/pkg/rlmapi"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "rlm",
		Short:        "RLM - recursive language model runtime",
		Long:         `rlm drives one task through the recursive-language-model session loop against a local codebase, governed by a configured token/cost/call/time budget.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd(), buildValidateCmd())
	return rootCmd
}

// buildRunCmd wires config -> rlmapi.Runtime -> rlmapi.Run -> stdout,
// in the single-shot style of nexus's "prompt" debug command.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		corpusRoot string
		workerPath string
		task       string
		ctxText    string
		path       string
		model      string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one task through the session loop and print its result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(configPath) == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, warnings, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			for _, w := range warnings {
				slog.Warn(w.String())
			}

			logger := observability.NewLogger(observability.LogConfig{
				Level:  logLevel,
				Output: cmd.ErrOrStderr(),
			})

			rt, err := rlmapi.New(*cfg, corpusRoot, workerPath,
				rlmapi.WithObserver(logger, observability.NewMetrics(), nil, nil),
			)
			if err != nil {
				return fmt.Errorf("construct runtime: %w", err)
			}
			defer rt.Close()

			res, runErr := rt.Run(cmd.Context(), rlmapi.Request{
				Task:    task,
				Context: ctxText,
				Path:    path,
				Model:   model,
			})
			if runErr != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(runErr)
				return fmt.Errorf("rlm_run failed: %w", runErr)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")
	cmd.Flags().StringVar(&corpusRoot, "corpus-root", ".", "Directory the navigation tools and path argument resolve against")
	cmd.Flags().StringVar(&workerPath, "worker-path", "rlm-sandbox-worker", "Path to the rlm-sandbox-worker binary (process backend only)")
	cmd.Flags().StringVar(&task, "task", "", "Task description for the root model")
	cmd.Flags().StringVar(&ctxText, "context", "", "Inline context text (mutually exclusive with --path)")
	cmd.Flags().StringVar(&path, "path", "", "Corpus-relative path whose contents seed the context (mutually exclusive with --context)")
	cmd.Flags().StringVar(&model, "model", "", "Override the configured root model (requires llm.allow_model_override)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	return cmd
}

// buildValidateCmd checks a configuration file without running anything,
// surfacing the same warnings/errors config.Load would hit at startup.
func buildValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file and print any warnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(configPath) == "" {
				return fmt.Errorf("--config is required")
			}
			_, warnings, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			for _, w := range warnings {
				fmt.Fprintln(cmd.OutOrStdout(), w.String())
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config is valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")
	return cmd
}
