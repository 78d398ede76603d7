package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/delayguard/internal/scenario"
)

var (
	simScenario string
	simFormat   string
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simScenario, "scenario", "", "Glob pattern for scenario YAML files (required)")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
	simulateCmd.MarkFlagRequired("scenario")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run scenario files against an in-process engine",
	Long: "Loads scenario YAML files matching a glob pattern and runs each one\n" +
		"against a fresh engine and simulated account with a controllable clock.\n\n" +
		"Exit code 0 if every step meets its expectation, 1 otherwise.\n" +
		"Use in CI to pin down allowlist policy before deploying it.",
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	results, err := simulate(simScenario)
	if err != nil {
		return err
	}

	switch simFormat {
	case "json":
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), scenario.FormatText(results))
	}

	for _, r := range results {
		if r.Failed > 0 {
			os.Exit(1)
		}
	}
	return nil
}

func simulate(pattern string) ([]*scenario.RunResult, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no scenario files match pattern: %s", pattern)
	}

	var results []*scenario.RunResult
	for _, path := range matches {
		r, err := scenario.LoadAndRun(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		results = append(results, r)
	}
	return results, nil
}
