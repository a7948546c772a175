// Command scout drives a SCOuT design-space exploration study: it
// loads a Study Definition, runs the suggest -> materialize -> build
// -> run -> aggregate -> report -> archive loop for the requested
// number of trials, and prints a summary.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/scttfrdmn/scout/internal/config"
	"github.com/scttfrdmn/scout/internal/orchestrator"
	"github.com/spf13/cobra"
)

// Exit codes: 0 on normal completion, 2 on config error,
// 3 on any other unrecoverable backend error.
const (
	exitOK           = 0
	exitConfigError  = 2
	exitBackendError = 3
)

func main() {
	var trials int
	var seed int64
	var resumePath string

	rootCmd := &cobra.Command{
		Use:   "scout <config.json>",
		Short: "Run a SCOuT design-space exploration study",
		Long: `scout reads a declarative JSON study definition describing a build
project, a measurement backend, a decision space, and one or more
objectives, then explores that space for a fixed number of trials,
archiving every trial to a CSV file as it runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], trials, seed, resumePath)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().IntVar(&trials, "trials", 100, "number of trials to run")
	rootCmd.Flags().Int64Var(&seed, "seed", 0, "override the study's random seed (0 keeps the configured seed)")
	rootCmd.Flags().StringVar(&resumePath, "resume", "", "replay an existing CSV archive into the optimizer before exploring further")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func run(ctx context.Context, configPath string, trials int, seed int64, resumePath string) error {
	def, err := config.Load(configPath, trials, seed)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "scout-trial-*")
	if err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	orch, err := orchestrator.New(ctx, def, workDir, resumePath)
	if err != nil {
		return err
	}

	summary, err := orch.Run(ctx, trials)
	if err != nil {
		return err
	}

	printSummary(summary, def)
	return nil
}

func printSummary(summary *orchestrator.Summary, def *config.StudyDefinition) {
	fmt.Printf("trials run: %d\n", summary.TrialsRun)
	if len(summary.BestByObjective) == 0 {
		fmt.Println("no feasible trial produced a usable objective vector")
	} else {
		fmt.Println("best observed value per objective:")
		for i, v := range summary.BestByObjective {
			name := fmt.Sprintf("objective_%d", i)
			if i < len(def.Objectives) {
				name = def.Objectives[i].Metric
			}
			fmt.Printf("  %s (%s): %g\n", name, def.Objectives[i].Goal, v)
		}
	}
	fmt.Printf("pareto front: %d trial(s)\n", len(summary.ParetoFront))
	for _, t := range summary.ParetoFront {
		fmt.Printf("  trial %d: %v -> %v\n", t.TrialID, t.Assignment, t.Aggregated)
	}
	fmt.Printf("archive: %s\n", filepath.Clean(def.CSVLog))
}

// exitCodeFor maps a run error to the CLI's exit code convention.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	if _, ok := err.(*config.ValidationError); ok || strings.HasPrefix(err.Error(), "config_error") {
		log.Printf("config error: %v", err)
		return exitConfigError
	}
	log.Printf("unrecoverable error: %v", err)
	return exitBackendError
}
