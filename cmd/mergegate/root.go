package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	configPath string
	eventPath  string
	sourcePath string
	workdir    string
	dataDir    string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "mergegate",
		Short: "Pull-request CI check orchestrator",
		Long: `Mergegate is a small self-hosted CI orchestrator. It loads declarative
workflow definitions, listens for pull-request events from a GitHub-compatible
forge, and runs each workflow as a DAG of jobs in isolated workspaces. Job
outcomes are reported back as commit statuses gating the merge.

Get started:
  mergegate validate workflows/    # lint workflow definitions
  mergegate run ci.yml             # run a workflow locally
  mergegate serve                  # start the webhook server`,
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and dispatcher",
		Long: `Serve loads every workflow definition from the configured directory,
then listens for pull_request webhook events. Qualifying events start one run
per matching workflow; job outcomes are posted as commit statuses when a forge
token is configured.`,
		RunE: runServe,
	}

	runCmd = &cobra.Command{
		Use:   "run <workflow.yml>",
		Short: "Run a workflow locally",
		Long: `Run executes a single workflow outside the server, against an event
read from --event (a JSON file) or a synthetic manual event. With --source the
checkout step copies a local tree instead of cloning. Exits non-zero if any
job fails.`,
		Args: cobra.ExactArgs(1),
		RunE: runLocal,
	}

	validateCmd = &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate workflow definitions",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}

	stepsCmd = &cobra.Command{
		Use:   "steps",
		Short: "List the registered step types",
		RunE:  runSteps,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default .mergegate.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	runCmd.Flags().StringVarP(&eventPath, "event", "e", "", "Path to a trigger event JSON file")
	runCmd.Flags().StringVarP(&sourcePath, "source", "s", "", "Local repository path for checkout steps")
	runCmd.Flags().StringVar(&workdir, "workdir", "", "Root directory for job workspaces")
	runCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for run history and job logs")

	rootCmd.AddCommand(serveCmd, runCmd, validateCmd, stepsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
