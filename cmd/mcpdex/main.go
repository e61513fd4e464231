package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpdex-dev/mcpdex/internal/catalog"
	"github.com/mcpdex-dev/mcpdex/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "mcpdex",
	Short: "MCP server catalog",
	Long:  `mcpdex discovers MCP servers, reconciles them into canonical records, and validates protocol conformance.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the catalog API server",
	Long:  "Run the HTTP API with the periodic discovery loop and the validation orchestrator.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return catalog.App(cmd.Context())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one discovery cycle and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return catalog.RunSyncOnce(cmd.Context())
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <canonical-id>",
	Short: "Validate one server and exit",
	Long:  "Run a conformance validation attempt against the given canonical identity, e.g. https://github.com/acme/widget.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requester, err := cmd.Flags().GetString("requester")
		if err != nil {
			return err
		}
		return catalog.RunValidateOnce(cmd.Context(), args[0], requester)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker <request-id>",
	Short: "Execute one dispatched validation request and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return catalog.RunWorker(cmd.Context(), args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("mcpdex %s (commit: %s, built: %s)\n", version.Version, version.GitCommit, version.BuildDate)
	},
}

func init() {
	validateCmd.Flags().String("requester", "cli", "Requester identity recorded on the validation request")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
