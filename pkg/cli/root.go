package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		output  string
		metaDB  string
	)

	rootCmd := &cobra.Command{
		Use:           "maskflow",
		Short:         "Sensitive-data discovery and masking orchestration",
		Long:          "Discover sensitive columns in a source dataset and copy it to a sink with masking applied.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateOutputFormat(output)
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before configuration")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&metaDB, "meta-db", "", "Metadata store path (overrides META_DB_PATH)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newMigrateCmd())

	// Runs
	rootCmd.AddCommand(newRunCmd(runDiscover))
	rootCmd.AddCommand(newRunCmd(runMask))
	rootCmd.AddCommand(newServeCmd())

	// Metadata administration
	rootCmd.AddCommand(newTypeMapCmd())
	rootCmd.AddCommand(newRulesetCmd())
	rootCmd.AddCommand(newMappingCmd())
	rootCmd.AddCommand(newEventsCmd())

	return rootCmd
}
