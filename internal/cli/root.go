// Package cli implements the dto command surface.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the dto root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dto",
		Short: "Data Testing Orchestrator",
		Long:  `dto compiles declarative data-quality tests to warehouse SQL, executes them under guardrails, and records reproducible run artifacts.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				_ = os.Setenv("DTO_LOG", "DEBUG")
			}
			InitLogging()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().String("config", "dto.yaml", "Path to the configuration file")

	cmd.AddCommand(
		NewHealthCmd(),
		NewImportCatalogCmd(),
		NewProposeCmd(),
		NewCompileCmd(),
		NewRunCmd(),
		NewStatusCmd(),
		NewCancelCmd(),
		NewListRunsCmd(),
		NewVersionCmd(),
	)

	return cmd
}
