package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dataflowguard/dto/internal/catalog"
)

// NewImportCatalogCmd validates and normalizes a catalog package file.
func NewImportCatalogCmd() *cobra.Command {
	var env string
	var out string

	cmd := &cobra.Command{
		Use:   "import-catalog <file>",
		Short: "Import a catalog package (JSON or YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return errExit(err)
			}

			pkg, warnings, err := catalog.ImportPackage(raw, env)
			if err != nil {
				return errExit(err)
			}

			fmt.Printf("%s imported catalog: %d datasets, environment %s\n",
				color.GreenString("ok"), len(pkg.Datasets), pkg.Environment)
			for _, w := range warnings {
				fmt.Printf("%s %s\n", color.YellowString("warning:"), w)
			}

			if out != "" {
				normalized, err := json.MarshalIndent(pkg, "", "  ")
				if err != nil {
					return errExit(err)
				}
				if err := os.WriteFile(out, normalized, 0o644); err != nil {
					return errExit(err)
				}
				fmt.Printf("normalized package written to %s\n", out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&env, "env", "dev", "Environment the catalog describes")
	cmd.Flags().StringVar(&out, "out", "", "Write the normalized package JSON to this path")
	return cmd
}

// NewProposeCmd emits heuristic test proposals for catalog datasets.
func NewProposeCmd() *cobra.Command {
	var catalogPath string
	var profile string
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "propose [dataset...]",
		Short: "Propose data-quality tests from catalog metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(catalogPath)
			if err != nil {
				return errExit(err)
			}
			pkg, _, err := catalog.ImportPackage(raw, "")
			if err != nil {
				return errExit(err)
			}

			proposals := catalog.ProposeTests(pkg, args, profile)
			if len(proposals) == 0 {
				fmt.Println("no proposals: no matching datasets or insufficient metadata")
				return nil
			}

			if asYAML {
				payload, err := proposalSuiteYAML("proposed_suite", "default", proposals)
				if err != nil {
					return errExit(err)
				}
				fmt.Print(string(payload))
				return nil
			}

			for _, p := range proposals {
				approvable := ""
				if p.AutoApprovable {
					approvable = color.GreenString(" [auto-approvable]")
				}
				fmt.Printf("%s  %s on %s (confidence %.2f)%s\n    %s\n",
					color.CyanString(string(p.Test.Kind)), p.Test.Name, p.Test.Dataset,
					p.Confidence, approvable, p.Rationale)
			}
			fmt.Printf("\n%d proposals\n", len(proposals))
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "catalog.json", "Catalog package file")
	cmd.Flags().StringVar(&profile, "profile", catalog.ProfileStandard, "Proposal profile: quick, standard, or deep")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Emit proposals as a runnable suite YAML")
	return cmd
}

// proposalSuiteYAML renders proposals as a suite document ParseSuite
// accepts, so proposed tests can be run as-is.
func proposalSuiteYAML(name, connection string, proposals []catalog.Proposal) ([]byte, error) {
	tests := make([]any, len(proposals))
	for i, p := range proposals {
		tests[i] = p.Test
	}
	return yaml.Marshal(map[string]any{
		"name":       name,
		"connection": connection,
		"tests":      tests,
	})
}
