package cli

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dataflowguard/dto/internal/ai"
)

// NewCompileCmd turns a natural-language expression into IR via the AI
// provider. The SQL preview is shown only when policy allows it.
func NewCompileCmd() *cobra.Command {
	var dataset string
	var testType string

	cmd := &cobra.Command{
		Use:   "compile <expression>",
		Short: "Compile a natural-language check into a test definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return errExit(err)
			}

			provider := ai.NewRecorder(a.aiProvider(), a.cfg.AI.Model, a.cfg.AI.Seed)
			resp, err := provider.CompileExpression(cmd.Context(), ai.CompileRequest{
				Expression: args[0],
				Dataset:    dataset,
				TestType:   testType,
			})
			if err != nil {
				return errExit(err)
			}

			irJSON, err := json.MarshalIndent(resp.IR, "", "  ")
			if err != nil {
				return errExit(err)
			}
			fmt.Printf("confidence: %.2f\n", resp.Confidence)
			meta := provider.Last()
			if meta.Stubbed {
				fmt.Printf("%s produced by the deterministic local path\n", color.YellowString("note:"))
			}
			for _, w := range resp.Warnings {
				fmt.Printf("%s %s\n", color.YellowString("warning:"), w)
			}
			fmt.Printf("ir:\n%s\n", irJSON)

			if a.cfg.Policies.SQLPreviewAllowed() {
				fmt.Printf("sql preview:\n%s\n", resp.SQLPreview)
			} else {
				fmt.Printf("%s sql preview withheld by policy\n", color.YellowString("note:"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataset, "dataset", "", "Target dataset (db.schema.table)")
	cmd.Flags().StringVar(&testType, "type", "", "Hint for the test kind")
	return cmd
}
