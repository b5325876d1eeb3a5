package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewHealthCmd reports component reachability: store, warehouse, artifact
// backend, and AI provider.
func NewHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity of all configured backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return errExit(err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			healthy := true

			st, err := a.openStore()
			if err != nil {
				printCheck("store", false, err.Error())
				healthy = false
			} else {
				printCheck("store", true, a.cfg.Store.Driver)
				_ = st.Close()
			}

			wh := a.warehouseClient()
			if err := wh.Connect(ctx); err != nil {
				printCheck("warehouse", false, err.Error())
				healthy = false
			} else {
				if err := wh.TestConnection(ctx); err != nil {
					printCheck("warehouse", false, err.Error())
					healthy = false
				} else {
					printCheck("warehouse", true, a.cfg.Warehouse.Account)
				}
				_ = wh.Close()
			}

			writer := a.artifactWriter(ctx)
			if a.cfg.Artifacts.Bucket == "" {
				printCheck("artifacts", true, "disabled")
			} else {
				ok := writer.Health(ctx)
				printCheck("artifacts", ok, a.cfg.Artifacts.Bucket)
				healthy = healthy && ok
			}

			provider := a.aiProvider()
			h, err := provider.Health(ctx)
			if err != nil || !h.OK {
				detail := h.Detail
				if err != nil {
					detail = err.Error()
				}
				printCheck("ai", false, detail)
				healthy = false
			} else {
				printCheck("ai", true, h.Model)
			}

			if !healthy {
				return errExit(fmt.Errorf("one or more components are unhealthy"))
			}
			return nil
		},
	}
}

func printCheck(name string, ok bool, detail string) {
	mark := color.GreenString("ok")
	if !ok {
		mark = color.RedString("fail")
	}
	fmt.Printf("%-10s %s  %s\n", name, mark, detail)
}
