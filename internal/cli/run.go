package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dataflowguard/dto/internal/events"
	"github.com/dataflowguard/dto/internal/orchestrator"
	"github.com/dataflowguard/dto/internal/store"
)

// NewRunCmd executes a suite and waits for the terminal state.
func NewRunCmd() *cobra.Command {
	var dryRun bool
	var budget int
	var follow bool

	cmd := &cobra.Command{
		Use:   "run <suite>",
		Short: "Execute a test suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return errExit(err)
			}
			st, err := a.openStore()
			if err != nil {
				return errExit(err)
			}
			defer func() { _ = st.Close() }()

			ctx := cmd.Context()
			o := a.orchestrator(ctx, st)

			runID, err := o.StartRun(ctx, args[0], orchestrator.RunOptions{
				DryRun:        dryRun,
				BudgetSeconds: budget,
			})
			if err != nil {
				return errExit(err)
			}
			fmt.Printf("run %s started\n", runID)

			sub, err := o.Follow(ctx, runID)
			if err != nil {
				return errExit(err)
			}
			defer sub.Close()

			for ev := range sub.C() {
				switch ev.Type {
				case events.EventTestResult:
					if follow {
						printTestEvent(ev)
					}
				case events.EventRunCompleted:
					// Terminal; the channel closes right after.
				}
			}

			run, err := o.Status(ctx, runID)
			if err != nil {
				return errExit(err)
			}
			tests, err := st.ListTests(ctx, runID, 0, 0)
			if err != nil {
				return errExit(err)
			}
			printRunSummary(run, tests)

			if run.Status != store.RunCompleted {
				return errExit(fmt.Errorf("run %s finished with status %s", runID, run.Status))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compile every test without touching the warehouse")
	cmd.Flags().IntVar(&budget, "budget", 0, "Soft wall-clock budget in seconds")
	cmd.Flags().BoolVar(&follow, "follow", false, "Stream test results as they finish")
	return cmd
}

// NewStatusCmd prints a run and its recorded tests.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return errExit(err)
			}
			st, err := a.openStore()
			if err != nil {
				return errExit(err)
			}
			defer func() { _ = st.Close() }()

			ctx := cmd.Context()
			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return errExit(err)
			}
			tests, err := st.ListTests(ctx, run.ID, 0, 0)
			if err != nil {
				return errExit(err)
			}
			printRunSummary(run, tests)

			artifactRecords, err := st.ListArtifacts(ctx, run.ID)
			if err == nil && len(artifactRecords) > 0 {
				fmt.Println("artifacts:")
				for _, artifact := range artifactRecords {
					fmt.Printf("  %-8s %s\n", artifact.Kind, artifact.Path)
				}
			}
			return nil
		},
	}
}

// NewCancelCmd requests cancellation of a running run.
func NewCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return errExit(err)
			}
			st, err := a.openStore()
			if err != nil {
				return errExit(err)
			}
			defer func() { _ = st.Close() }()

			o := a.orchestrator(cmd.Context(), st)
			if err := o.Cancel(cmd.Context(), args[0]); err != nil {
				return errExit(err)
			}
			fmt.Printf("cancel requested for %s\n", args[0])
			return nil
		},
	}
}

// NewListRunsCmd lists recorded runs, newest first.
func NewListRunsCmd() *cobra.Command {
	var suiteName string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list-runs",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return errExit(err)
			}
			st, err := a.openStore()
			if err != nil {
				return errExit(err)
			}
			defer func() { _ = st.Close() }()

			runs, err := st.ListRuns(cmd.Context(), store.ListFilter{
				SuiteName: suiteName,
				Status:    store.RunStatus(status),
				Limit:     limit,
			})
			if err != nil {
				return errExit(err)
			}
			for _, run := range runs {
				fmt.Printf("%s  %-24s %-10s %s\n",
					run.ID, run.SuiteName, colorStatus(string(run.Status)),
					run.StartedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("%d runs\n", len(runs))
			return nil
		},
	}

	cmd.Flags().StringVar(&suiteName, "suite", "", "Filter by suite name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by run status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	return cmd
}

func printTestEvent(ev events.Event) {
	record, ok := ev.Payload.(store.RunTest)
	if !ok {
		return
	}
	fmt.Printf("  %s %s (%s, %dms)\n",
		colorStatus(string(record.Status)), record.Name, record.Kind, record.DurationMS)
}

func printRunSummary(run *store.Run, tests []store.RunTest) {
	var passed, failed, errored, skipped int
	for _, tc := range tests {
		switch tc.Status {
		case store.TestPass:
			passed++
		case store.TestFail:
			failed++
		case store.TestError:
			errored++
		case store.TestSkip:
			skipped++
		}
	}

	fmt.Printf("\nrun %s: %s\n", run.ID, colorStatus(string(run.Status)))
	fmt.Printf("suite %s, environment %s\n", run.SuiteName, run.Environment)
	if run.DurationMS != nil {
		fmt.Printf("duration %dms, %d bytes scanned\n", *run.DurationMS, run.BytesScanned)
	}
	if run.ErrorMessage != "" {
		fmt.Printf("%s %s\n", color.YellowString("note:"), run.ErrorMessage)
	}
	fmt.Printf("tests: %d total, %d passed, %d failed, %d error, %d skipped\n",
		len(tests), passed, failed, errored, skipped)

	for _, tc := range tests {
		if tc.Status == store.TestPass {
			continue
		}
		detail := tc.ErrorMessage
		if detail == "" {
			detail = fmt.Sprintf("%v", tc.Observed)
		}
		fmt.Printf("  %s %s: %s\n", colorStatus(string(tc.Status)), tc.Name, detail)
	}
}

func colorStatus(status string) string {
	switch status {
	case "pass", "completed":
		return color.GreenString(status)
	case "fail", "failed", "error":
		return color.RedString(status)
	case "cancelled", "skip":
		return color.YellowString(status)
	}
	return status
}
