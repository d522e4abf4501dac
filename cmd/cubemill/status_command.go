package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cubemill/internal/config"
	"cubemill/internal/ledger"
	"cubemill/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show environment checks and run ledger summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				out := cmd.OutOrStdout()

				checks := preflight.RunAll(cmd.Context(), cfg)
				checkRows := make([][]string, 0, len(checks))
				for _, check := range checks {
					checkRows = append(checkRows, []string{check.Name, renderCheckState(check.Passed), check.Detail})
				}
				fmt.Fprintln(out, renderTable([]string{"Check", "State", "Detail"}, checkRows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft}))

				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if len(stats) == 0 {
					fmt.Fprintln(out, "Ledger is empty")
					return nil
				}
				statRows := make([][]string, 0, len(stats))
				for _, status := range []ledger.Status{
					ledger.StatusPending, ledger.StatusPlanning, ledger.StatusProcessing,
					ledger.StatusMerging, ledger.StatusCompleted, ledger.StatusRecovered,
					ledger.StatusFailed,
				} {
					if count, ok := stats[status]; ok {
						statRows = append(statRows, []string{renderStatus(status), strconv.Itoa(count)})
					}
				}
				fmt.Fprintln(out, renderTable([]string{"Status", "Units"}, statRows,
					[]columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}
