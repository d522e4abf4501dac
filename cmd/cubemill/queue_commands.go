package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cubemill/internal/config"
	"cubemill/internal/ledger"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the run ledger",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *ledger.Store) error {
				var statuses []ledger.Status
				for _, statusStr := range listStatuses {
					status := ledger.Status(statusStr)
					if !ledger.ValidStatus(status) {
						return fmt.Errorf("unknown status %q", statusStr)
					}
					statuses = append(statuses, status)
				}

				units, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(units) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Ledger is empty")
					return nil
				}

				rows := make([][]string, 0, len(units))
				for _, unit := range units {
					blocks := fmt.Sprintf("%d/%d", unit.BlocksDone+unit.BlocksSkipped, unit.BlocksTotal)
					detail := unit.OutputPath
					if unit.ErrorMessage != "" {
						detail = unit.ErrorMessage
					}
					rows = append(rows, []string{
						strconv.FormatInt(unit.ID, 10),
						unit.UnitID,
						renderStatus(unit.Status),
						blocks,
						detail,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Unit", "Status", "Blocks", "Output / Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Return failed units to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *ledger.Store) error {
				ids := make([]int64, 0, len(args))
				for _, arg := range args {
					id, err := strconv.ParseInt(arg, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid unit id %q", arg)
					}
					ids = append(ids, id)
				}
				count, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retried %d unit(s)\n", count)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var completedOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove ledger rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *ledger.Store) error {
				var (
					count int64
					err   error
				)
				if completedOnly {
					count, err = store.ClearCompleted(cmd.Context())
				} else {
					count, err = store.Clear(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d unit(s)\n", count)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&completedOnly, "completed", false, "Only remove completed and recovered rows")
	return cmd
}
