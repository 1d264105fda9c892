package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the transcription queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Queue(cmd.Context(), listStatuses...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Items) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}
			rows := make([][]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				rows = append(rows, []string{
					strconv.FormatInt(item.ID, 10),
					item.Status,
					itemLabel(item),
					item.ErrorMessage,
				})
			}
			writeTable(out,
				[]string{"ID", "Status", "Source", "Error"},
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
				rows)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func itemLabel(item api.QueueItem) string {
	if item.Title != "" {
		return item.Title
	}
	return item.Source
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove finished items and cancel active ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
				if err != nil {
					return fmt.Errorf("invalid queue item id %q", arg)
				}
				ids = append(ids, id)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			outcome, err := client.Remove(cmd.Context(), ids)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d, cancelled %d\n", outcome.Removed, outcome.Cancelled)
			if outcome.NotFound > 0 {
				fmt.Fprintf(out, "%d item(s) not found\n", outcome.NotFound)
			}
			if outcome.CannotRemove > 0 {
				fmt.Fprintf(out, "%d item(s) could not be removed\n", outcome.CannotRemove)
			}
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete completed items (or failed or all items)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearFailed && clearAll {
				return fmt.Errorf("--failed and --all are mutually exclusive")
			}
			scope := api.ClearScopeCompleted
			switch {
			case clearFailed:
				scope = api.ClearScopeFailed
			case clearAll:
				scope = api.ClearScopeAll
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Clear(cmd.Context(), scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d item(s)\n", resp.Removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Delete failed items instead of completed ones")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Delete every queue item")
	return cmd
}
