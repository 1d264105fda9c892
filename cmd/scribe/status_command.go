package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"scribe/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			st, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
			runningKind := statusOK
			if !st.Running {
				runningKind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Running", runningKind, yesNo(st.Running), colorize))
			fmt.Fprintln(out, renderStatusLine("PID", statusInfo, strconv.Itoa(st.PID), colorize))
			fmt.Fprintln(out, renderStatusLine("Workers", statusInfo, fmt.Sprintf("%d (pool %d)", st.Workers, st.PoolSize), colorize))
			fmt.Fprintln(out, renderStatusLine("Queue DB", statusInfo, st.QueueDBPath, colorize))

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Queue", colorize))
			fmt.Fprintln(out, renderStatusLine("Phase", statusInfo, string(st.Queue.Phase), colorize))
			fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, st.Queue.Progress, colorize))
			if st.Queue.Pending > 0 {
				fmt.Fprintln(out, renderStatusLine("Awaiting input", statusWarn,
					fmt.Sprintf("%d duplicate(s) need `scribe resolve`", st.Queue.Pending), colorize))
			}
			for _, name := range st.Queue.ProcessedList {
				fmt.Fprintln(out, renderStatusLine("Processed", statusOK, name, colorize))
			}
			for _, name := range st.Queue.FailedList {
				fmt.Fprintln(out, renderStatusLine("Failed", statusError, name, colorize))
			}
			if rows := buildStatusCountRows(st.Queue.ByStatus); len(rows) > 0 {
				writeTable(out, []string{"Status", "Count"}, []columnAlignment{alignLeft, alignRight}, rows)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Dependencies", colorize))
			for _, dep := range st.Dependencies {
				kind := statusOK
				message := dep.Command
				if !dep.Available {
					kind = statusError
					message = dep.Detail
				}
				fmt.Fprintln(out, renderStatusLine(dep.Name, kind, message, colorize))
			}
			return nil
		},
	}
}

func buildStatusCountRows(byStatus map[string]int) [][]string {
	rows := make([][]string, 0, len(byStatus))
	for _, status := range queue.AllStatuses() {
		count := byStatus[string(status)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{string(status), strconv.Itoa(count)})
	}
	return rows
}
