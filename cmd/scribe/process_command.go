package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribe/internal/api"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Ask the daemon to start working the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Process(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch resp.State {
			case api.ProcessAccepted:
				fmt.Fprintln(out, "Processing started")
			case api.ProcessAlreadyActive:
				fmt.Fprintln(out, "Processing already in progress")
			case api.ProcessEmptyQueue:
				fmt.Fprintln(out, "Queue is empty; nothing to process")
			default:
				fmt.Fprintf(out, "Daemon reported state %q\n", resp.State)
			}
			return nil
		},
	}
}
