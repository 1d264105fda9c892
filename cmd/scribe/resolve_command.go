package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/dedup"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id> <overwrite|cancel>",
		Short: "Resolve a duplicate output name for a parked item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid queue item id %q", args[0])
			}
			action, ok := dedup.ParseResolution(args[1])
			if !ok {
				return fmt.Errorf("unknown action %q (expected overwrite or cancel)", args[1])
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.Resolve(cmd.Context(), id, string(action)); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch action {
			case dedup.ResolutionOverwrite:
				fmt.Fprintf(out, "Item #%d will overwrite the existing transcript\n", id)
			case dedup.ResolutionCancel:
				fmt.Fprintf(out, "Item #%d cancelled\n", id)
			}
			return nil
		},
	}
}
