package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var headerOnly bool

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Display a stored transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("transcript name is required")
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			transcript, err := client.Transcript(cmd.Context(), name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if transcript.Header != "" {
				fmt.Fprintln(out, transcript.Header)
				fmt.Fprintln(out)
			}
			if !headerOnly {
				fmt.Fprintln(out, transcript.Content)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&headerOnly, "header", false, "Print only the transcript header")
	return cmd
}
