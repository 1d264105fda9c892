package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <source>...",
		Short: "Queue media URLs or local files for transcription",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := make([]string, 0, len(args))
			for _, arg := range args {
				source, err := normalizeSource(arg)
				if err != nil {
					return err
				}
				sources = append(sources, source)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.AddSources(cmd.Context(), sources)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, item := range resp.Items {
				fmt.Fprintf(out, "Queued item #%d (%s)\n", item.ID, item.Source)
			}
			if resp.Existing > 0 {
				fmt.Fprintf(out, "%d source(s) already queued\n", resp.Existing)
			}
			return nil
		},
	}
}

func normalizeSource(arg string) (string, error) {
	trimmed := strings.TrimSpace(arg)
	if trimmed == "" {
		return "", errors.New("empty source")
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed, nil
	}

	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file does not exist: %s", absPath)
		}
		return "", fmt.Errorf("inspect file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", absPath)
	}
	return absPath, nil
}
