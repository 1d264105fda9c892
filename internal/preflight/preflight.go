// Package preflight runs startup checks before the daemon accepts work.
package preflight

import (
	"context"
	"fmt"
	"strings"

	"scribe/internal/config"
	"scribe/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDiskSpace("Staging free space", cfg.Paths.StagingDir),
	}

	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		result := Result{Name: status.Name, Passed: status.Available}
		if status.Available {
			result.Detail = status.Command
		} else {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}

	return results
}

// Failed collects the names of checks that did not pass.
func Failed(results []Result) []string {
	var failed []string
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result.Name)
		}
	}
	return failed
}

// Summarize renders results as a single line for error messages.
func Summarize(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, result := range results {
		state := "ok"
		if !result.Passed {
			state = "failed"
		}
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", result.Name, state, result.Detail))
	}
	return strings.Join(parts, "; ")
}
