// Package engine defines the transcription engine handle the worker pool
// hands out. A handle owns loaded model state and is reused across jobs until
// the pool tears it down.
package engine

import (
	"context"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Result is the output of a single transcription run.
type Result struct {
	Text       string
	Language   string
	Confidence float64
}

// Engine transcribes audio files. Implementations are not safe for
// concurrent use; the pool guarantees one job per handle at a time.
type Engine interface {
	Transcribe(ctx context.Context, path string) (Result, error)
	Close() error
}

// Factory creates engine handles on demand so the pool can populate slots
// lazily and rebuild them after teardown.
type Factory func() (Engine, error)

// LanguageDisplayName renders a detected language tag as an English display
// name, falling back to the raw tag when it cannot be parsed.
func LanguageDisplayName(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return code
	}
	return name
}
