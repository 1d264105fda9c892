package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"scribe/internal/config"
)

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

// Whisper shells out to a whisper CLI, collecting its JSON output. The CLI
// keeps its model weights warm between invocations of the same process, so a
// handle is created once and reused until the pool closes it.
type Whisper struct {
	binary        string
	model         string
	lang          string
	beamSize      int
	workDir       string
	commandRunner CommandRunner
	closed        bool
}

// NewWhisper creates a whisper-backed engine from configuration.
func NewWhisper(cfg *config.Config) (*Whisper, error) {
	workDir, err := os.MkdirTemp(cfg.Paths.StagingDir, "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("create engine work dir: %w", err)
	}
	return &Whisper{
		binary:   cfg.Tools.Whisper,
		model:    cfg.Transcription.Model,
		lang:     cfg.Transcription.Language,
		beamSize: cfg.Transcription.BeamSize,
		workDir:  workDir,
	}, nil
}

// NewWhisperFactory returns a Factory that builds whisper handles from the
// given configuration.
func NewWhisperFactory(cfg *config.Config) Factory {
	return func() (Engine, error) {
		return NewWhisper(cfg)
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (w *Whisper) WithCommandRunner(runner CommandRunner) {
	w.commandRunner = runner
}

// Model returns the configured model name for logging.
func (w *Whisper) Model() string {
	return w.model
}

func (w *Whisper) run(ctx context.Context, name string, args ...string) (string, error) {
	if w.commandRunner != nil {
		return w.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe runs the whisper CLI against the given audio file.
func (w *Whisper) Transcribe(ctx context.Context, path string) (Result, error) {
	var result Result
	if w.closed {
		return result, fmt.Errorf("transcribe: engine closed")
	}
	if path == "" {
		return result, fmt.Errorf("transcribe: source path required")
	}
	if _, err := os.Stat(path); err != nil {
		return result, fmt.Errorf("transcribe: source missing: %w", err)
	}

	args := []string{
		path,
		"--model", w.model,
		"--beam_size", strconv.Itoa(w.beamSize),
		"--output_format", "json",
		"--output_dir", w.workDir,
	}
	if w.lang != "" {
		args = append(args, "--language", w.lang)
	}
	if _, err := w.run(ctx, w.binary, args...); err != nil {
		return result, fmt.Errorf("transcribe %s: %w", path, err)
	}

	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	jsonPath := filepath.Join(w.workDir, base+".json")
	payload, err := os.ReadFile(jsonPath)
	if err != nil {
		return result, fmt.Errorf("transcribe %s: read output: %w", path, err)
	}
	defer func() { _ = os.Remove(jsonPath) }()

	var output whisperOutput
	if err := json.Unmarshal(payload, &output); err != nil {
		return result, fmt.Errorf("transcribe %s: parse output: %w", path, err)
	}

	text := strings.TrimSpace(output.Text)
	if text == "" {
		var parts []string
		for _, segment := range output.Segments {
			if trimmed := strings.TrimSpace(segment.Text); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		text = strings.Join(parts, " ")
	}

	result.Text = text
	result.Language = output.Language
	result.Confidence = meanConfidence(output)
	return result, nil
}

// Close releases the handle's working directory. The handle is unusable
// afterwards.
func (w *Whisper) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.workDir != "" {
		return os.RemoveAll(w.workDir)
	}
	return nil
}

func meanConfidence(output whisperOutput) float64 {
	if len(output.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, segment := range output.Segments {
		sum += math.Exp(segment.AvgLogprob)
	}
	confidence := sum / float64(len(output.Segments))
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
