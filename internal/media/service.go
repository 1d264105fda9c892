// Package media wraps the external acquisition and conversion binaries.
// Remote sources are fetched with yt-dlp and anything that is not already a
// plain audio file is converted with ffmpeg before transcription.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"scribe/internal/config"
	"scribe/internal/logging"
)

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

// Service shells out to yt-dlp and ffmpeg for media acquisition and
// conversion.
type Service struct {
	tools         config.Tools
	logger        *slog.Logger
	commandRunner CommandRunner
}

// NewService creates a media service using the configured tool binaries.
func NewService(cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		tools:  cfg.Tools,
		logger: logging.NewComponentLogger(logger, "media"),
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner CommandRunner) {
	s.commandRunner = runner
}

func (s *Service) run(ctx context.Context, name string, args ...string) (string, error) {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Title resolves the human title of a remote source without downloading it.
func (s *Service) Title(ctx context.Context, url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("title lookup: url required")
	}
	output, err := s.run(ctx, s.tools.YtDlp, "--get-title", "--no-playlist", url)
	if err != nil {
		return "", fmt.Errorf("title lookup: %w", err)
	}
	title := strings.TrimSpace(output)
	if title == "" {
		return "", fmt.Errorf("title lookup: empty title for %s", url)
	}
	// Multi-line output means the extractor expanded something; keep the first.
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	return title, nil
}

// FetchRemote downloads the best audio stream of a remote source into
// destDir and returns the path of the downloaded file.
func (s *Service) FetchRemote(ctx context.Context, url, destDir string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("fetch: url required")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("fetch: ensure dest dir: %w", err)
	}

	args := []string{
		"-f", "bestaudio/best",
		"--no-playlist",
		"--no-simulate",
		"--print", "after_move:filepath",
		"-o", filepath.Join(destDir, "%(title)s.%(ext)s"),
		url,
	}
	output, err := s.run(ctx, s.tools.YtDlp, args...)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}

	path := lastNonEmptyLine(output)
	if path == "" {
		return "", fmt.Errorf("fetch %s: downloader reported no output file", url)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("fetch %s: downloaded file missing: %w", url, err)
	}
	s.logger.Info("fetched remote source",
		logging.String("url", url),
		logging.String("path", path))
	return path, nil
}

// audioExtensions lists container formats the transcription engine accepts
// directly; anything else goes through ffmpeg first.
var audioExtensions = map[string]struct{}{
	".aac":  {},
	".flac": {},
	".m4a":  {},
	".mp3":  {},
	".ogg":  {},
	".opus": {},
	".wav":  {},
}

// NeedsConversion reports whether the file must be converted before it can
// be transcribed.
func NeedsConversion(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := audioExtensions[ext]
	return !ok
}

// ConvertToAudio transcodes the source into a mono 16kHz Opus file in
// destDir and returns the path of the converted file.
func (s *Service) ConvertToAudio(ctx context.Context, source, destDir string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("convert: source path required")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("convert: ensure dest dir: %w", err)
	}

	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	dest := filepath.Join(destDir, base+".ogg")

	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "libopus",
		dest,
	}
	if _, err := s.run(ctx, s.tools.FFmpeg, args...); err != nil {
		return "", fmt.Errorf("convert %s: %w", source, err)
	}
	if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("convert %s: output missing: %w", source, err)
	}
	s.logger.Info("converted media to audio",
		logging.String("source", source),
		logging.String("dest", dest))
	return dest, nil
}

func lastNonEmptyLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
