package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"scribe/internal/engine"
	"scribe/internal/testsupport"
)

func TestLanguageDisplayName(t *testing.T) {
	if got := engine.LanguageDisplayName("en"); got != "English" {
		t.Fatalf("expected English, got %q", got)
	}
	if got := engine.LanguageDisplayName("de"); got != "German" {
		t.Fatalf("expected German, got %q", got)
	}
	if got := engine.LanguageDisplayName("zz-not-a-language"); got != "zz-not-a-language" {
		t.Fatalf("expected raw tag fallback, got %q", got)
	}
	if got := engine.LanguageDisplayName(""); got != "" {
		t.Fatalf("expected empty passthrough, got %q", got)
	}
}

func TestWhisperTranscribeParsesOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	eng, err := engine.NewWhisper(cfg)
	if err != nil {
		t.Fatalf("NewWhisper: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })

	audio := filepath.Join(cfg.Paths.StagingDir, "clip.ogg")
	testsupport.WriteFile(t, audio, 32)

	eng.WithCommandRunner(func(ctx context.Context, name string, args ...string) (string, error) {
		outDir := ""
		for i, arg := range args {
			if arg == "--output_dir" && i+1 < len(args) {
				outDir = args[i+1]
			}
		}
		if outDir == "" {
			t.Fatalf("expected --output_dir in args %v", args)
		}
		payload := `{"text": " hello world ", "language": "en", "segments": [{"text": "hello world", "avg_logprob": -0.1}]}`
		if err := os.WriteFile(filepath.Join(outDir, "clip.json"), []byte(payload), 0o644); err != nil {
			t.Fatalf("write output: %v", err)
		}
		return "", nil
	})

	result, err := eng.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "hello world" {
		t.Fatalf("expected trimmed text, got %q", result.Text)
	}
	if result.Language != "en" {
		t.Fatalf("expected en, got %q", result.Language)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Fatalf("expected confidence in (0,1], got %f", result.Confidence)
	}
}

func TestWhisperTranscribeAssemblesSegments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	eng, err := engine.NewWhisper(cfg)
	if err != nil {
		t.Fatalf("NewWhisper: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })

	audio := filepath.Join(cfg.Paths.StagingDir, "clip.ogg")
	testsupport.WriteFile(t, audio, 32)

	eng.WithCommandRunner(func(ctx context.Context, name string, args ...string) (string, error) {
		outDir := args[len(args)-1]
		for i, arg := range args {
			if arg == "--output_dir" && i+1 < len(args) {
				outDir = args[i+1]
			}
		}
		payload := `{"text": "", "language": "de", "segments": [{"text": " erste "}, {"text": " zweite "}]}`
		if err := os.WriteFile(filepath.Join(outDir, "clip.json"), []byte(payload), 0o644); err != nil {
			t.Fatalf("write output: %v", err)
		}
		return "", nil
	})

	result, err := eng.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "erste zweite" {
		t.Fatalf("expected segments joined, got %q", result.Text)
	}
}

func TestWhisperTranscribeFailsOnMissingSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	eng, err := engine.NewWhisper(cfg)
	if err != nil {
		t.Fatalf("NewWhisper: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })

	if _, err := eng.Transcribe(context.Background(), filepath.Join(cfg.Paths.StagingDir, "missing.ogg")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestWhisperCloseIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	eng, err := engine.NewWhisper(cfg)
	if err != nil {
		t.Fatalf("NewWhisper: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := eng.Transcribe(context.Background(), "whatever"); err == nil {
		t.Fatal("expected closed engine to refuse work")
	}
}
