// Package logs reads the daemon log file back for the CLI.
package logs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"
)

// tailChunk bounds how much of the file LastLines reads from the end.
const tailChunk = 256 * 1024

// LastLines returns up to limit trailing lines of the file and the offset
// just past the last byte read. A missing file yields no lines and offset 0.
func LastLines(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, err
	}
	size := info.Size()
	if limit <= 0 || size == 0 {
		return nil, size, nil
	}

	start := int64(0)
	if size > tailChunk {
		start = size - tailChunk
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return nil, 0, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, 0, err
	}
	if start > 0 {
		// Drop the partial first line of the chunk.
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			data = data[idx+1:]
		} else {
			data = nil
		}
	}

	lines := splitLines(data)
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, size, nil
}

// Follow streams lines appended after offset to sink until ctx is done. A
// shrinking file is treated as rotation and reading restarts from the top.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, sink func(string)) error {
	if poll <= 0 {
		poll = time.Second
	}
	var partial strings.Builder

	for {
		info, err := os.Stat(path)
		switch {
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return err
		case err == nil && info.Size() < offset:
			offset = 0
			partial.Reset()
		case err == nil && info.Size() > offset:
			consumed, err := emitFrom(path, offset, &partial, sink)
			if err != nil {
				return err
			}
			offset += consumed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func emitFrom(path string, offset int64, partial *strings.Builder, sink func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return 0, err
	}

	rest := data
	for {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			partial.Write(rest)
			break
		}
		partial.Write(rest[:idx])
		sink(partial.String())
		partial.Reset()
		rest = rest[idx+1:]
	}
	return int64(len(data)), nil
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
