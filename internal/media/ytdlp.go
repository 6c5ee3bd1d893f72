package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// YtDlp extracts streams with the yt-dlp executable.
type YtDlp struct {
	Path    string
	Timeout time.Duration
	// MaxOutput caps how much of the tool's stdout/stderr is kept for errors.
	MaxOutput int
}

// Extract runs yt-dlp bounded by Timeout and maxBytes. The result is an mp4
// next to destBase.
func (y *YtDlp) Extract(ctx context.Context, sourceURI, destBase string, maxBytes int64) (string, error) {
	timeout := y.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := destBase + ".mp4"
	args := []string{
		"-f", "best[ext=mp4]/best",
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"--max-filesize", strconv.FormatInt(maxBytes, 10),
		"--merge-output-format", "mp4",
		"-o", out,
		sourceURI,
	}

	path := y.Path
	if path == "" {
		path = "yt-dlp"
	}
	logs := &cappedBuffer{limit: y.MaxOutput}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = logs
	cmd.Stderr = logs

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		cleanup(out)
		return "", fmt.Errorf("yt-dlp: %w after %s", ErrTimeout, timeout)
	}
	if err != nil {
		cleanup(out)
		return "", fmt.Errorf("yt-dlp: %w: %s", err, strings.TrimSpace(logs.String()))
	}
	if _, statErr := os.Stat(out); statErr != nil {
		// yt-dlp exits 0 when it skips a file over --max-filesize.
		if strings.Contains(logs.String(), "max-filesize") {
			return "", fmt.Errorf("yt-dlp: %w", ErrTooLarge)
		}
		return "", fmt.Errorf("yt-dlp produced no file: %s", strings.TrimSpace(logs.String()))
	}
	return out, nil
}

// cleanup removes partial files yt-dlp leaves behind.
func cleanup(out string) {
	matches, _ := filepath.Glob(out + "*")
	for _, m := range matches {
		os.Remove(m)
	}
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest
// while still reporting success, so the child process never blocks on a pipe.
type cappedBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit <= 0 {
		c.limit = 64 << 10
	}
	if room := c.limit - len(c.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		c.buf = append(c.buf, p[:room]...)
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}
