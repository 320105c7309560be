package capture

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Options configures a single capture run. Quality and Format come straight
// from the caller and are interpreted here only; callers treat them as opaque.
type Options struct {
	BinaryPath string
	SourceURL  string
	OutputPath string
	Quality    string
	Format     string
	ExtraArgs  []string
}

// Result is the single completion event of a capture. Err is nil on a clean
// exit; otherwise it carries the exit error with the tail of stderr attached.
type Result struct {
	Path string
	Err  error
}

type Handle interface {
	Done() <-chan Result
	Stop(grace time.Duration)
}

// Launcher starts a capture. Injected into the recorder so tests can
// substitute a fake process.
type Launcher func(ctx context.Context, opts Options) (Handle, error)

type Process struct {
	cmd      *exec.Cmd
	done     chan Result
	exited   chan struct{}
	stopOnce sync.Once
}

// Start launches the capture binary and returns immediately. Exactly one
// Result is delivered on Done() when the process exits.
func Start(ctx context.Context, opts Options) (Handle, error) {
	binary := opts.BinaryPath
	if binary == "" {
		binary = "ffmpeg"
	}

	var stderr bytes.Buffer
	cmd := exec.Command(binary, buildArgs(opts)...)
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start capture process: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		done:   make(chan Result, 1),
		exited: make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		close(p.exited)
		if err != nil {
			if tail := stderrTail(&stderr); tail != "" {
				err = fmt.Errorf("%w: %s", err, tail)
			}
		}
		p.done <- Result{Path: opts.OutputPath, Err: err}
	}()

	return p, nil
}

func (p *Process) Done() <-chan Result {
	return p.done
}

// Stop asks the process to terminate gracefully so it can finalize its
// output, then kills it if it has not exited within the grace period.
// Safe to call more than once.
func (p *Process) Stop(grace time.Duration) {
	p.stopOnce.Do(func() {
		if p.cmd.Process == nil {
			return
		}
		_ = p.cmd.Process.Signal(os.Interrupt)
		select {
		case <-p.exited:
		case <-time.After(grace):
			_ = p.cmd.Process.Kill()
		}
	})
}

// buildArgs assembles the ffmpeg command line. With no quality given the
// stream is copied as-is; a quality like "720p" re-encodes scaled to that
// height. An unparsable quality falls back to stream copy rather than
// failing the capture.
func buildArgs(opts Options) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y", "-i", opts.SourceURL}

	if height, ok := qualityHeight(opts.Quality); ok {
		args = append(args,
			"-vf", fmt.Sprintf("scale=-2:%d", height),
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-c:a", "aac",
		)
	} else {
		args = append(args, "-c", "copy")
	}

	if opts.Format != "" {
		args = append(args, "-f", opts.Format)
	}

	args = append(args, opts.ExtraArgs...)
	args = append(args, opts.OutputPath)
	return args
}

func qualityHeight(quality string) (int, bool) {
	q := strings.ToLower(strings.TrimSpace(quality))
	if q == "" || q == "source" || q == "best" {
		return 0, false
	}
	height, err := strconv.Atoi(strings.TrimSuffix(q, "p"))
	if err != nil || height <= 0 {
		return 0, false
	}
	return height, true
}

func stderrTail(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
