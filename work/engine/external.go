package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"iptv-browser/work/buffer"
	"iptv-browser/work/config"
	"iptv-browser/work/logger"
)

// externalEngine delegates playback to an ffmpeg subprocess that remuxes the
// source to mpegts on stdout; the surface receives whatever ffmpeg emits.
// Used for sources the native engines cannot handle.
type externalEngine struct {
	cfg     *config.Config
	surface *buffer.RingBuffer

	mu       sync.Mutex
	url      *url.URL
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	released atomic.Bool
}

func newExternalEngine(cfg *config.Config, surface *buffer.RingBuffer) *externalEngine {
	return &externalEngine{
		cfg:     cfg,
		surface: surface,
	}
}

func (e *externalEngine) Kind() Kind { return KindExternal }

func (e *externalEngine) Bind(rawURL string) error {
	if e.released.Load() {
		return ErrReleased
	}
	if e.cfg.FFmpegPath == "" {
		return errors.New("ffmpeg path not configured")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing stream url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	e.mu.Lock()
	e.url = parsed
	e.mu.Unlock()
	return nil
}

// Start launches the ffmpeg subprocess and returns once it is running with
// its stdout wired to the surface.
func (e *externalEngine) Start(ctx context.Context) error {
	if e.released.Load() {
		return ErrReleased
	}

	e.mu.Lock()
	streamURL := e.url
	e.mu.Unlock()
	if streamURL == nil {
		return ErrNotBound
	}

	runCtx, cancel := context.WithCancel(context.Background())

	args := e.buildArgs(streamURL.String())
	cmd := exec.CommandContext(runCtx, e.cfg.FFmpegPath, args...)

	// Own process group so teardown can kill ffmpeg's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("creating stdout pipe: %w", err)
	}

	if e.cfg.Debug {
		logger.Debug("launching %s %s", e.cfg.FFmpegPath, strings.Join(args, " "))
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	e.mu.Lock()
	if e.released.Load() {
		e.mu.Unlock()
		cancel()
		killProcessGroup(cmd)
		cmd.Wait()
		return ErrReleased
	}
	e.cmd = cmd
	e.cancel = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.pipeLoop(runCtx, stdout)
		cmd.Wait()
	}()

	return nil
}

func (e *externalEngine) StopAndRelease() {
	if !e.released.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	cancel := e.cancel
	cmd := e.cmd
	e.cancel = nil
	e.cmd = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cmd != nil {
		killProcessGroup(cmd)
	}
	e.wg.Wait()
}

// buildArgs assembles the ffmpeg command line. Extra pre-input and
// pre-output flags come from config so container builds can tune hwaccel and
// codec options without a rebuild.
func (e *externalEngine) buildArgs(streamURL string) []string {
	var args []string

	args = append(args, "-hide_banner", "-loglevel", "error")
	args = append(args, e.cfg.FFmpegPreInput...)

	args = append(args, "-user_agent", e.cfg.UserAgent, "-i", streamURL)

	if len(e.cfg.FFmpegPreOutput) > 0 {
		args = append(args, e.cfg.FFmpegPreOutput...)
	} else {
		args = append(args, "-c", "copy")
	}

	args = append(args, "-f", "mpegts", "pipe:1")
	return args
}

// pipeLoop copies ffmpeg stdout onto the surface until the process exits or
// the engine is released.
func (e *externalEngine) pipeLoop(ctx context.Context, stdout io.Reader) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			e.surface.Write(chunk[:n])
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				logger.Warn("ffmpeg pipe closed: %v", err)
			}
			return
		}
	}
}

// killProcessGroup kills ffmpeg and any children it spawned. Teardown during
// channel zapping has to be immediate, so no SIGTERM grace period. The
// process is reaped by the pipe goroutine's Wait.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	cmd.Process.Kill()
}
