package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"iptv-browser/work/buffer"
	"iptv-browser/work/client"
	"iptv-browser/work/config"
	"iptv-browser/work/logger"
)

// directEngine plays progressive HTTP streams: one long-lived GET whose body
// is copied straight onto the rendering surface.
type directEngine struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	surface    *buffer.RingBuffer
	pool       *buffer.BufferPool

	mu       sync.Mutex
	url      *url.URL
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	released atomic.Bool
}

func newDirectEngine(cfg *config.Config, httpClient *client.HeaderSettingClient, surface *buffer.RingBuffer, pool *buffer.BufferPool) *directEngine {
	return &directEngine{
		cfg:        cfg,
		httpClient: httpClient,
		surface:    surface,
		pool:       pool,
	}
}

func (e *directEngine) Kind() Kind { return KindDirect }

func (e *directEngine) Bind(rawURL string) error {
	if e.released.Load() {
		return ErrReleased
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

// Start opens the stream connection and returns once response headers
// arrive, leaving a background copier feeding the surface.
func (e *directEngine) Start(ctx context.Context) error {
	if e.released.Load() {
		return ErrReleased
	}

	e.mu.Lock()
	streamURL := e.url
	e.mu.Unlock()
	if streamURL == nil {
		return ErrNotBound
	}

	// The request context must outlive Start, so it derives from the
	// engine's own lifetime rather than the caller's ctx. The caller's ctx
	// still gates how long we wait for headers.
	runCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(runCtx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		cancel()
		return fmt.Errorf("creating stream request: %w", err)
	}

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := e.httpClient.Do(req)
		done <- result{resp, err}
	}()

	var resp *http.Response
	select {
	case <-ctx.Done():
		cancel()
		if r := <-done; r.resp != nil {
			r.resp.Body.Close()
		}
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			cancel()
			return fmt.Errorf("%w: %v", ErrUpstreamFetch, r.err)
		}
		resp = r.resp
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: stream status %d", ErrUpstreamFetch, resp.StatusCode)
	}

	e.mu.Lock()
	if e.released.Load() {
		e.mu.Unlock()
		resp.Body.Close()
		cancel()
		return ErrReleased
	}
	e.cancel = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer resp.Body.Close()
		e.copyLoop(runCtx, resp.Body)
	}()

	return nil
}

func (e *directEngine) StopAndRelease() {
	if !e.released.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// copyLoop feeds the response body onto the surface until the connection
// drops or the engine is released.
func (e *directEngine) copyLoop(ctx context.Context, body io.Reader) {
	scratch := e.pool.Get()
	defer e.pool.Put(scratch)

	chunk := scratch.B[:cap(scratch.B)]
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			e.surface.Write(chunk[:n])
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				logger.Warn("stream connection dropped: %v", err)
			}
			return
		}
	}
}
