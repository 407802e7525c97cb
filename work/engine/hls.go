package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grafov/m3u8"

	"iptv-browser/work/buffer"
	"iptv-browser/work/client"
	"iptv-browser/work/config"
	"iptv-browser/work/logger"
	"iptv-browser/work/utils"
)

// hlsEngine plays adaptive streams natively: it parses the manifest, picks
// the best variant and prefetches segments into the rendering surface.
type hlsEngine struct {
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

func newHLSEngine(cfg *config.Config, httpClient *client.HeaderSettingClient, surface *buffer.RingBuffer, pool *buffer.BufferPool) *hlsEngine {
	return &hlsEngine{
		cfg:        cfg,
		httpClient: httpClient,
		surface:    surface,
		pool:       pool,
	}
}

func (e *hlsEngine) Kind() Kind { return KindHLS }

// Bind attaches the manifest URL. The URL must be absolute http(s).
func (e *hlsEngine) Bind(rawURL string) error {
	if e.released.Load() {
		return ErrReleased
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing manifest url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	e.mu.Lock()
	e.url = parsed
	e.mu.Unlock()
	return nil
}

// Start fetches and parses the manifest, resolving master playlists down to
// their best variant, then hands off to a background prefetch loop. It
// returns once the manifest is parsed; playback continues until
// StopAndRelease.
func (e *hlsEngine) Start(ctx context.Context) error {
	if e.released.Load() {
		return ErrReleased
	}

	e.mu.Lock()
	manifestURL := e.url
	e.mu.Unlock()
	if manifestURL == nil {
		return ErrNotBound
	}

	media, mediaURL, err := e.resolveMedia(ctx, manifestURL, 0)
	if err != nil {
		return err
	}

	if e.released.Load() {
		return ErrReleased
	}

	runCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.released.Load() {
		e.mu.Unlock()
		cancel()
		return ErrReleased
	}
	e.cancel = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.prefetchLoop(runCtx, media, mediaURL)
	}()

	return nil
}

// StopAndRelease cancels the prefetch loop and waits for the writer to
// drain, guaranteeing no surface writes after return. Idempotent.
func (e *hlsEngine) StopAndRelease() {
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

// resolveMedia fetches a playlist and, for master playlists, follows the
// highest-bandwidth variant. depth caps variant indirection.
func (e *hlsEngine) resolveMedia(ctx context.Context, u *url.URL, depth int) (*m3u8.MediaPlaylist, *url.URL, error) {
	if depth > 3 {
		return nil, nil, fmt.Errorf("%w: variant nesting too deep", ErrUpstreamFetch)
	}

	raw, err := e.fetch(ctx, u)
	if err != nil {
		return nil, nil, err
	}

	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(bytes.NewReader(raw)), true)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing manifest: %w", err)
	}

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		variant := bestVariant(master)
		if variant == nil {
			return nil, nil, fmt.Errorf("%w: master playlist has no variants", ErrUpstreamFetch)
		}
		variantURL, err := u.Parse(variant.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving variant url: %w", err)
		}
		if e.cfg.Debug {
			logger.Debug("selected variant %d bps: %s", variant.Bandwidth, utils.LogURL(e.cfg, variantURL.String()))
		}
		return e.resolveMedia(ctx, variantURL, depth+1)
	case m3u8.MEDIA:
		return playlist.(*m3u8.MediaPlaylist), u, nil
	default:
		return nil, nil, fmt.Errorf("parsing manifest: unknown playlist type")
	}
}

// bestVariant picks the highest-bandwidth variant.
func bestVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

// prefetchLoop streams segments into the surface, re-polling live playlists
// by target duration. Exits when ctx is cancelled or a VOD playlist ends.
func (e *hlsEngine) prefetchLoop(ctx context.Context, media *m3u8.MediaPlaylist, mediaURL *url.URL) {
	var lastSeq uint64

	for {
		if ctx.Err() != nil {
			return
		}

		streamed := 0
		seq := media.SeqNo
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			if lastSeq != 0 && seq <= lastSeq {
				seq++
				continue
			}

			segURL, err := mediaURL.Parse(seg.URI)
			if err != nil {
				logger.Warn("skipping malformed segment uri: %v", err)
				seq++
				continue
			}

			if err := e.streamSegment(ctx, segURL); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("segment fetch failed: %v", err)
			}
			lastSeq = seq
			seq++
			streamed++
		}

		if media.Closed {
			return
		}

		// Live playlist: wait roughly one target duration before re-polling,
		// immediately when nothing new arrived last round.
		wait := time.Duration(media.TargetDuration * float64(time.Second))
		if streamed == 0 || wait <= 0 {
			wait = 2 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		refreshed, _, err := e.resolveMedia(ctx, mediaURL, 3)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("playlist refresh failed: %v", err)
			continue
		}
		media = refreshed
	}
}

// streamSegment copies one segment body into the surface through a pooled
// scratch buffer.
func (e *hlsEngine) streamSegment(ctx context.Context, segURL *url.URL) error {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.StreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, segURL.String(), nil)
	if err != nil {
		return fmt.Errorf("creating segment request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: segment status %d", ErrUpstreamFetch, resp.StatusCode)
	}

	scratch := e.pool.Get()
	defer e.pool.Put(scratch)

	chunk := scratch.B[:cap(scratch.B)]
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			e.surface.Write(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: reading segment: %v", ErrUpstreamFetch, err)
		}
	}
}

// fetch retrieves one playlist document with the configured timeout.
func (e *hlsEngine) fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.StreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating manifest request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: manifest status %d", ErrUpstreamFetch, resp.StatusCode)
	}

	scratch := e.pool.Get()
	defer e.pool.Put(scratch)
	if _, err := scratch.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("%w: reading manifest: %v", ErrUpstreamFetch, err)
	}

	out := make([]byte, len(scratch.B))
	copy(out, scratch.B)
	return out, nil
}
