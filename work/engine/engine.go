package engine

import (
	"context"
	"strings"

	"iptv-browser/work/buffer"
	"iptv-browser/work/client"
	"iptv-browser/work/config"
)

// Kind identifies one of the three interchangeable playback backends.
type Kind int

const (
	KindHLS      Kind = iota // Native adaptive playback: manifest parse + segment prefetch
	KindDirect               // Progressive HTTP passthrough
	KindExternal             // FFmpeg subprocess piping mpegts
)

// String returns the kind's wire name as used in the HTTP API and config.
func (k Kind) String() string {
	switch k {
	case KindHLS:
		return "hls"
	case KindDirect:
		return "direct"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ParseKind maps a wire name onto a Kind. The second return is false for
// unknown names.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "hls":
		return KindHLS, true
	case "direct":
		return KindDirect, true
	case "external":
		return KindExternal, true
	default:
		return 0, false
	}
}

// Engine is the capability set shared by all playback backends. The
// controller depends on this interface only, never on a concrete backend.
//
// Lifecycle: Bind validates and attaches the URL, Start blocks until the
// manifest is fetched and parsed (playback then continues in the
// background), StopAndRelease stops playback, detaches from the rendering
// surface and frees decoder/network resources. StopAndRelease is idempotent
// and safe to call concurrently with a blocked Start; a Start that completes
// after StopAndRelease must not write to the surface.
type Engine interface {
	Kind() Kind
	Bind(url string) error
	Start(ctx context.Context) error
	StopAndRelease()
}

// Factory constructs engines bound to the session's shared rendering
// surface.
type Factory interface {
	New(kind Kind) (Engine, error)
	Supports(kind Kind, url string) bool
}

// factory is the production Factory over the three concrete backends.
type factory struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	surface    *buffer.RingBuffer
	pool       *buffer.BufferPool
}

// NewFactory wires a Factory onto the session's surface and shared clients.
func NewFactory(cfg *config.Config, httpClient *client.HeaderSettingClient, surface *buffer.RingBuffer, pool *buffer.BufferPool) Factory {
	return &factory{
		cfg:        cfg,
		httpClient: httpClient,
		surface:    surface,
		pool:       pool,
	}
}

func (f *factory) New(kind Kind) (Engine, error) {
	switch kind {
	case KindHLS:
		return newHLSEngine(f.cfg, f.httpClient, f.surface, f.pool), nil
	case KindDirect:
		return newDirectEngine(f.cfg, f.httpClient, f.surface, f.pool), nil
	case KindExternal:
		return newExternalEngine(f.cfg, f.surface), nil
	default:
		return nil, ErrUnknownKind
	}
}

// Supports reports whether a backend kind can play the given URL at all.
// This is the cheap capability check performed before construction; actual
// playback can of course still fail later.
func (f *factory) Supports(kind Kind, url string) bool {
	switch kind {
	case KindHLS:
		return isHTTP(url) && looksLikeManifest(url)
	case KindDirect:
		return isHTTP(url)
	case KindExternal:
		return f.cfg.FFmpegPath != "" && isHTTP(url)
	default:
		return false
	}
}

func isHTTP(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func looksLikeManifest(url string) bool {
	trimmed := url
	if i := strings.IndexAny(trimmed, "?#"); i != -1 {
		trimmed = trimmed[:i]
	}
	return strings.HasSuffix(trimmed, ".m3u8") || strings.Contains(url, "m3u8")
}
