package glow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"iptv-browser/work/buffer"
	"iptv-browser/work/config"
	"iptv-browser/work/logger"
)

// samplePoints is the number of evenly spaced probe positions taken from the
// surface per tick. Kept small: the glow is an ambience effect, not a
// faithful downscale.
const samplePoints = 16

// Sampler derives an ambient glow color from the rendering surface. At a
// fixed interval it probes recent surface bytes at evenly spaced offsets,
// averages them into an RGB triple and folds that into an exponential moving
// average so the glow drifts instead of flickering.
type Sampler struct {
	cfg     config.GlowConfig
	surface *buffer.RingBuffer

	mu      sync.RWMutex
	r, g, b float64
	primed  bool
}

// NewSampler creates a sampler over the session surface.
func NewSampler(cfg config.GlowConfig, surface *buffer.RingBuffer) *Sampler {
	return &Sampler{
		cfg:     cfg,
		surface: surface,
	}
}

// Run samples at the configured interval until ctx is cancelled. Returns
// immediately when the glow is disabled.
func (s *Sampler) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	logger.Debug("glow sampler running every %v", s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample takes one probe of the surface and folds it into the moving
// average. A quiet surface leaves the glow unchanged.
func (s *Sampler) Sample() {
	data := s.surface.PeekRecentData(s.cfg.SampleBytes)
	if len(data) < 3 {
		return
	}

	var sumR, sumG, sumB, n float64
	// Stride stays triplet-aligned so every probe reads a whole RGB group.
	stride := len(data) / samplePoints
	stride -= stride % 3
	if stride < 3 {
		stride = 3
	}
	for off := 0; off+2 < len(data); off += stride {
		sumR += float64(data[off])
		sumG += float64(data[off+1])
		sumB += float64(data[off+2])
		n++
	}
	if n == 0 {
		return
	}

	newR, newG, newB := sumR/n, sumG/n, sumB/n

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		s.r, s.g, s.b = newR, newG, newB
		s.primed = true
		return
	}

	alpha := s.cfg.Alpha
	s.r = alpha*newR + (1-alpha)*s.r
	s.g = alpha*newG + (1-alpha)*s.g
	s.b = alpha*newB + (1-alpha)*s.b
}

// Reset clears the glow back to black, used when playback stops.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r, s.g, s.b = 0, 0, 0
	s.primed = false
}

// RGB returns the current glow color.
func (s *Sampler) RGB() (r, g, b uint8) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clamp(s.r), clamp(s.g), clamp(s.b)
}

// CSS returns the glow as a CSS color string, e.g. "rgb(120, 45, 200)".
func (s *Sampler) CSS() string {
	r, g, b := s.RGB()
	return fmt.Sprintf("rgb(%d, %d, %d)", r, g, b)
}

func clamp(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
