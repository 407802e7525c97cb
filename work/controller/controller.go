package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"iptv-browser/work/buffer"
	"iptv-browser/work/config"
	"iptv-browser/work/engine"
	"iptv-browser/work/logger"
	"iptv-browser/work/metrics"
	"iptv-browser/work/registry"
)

// State is the playback session state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

var (
	// ErrUnsupportedFormat means neither the requested engine kind nor the
	// progressive fallback can play the channel's URL. No engine is
	// constructed and the session goes idle.
	ErrUnsupportedFormat = errors.New("unsupported stream format")

	// ErrPlaybackStartRejected means the engine was built and bound but its
	// start was refused, usually by the upstream. The session returns to
	// idle and remains usable.
	ErrPlaybackStartRejected = errors.New("playback start rejected")

	// ErrEngineConstruction means the engine could not be built or bound.
	ErrEngineConstruction = errors.New("engine construction failed")

	// ErrNoChannel is returned for an out-of-range channel index.
	ErrNoChannel = errors.New("no such channel")
)

// Recorder receives playback events for persistence. Satisfied by the
// history database; nil disables recording.
type Recorder interface {
	Record(channel, url, engineKind string) error
}

// EngineHinter optionally extends a Recorder with a memory of the engine
// kind that last played a channel. The history database satisfies it.
type EngineHinter interface {
	LastEngineFor(channel string) (string, bool, error)
}

// Controller owns the playback session: at most one engine handle exists at
// any time, transitions are teardown-before-construct, and completions of
// superseded starts are discarded by generation number. All session state
// lives here; nothing is package-global, so tests can run controllers side
// by side.
type Controller struct {
	cfg      *config.Config
	factory  engine.Factory
	surface  *buffer.RingBuffer
	registry *registry.Registry
	recorder Recorder

	// generation increments on every transition; an async start completion
	// whose generation no longer matches is stale and ignored.
	generation atomic.Int64

	mu           sync.Mutex
	state        State
	current      engine.Engine
	currentIndex int
	currentChan  registry.Channel
	preferred    engine.Kind
	lastError    string
}

// New creates an idle controller with no channel selected.
func New(cfg *config.Config, factory engine.Factory, surface *buffer.RingBuffer, reg *registry.Registry, recorder Recorder) *Controller {
	preferred, ok := engine.ParseKind(cfg.DefaultEngine)
	if !ok {
		preferred = engine.KindHLS
	}
	return &Controller{
		cfg:          cfg,
		factory:      factory,
		surface:      surface,
		registry:     reg,
		recorder:     recorder,
		currentIndex: -1,
		preferred:    preferred,
	}
}

// Play starts playback of the channel at the given registry index. The
// engine kind that last played this channel wins over the preferred kind
// when the recorder remembers one.
func (c *Controller) Play(ctx context.Context, index int) error {
	c.mu.Lock()
	kind := c.preferred
	c.mu.Unlock()

	if hinter, ok := c.recorder.(EngineHinter); ok {
		if ch, found := c.registry.At(index); found {
			if last, known, err := hinter.LastEngineFor(ch.Name); err == nil && known {
				if k, parsed := engine.ParseKind(last); parsed {
					kind = k
				}
			}
		}
	}
	return c.PlayWith(ctx, index, kind)
}

// PlayWith starts playback of the channel at index with an explicit engine
// kind. Any in-flight or active playback is torn down first; a later call
// always wins over an earlier one still waiting on its manifest.
func (c *Controller) PlayWith(ctx context.Context, index int, kind engine.Kind) error {
	ch, ok := c.registry.At(index)
	if !ok {
		return fmt.Errorf("%w: index %d", ErrNoChannel, index)
	}
	return c.transition(ctx, ch, index, kind)
}

// SwitchEngine changes the preferred engine kind. With a channel active the
// current playback restarts on the new kind; without one this only records
// the preference.
func (c *Controller) SwitchEngine(ctx context.Context, kind engine.Kind) error {
	c.mu.Lock()
	c.preferred = kind
	index := c.currentIndex
	ch := c.currentChan
	active := c.state != StateIdle || index >= 0
	c.mu.Unlock()

	metrics.EngineSwitches.WithLabelValues(kind.String()).Inc()

	if !active || index < 0 {
		return nil
	}
	return c.transition(ctx, ch, index, kind)
}

// Stop tears down any active playback and returns the session to idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation.Add(1)
	c.teardownLocked()
	c.currentIndex = -1
	c.currentChan = registry.Channel{}
	c.setStateLocked(StateIdle)
}

// transition is the single path every playback change goes through.
func (c *Controller) transition(ctx context.Context, ch registry.Channel, index int, kind engine.Kind) error {
	c.mu.Lock()

	// The generation is allocated under the lock so generation order always
	// matches lock order: whichever transition locks later carries the
	// larger number and wins over slower predecessors.
	gen := c.generation.Add(1)

	// Teardown before construct. The old engine is fully stopped and the
	// surface wiped before the new engine exists.
	c.teardownLocked()

	effective, ok := c.resolveKind(kind, ch.URL)
	if !ok {
		c.setStateLocked(StateIdle)
		c.lastError = ErrUnsupportedFormat.Error()
		c.mu.Unlock()
		metrics.PlaybackErrors.WithLabelValues("unsupported_format").Inc()
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ch.Name)
	}

	eng, err := c.factory.New(effective)
	if err != nil {
		c.setStateLocked(StateIdle)
		c.lastError = err.Error()
		c.mu.Unlock()
		metrics.PlaybackErrors.WithLabelValues("engine_construction").Inc()
		return fmt.Errorf("%w: %v", ErrEngineConstruction, err)
	}

	if err := eng.Bind(ch.URL); err != nil {
		eng.StopAndRelease()
		c.setStateLocked(StateIdle)
		c.lastError = err.Error()
		c.mu.Unlock()
		metrics.PlaybackErrors.WithLabelValues("engine_construction").Inc()
		return fmt.Errorf("%w: %v", ErrEngineConstruction, err)
	}

	c.current = eng
	c.currentIndex = index
	c.currentChan = ch
	c.setStateLocked(StateLoading)
	c.lastError = ""
	c.mu.Unlock()

	// Start blocks until the manifest is ready, so it runs outside the
	// lock. A newer transition may supersede us meanwhile; its teardown
	// stops this engine and our completion is discarded below.
	startCtx, cancel := context.WithTimeout(ctx, c.cfg.StreamTimeout)
	err = eng.Start(startCtx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation.Load() != gen {
		// Stale completion: a later transition already owns the session.
		eng.StopAndRelease()
		if c.current == eng {
			c.current = nil
		}
		logger.Debug("discarding stale start completion for %s", ch.Name)
		return nil
	}

	if err != nil {
		eng.StopAndRelease()
		c.surface.Reset()
		c.current = nil
		c.setStateLocked(StateIdle)
		c.lastError = err.Error()
		metrics.PlaybackErrors.WithLabelValues("start_rejected").Inc()
		return fmt.Errorf("%w: %v", ErrPlaybackStartRejected, err)
	}

	c.setStateLocked(StatePlaying)
	metrics.PlaybackStarts.WithLabelValues(effective.String()).Inc()
	logger.Info("playing %s via %s engine", ch.Name, effective)

	if c.recorder != nil {
		if recErr := c.recorder.Record(ch.Name, ch.URL, effective.String()); recErr != nil {
			logger.Warn("recording playback history: %v", recErr)
		}
	}

	return nil
}

// resolveKind applies the capability checks: the requested kind first, then
// the progressive fallback. Returns false when neither can play the URL.
func (c *Controller) resolveKind(kind engine.Kind, url string) (engine.Kind, bool) {
	if c.factory.Supports(kind, url) {
		return kind, true
	}
	if kind != engine.KindDirect && c.factory.Supports(engine.KindDirect, url) {
		return engine.KindDirect, true
	}
	return 0, false
}

// teardownLocked stops and releases the current engine and wipes the
// surface. Caller holds c.mu.
func (c *Controller) teardownLocked() {
	if c.current != nil {
		c.current.StopAndRelease()
		c.current = nil
	}
	c.surface.Reset()
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	metrics.SessionState.Set(float64(s))
}

// SetPreferred records the preferred engine kind without restarting
// playback. Used at startup to restore the last kind that worked.
func (c *Controller) SetPreferred(kind engine.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preferred = kind
}

// Preferred returns the preferred engine kind.
func (c *Controller) Preferred() engine.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preferred
}

// CurrentIndex returns the active channel index, or -1 when none.
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentIndex
}

// Snapshot is a point-in-time view of the session for the status surface.
type Snapshot struct {
	State        string `json:"state"`
	ChannelIndex int    `json:"channelIndex"`
	ChannelName  string `json:"channelName,omitempty"`
	Engine       string `json:"engine"`
	Generation   int64  `json:"generation"`
	SurfaceBytes int64  `json:"surfaceBytes"`
	LastError    string `json:"lastError,omitempty"`
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:        c.state.String(),
		ChannelIndex: c.currentIndex,
		Engine:       c.preferred.String(),
		Generation:   c.generation.Load(),
		SurfaceBytes: c.surface.WritePosition(),
		LastError:    c.lastError,
	}
	if c.currentIndex >= 0 {
		snap.ChannelName = c.currentChan.Name
	}
	if c.current != nil {
		snap.Engine = c.current.Kind().String()
	}
	return snap
}
