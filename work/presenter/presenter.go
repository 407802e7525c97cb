package presenter

import (
	"context"
	"sync"
	"time"

	"iptv-browser/work/logger"
	"iptv-browser/work/registry"
)

// revealStagger is the per-row delay applied to list entries so the channel
// list fades in top to bottom instead of popping in at once.
const revealStagger = 40 * time.Millisecond

// Player starts playback for a registry index. Satisfied by the playback
// controller.
type Player interface {
	Play(ctx context.Context, index int) error
}

// Entry is one rendered row of the channel list.
type Entry struct {
	Index       int           `json:"index"`
	Name        string        `json:"name"`
	Category    string        `json:"category,omitempty"`
	Logo        string        `json:"logo,omitempty"`
	Highlighted bool          `json:"highlighted"`
	Visible     bool          `json:"visible"`
	RevealDelay time.Duration `json:"revealDelayMs"`
}

// Presenter renders the channel list and owns the selection cursor. Exactly
// one entry is highlighted at a time; selection moves are clamped to the
// list bounds and never wrap.
type Presenter struct {
	registry *registry.Registry
	player   Player

	mu       sync.Mutex
	selected int // -1 until the first selection
	offset   int // first visible row
	height   int // visible rows
}

// New creates a presenter with no selection and a viewport of height rows.
func New(reg *registry.Registry, player Player, height int) *Presenter {
	if height <= 0 {
		height = 10
	}
	return &Presenter{
		registry: reg,
		player:   player,
		selected: -1,
		height:   height,
	}
}

// Render produces the full entry list. Rows inside the viewport are marked
// visible and carry a reveal delay staggered by their position within it.
func (p *Presenter) Render() []Entry {
	channels := p.registry.All()

	p.mu.Lock()
	selected, offset, height := p.selected, p.offset, p.height
	p.mu.Unlock()

	entries := make([]Entry, 0, len(channels))
	for i, ch := range channels {
		visible := i >= offset && i < offset+height
		var delay time.Duration
		if visible {
			delay = time.Duration(i-offset) * revealStagger
		}
		entries = append(entries, Entry{
			Index:       i,
			Name:        ch.Name,
			Category:    ch.Category,
			Logo:        ch.Logo,
			Highlighted: i == selected,
			Visible:     visible,
			RevealDelay: delay,
		})
	}
	return entries
}

// Select highlights the entry at index, scrolls it into view and starts
// playback. An out-of-range index is a silent no-op.
func (p *Presenter) Select(ctx context.Context, index int) {
	if index < 0 || index >= p.registry.Len() {
		return
	}

	p.mu.Lock()
	p.selected = index
	p.scrollIntoViewLocked(index)
	p.mu.Unlock()

	if err := p.player.Play(ctx, index); err != nil {
		logger.Warn("playback failed for selection %d: %v", index, err)
	}
}

// SelectNext moves the selection one row down, clamped at the last entry.
// With no selection yet it selects the first entry.
func (p *Presenter) SelectNext(ctx context.Context) {
	p.moveSelection(ctx, +1)
}

// SelectPrevious moves the selection one row up, clamped at the first entry.
// With no selection yet it selects the first entry.
func (p *Presenter) SelectPrevious(ctx context.Context) {
	p.moveSelection(ctx, -1)
}

func (p *Presenter) moveSelection(ctx context.Context, delta int) {
	n := p.registry.Len()
	if n == 0 {
		return
	}

	p.mu.Lock()
	target := p.selected + delta
	if p.selected < 0 {
		target = 0
	}
	if target < 0 {
		target = 0
	}
	if target >= n {
		target = n - 1
	}
	changed := target != p.selected
	p.selected = target
	p.scrollIntoViewLocked(target)
	p.mu.Unlock()

	// A clamped move that lands on the already-selected row does not
	// restart playback.
	if !changed {
		return
	}

	if err := p.player.Play(ctx, target); err != nil {
		logger.Warn("playback failed for selection %d: %v", target, err)
	}
}

// Selected returns the highlighted index, -1 when nothing is selected.
func (p *Presenter) Selected() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// Viewport returns the first visible row and the viewport height.
func (p *Presenter) Viewport() (offset, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset, p.height
}

// scrollIntoViewLocked adjusts the viewport offset so index is visible,
// moving the window as little as possible. Caller holds p.mu.
func (p *Presenter) scrollIntoViewLocked(index int) {
	if index < p.offset {
		p.offset = index
	} else if index >= p.offset+p.height {
		p.offset = index - p.height + 1
	}
}
