package registry

import (
	"strings"
	"sync"
)

// Channel is a single playable entry: a named, categorized stream identified
// by its manifest URL. Channels are immutable after import; the canonical
// identity of a channel within the registry is its positional index.
type Channel struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	URL      string `json:"url"`
	Logo     string `json:"logo,omitempty"`
}

// Registry holds the ordered channel list. The list is replaced wholesale on
// import; reads see either the old or the new list, never a partial one.
type Registry struct {
	mu       sync.RWMutex
	channels []Channel
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Replace swaps in a new channel list.
func (r *Registry) Replace(channels []Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = channels
}

// All returns a copy of the ordered channel list.
func (r *Registry) All() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Len returns the number of channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// At returns the channel at index i. The second return is false when i is
// out of range.
func (r *Registry) At(i int) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.channels) {
		return Channel{}, false
	}
	return r.channels[i], true
}

// ByCategory returns channels whose category matches cat
// (case-insensitive), preserving registry order. An empty cat returns all.
func (r *Registry) ByCategory(cat string) []Channel {
	if cat == "" {
		return r.All()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Channel
	for _, ch := range r.channels {
		if strings.EqualFold(ch.Category, cat) {
			out = append(out, ch)
		}
	}
	return out
}

// Categories returns the distinct categories in first-seen order.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, ch := range r.channels {
		if ch.Category == "" || seen[ch.Category] {
			continue
		}
		seen[ch.Category] = true
		out = append(out, ch.Category)
	}
	return out
}
