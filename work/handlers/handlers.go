package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"iptv-browser/work/cache"
	"iptv-browser/work/config"
	"iptv-browser/work/controller"
	"iptv-browser/work/database"
	"iptv-browser/work/engine"
	"iptv-browser/work/glow"
	"iptv-browser/work/logger"
	"iptv-browser/work/presenter"
	"iptv-browser/work/registry"
	"iptv-browser/work/utils"
)

const playlistCacheKey = "playlist-m3u"

// Handlers bundles the HTTP surface over the browser session. One instance
// serves one session; everything it needs arrives through the constructor.
type Handlers struct {
	cfg       *config.Config
	registry  *registry.Registry
	ctrl      *controller.Controller
	presenter *presenter.Presenter
	glow      *glow.Sampler
	history   *database.History
	cache     *cache.Cache
	importer  *registry.Importer
}

// New wires the handler set. history and importer may be nil.
func New(cfg *config.Config, reg *registry.Registry, ctrl *controller.Controller, pres *presenter.Presenter, sampler *glow.Sampler, hist *database.History, c *cache.Cache, imp *registry.Importer) *Handlers {
	return &Handlers{
		cfg:       cfg,
		registry:  reg,
		ctrl:      ctrl,
		presenter: pres,
		glow:      sampler,
		history:   hist,
		cache:     c,
		importer:  imp,
	}
}

// Channels serves the rendered channel list. An optional ?category= filter
// narrows the raw channel set; the rendered entries always cover the full
// list so indices stay stable.
func (h *Handlers) Channels(w http.ResponseWriter, r *http.Request) {
	if cat := r.URL.Query().Get("category"); cat != "" {
		h.writeJSON(w, map[string]interface{}{
			"category": cat,
			"channels": h.registry.ByCategory(cat),
		})
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"entries":    h.presenter.Render(),
		"categories": h.registry.Categories(),
	})
}

// Playlist exports the registry as an M3U document, cached until the next
// import.
func (h *Handlers) Playlist(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")

	if body, found := h.cache.Get(playlistCacheKey); found {
		w.Write([]byte(body))
		return
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, ch := range h.registry.All() {
		b.WriteString("#EXTINF:-1")
		fmt.Fprintf(&b, ` tvg-id="%s"`, utils.SanitizeChannelName(ch.Name))
		if ch.Logo != "" {
			fmt.Fprintf(&b, ` tvg-logo="%s"`, ch.Logo)
		}
		if ch.Category != "" {
			fmt.Fprintf(&b, ` group-title="%s"`, ch.Category)
		}
		fmt.Fprintf(&b, ",%s\n%s\n", ch.Name, ch.URL)
	}

	body := b.String()
	h.cache.Set(playlistCacheKey, body)
	w.Write([]byte(body))
}

// Select starts playback of the channel at {index}. Out-of-range indices
// are a silent no-op, mirroring list clicks on rows that no longer exist.
func (h *Handlers) Select(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}

	h.presenter.Select(r.Context(), index)
	h.writeStatus(w)
}

// Next moves the selection one row down and plays it.
func (h *Handlers) Next(w http.ResponseWriter, r *http.Request) {
	h.presenter.SelectNext(r.Context())
	h.writeStatus(w)
}

// Previous moves the selection one row up and plays it.
func (h *Handlers) Previous(w http.ResponseWriter, r *http.Request) {
	h.presenter.SelectPrevious(r.Context())
	h.writeStatus(w)
}

// Engine switches the playback engine kind. With a channel playing the
// stream restarts on the new engine.
func (h *Handlers) Engine(w http.ResponseWriter, r *http.Request) {
	kind, ok := engine.ParseKind(mux.Vars(r)["kind"])
	if !ok {
		http.Error(w, "unknown engine kind", http.StatusBadRequest)
		return
	}

	if err := h.ctrl.SwitchEngine(r.Context(), kind); err != nil {
		logger.Warn("engine switch failed: %v", err)
		h.writeError(w, err)
		return
	}
	h.writeStatus(w)
}

// Stop tears down playback and returns the session to idle.
func (h *Handlers) Stop(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Stop()
	h.glow.Reset()
	h.writeStatus(w)
}

// Status reports the session, selection, glow color and recent history.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w)
}

func (h *Handlers) writeStatus(w http.ResponseWriter) {
	offset, height := h.presenter.Viewport()
	status := map[string]interface{}{
		"session":  h.ctrl.Snapshot(),
		"selected": h.presenter.Selected(),
		"viewport": map[string]int{"offset": offset, "height": height},
		"glow":     h.glow.CSS(),
		"channels": h.registry.Len(),
	}

	if h.history != nil {
		if recent, err := h.history.Recent(10); err == nil {
			status["recent"] = recent
		} else {
			logger.Warn("loading recent history: %v", err)
		}
	}
	if h.importer != nil {
		status["sources"] = h.importer.SourceStats()
	}

	h.writeJSON(w, status)
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, controller.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, controller.ErrNoChannel):
		status = http.StatusNotFound
	case errors.Is(err, controller.ErrPlaybackStartRejected):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("encoding response: %v", err)
	}
}
