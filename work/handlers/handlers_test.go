package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"iptv-browser/work/buffer"
	"iptv-browser/work/cache"
	"iptv-browser/work/config"
	"iptv-browser/work/controller"
	"iptv-browser/work/engine"
	"iptv-browser/work/glow"
	"iptv-browser/work/presenter"
	"iptv-browser/work/registry"
)

type okEngine struct{ kind engine.Kind }

func (e *okEngine) Kind() engine.Kind { return e.kind }
func (e *okEngine) Bind(string) error { return nil }

func (e *okEngine) Start(ctx context.Context) error {
	return nil
}

func (e *okEngine) StopAndRelease() {}

type okFactory struct{}

func (okFactory) New(kind engine.Kind) (engine.Engine, error) {
	return &okEngine{kind: kind}, nil
}

func (okFactory) Supports(engine.Kind, string) bool { return true }

func testRouter(t *testing.T) (*mux.Router, *registry.Registry) {
	t.Helper()

	cfg := &config.Config{
		DefaultEngine: "hls",
		StreamTimeout: time.Second,
	}
	reg := registry.New()
	reg.Replace([]registry.Channel{
		{Name: "News One", Category: "News", URL: "http://example.com/news.m3u8", Logo: "http://example.com/n.png"},
		{Name: "Sports Plus", Category: "Sport", URL: "http://example.com/sport.m3u8"},
		{Name: "Movies Now", Category: "Movies", URL: "http://example.com/movies.m3u8"},
	})

	surface := buffer.NewRingBuffer(4096)
	ctrl := controller.New(cfg, okFactory{}, surface, reg, nil)
	pres := presenter.New(reg, ctrl, 10)
	sampler := glow.NewSampler(config.GlowConfig{Enabled: true, Alpha: 0.3, SampleBytes: 1024}, surface)
	h := New(cfg, reg, ctrl, pres, sampler, nil, cache.New(time.Minute), nil)

	r := mux.NewRouter()
	r.HandleFunc("/channels", h.Channels).Methods(http.MethodGet)
	r.HandleFunc("/playlist", h.Playlist).Methods(http.MethodGet)
	r.HandleFunc("/select/{index}", h.Select).Methods(http.MethodPost)
	r.HandleFunc("/next", h.Next).Methods(http.MethodPost)
	r.HandleFunc("/previous", h.Previous).Methods(http.MethodPost)
	r.HandleFunc("/engine/{kind}", h.Engine).Methods(http.MethodPost)
	r.HandleFunc("/stop", h.Stop).Methods(http.MethodPost)
	r.HandleFunc("/status", h.Status).Methods(http.MethodGet)
	return r, reg
}

func do(t *testing.T, router *mux.Router, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

type statusBody struct {
	Session  controller.Snapshot `json:"session"`
	Selected int                 `json:"selected"`
	Glow     string              `json:"glow"`
	Channels int                 `json:"channels"`
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) statusBody {
	t.Helper()
	var s statusBody
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decoding status: %v (%s)", err, rec.Body.String())
	}
	return s
}

func TestChannelsListsEntriesAndCategories(t *testing.T) {
	router, _ := testRouter(t)
	rec := do(t, router, http.MethodGet, "/channels")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Entries    []presenter.Entry `json:"entries"`
		Categories []string          `json:"categories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Entries) != 3 {
		t.Errorf("entries = %d, want 3", len(body.Entries))
	}
	if len(body.Categories) != 3 {
		t.Errorf("categories = %v", body.Categories)
	}
}

func TestChannelsCategoryFilter(t *testing.T) {
	router, _ := testRouter(t)
	rec := do(t, router, http.MethodGet, "/channels?category=sport")

	var body struct {
		Channels []registry.Channel `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Channels) != 1 || body.Channels[0].Name != "Sports Plus" {
		t.Errorf("filtered channels = %v", body.Channels)
	}
}

func TestPlaylistExportsM3U(t *testing.T) {
	router, _ := testRouter(t)
	rec := do(t, router, http.MethodGet, "/playlist")

	body := rec.Body.String()
	if !strings.HasPrefix(body, "#EXTM3U\n") {
		t.Fatalf("missing M3U header: %q", body)
	}
	if !strings.Contains(body, `group-title="News",News One`) {
		t.Errorf("missing channel line: %q", body)
	}
	if !strings.Contains(body, `tvg-id="News_One"`) {
		t.Errorf("missing sanitized tvg-id: %q", body)
	}
	if !strings.Contains(body, "http://example.com/sport.m3u8") {
		t.Errorf("missing channel url: %q", body)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/vnd.apple.mpegurl" {
		t.Errorf("content type = %q", got)
	}
}

func TestSelectPlaysChannel(t *testing.T) {
	router, _ := testRouter(t)
	rec := do(t, router, http.MethodPost, "/select/1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	s := decodeStatus(t, rec)
	if s.Session.State != "playing" {
		t.Errorf("session state = %q, want playing", s.Session.State)
	}
	if s.Selected != 1 {
		t.Errorf("selected = %d, want 1", s.Selected)
	}
}

func TestSelectOutOfRangeIsSilent(t *testing.T) {
	router, _ := testRouter(t)
	do(t, router, http.MethodPost, "/select/1")

	rec := do(t, router, http.MethodPost, "/select/99")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (silent no-op)", rec.Code)
	}
	if s := decodeStatus(t, rec); s.Selected != 1 {
		t.Errorf("selected = %d, want unchanged 1", s.Selected)
	}
}

func TestSelectNonNumericIndex(t *testing.T) {
	router, _ := testRouter(t)
	rec := do(t, router, http.MethodPost, "/select/abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestNextPreviousClampThroughHTTP(t *testing.T) {
	router, _ := testRouter(t)

	do(t, router, http.MethodPost, "/select/2")
	rec := do(t, router, http.MethodPost, "/next")
	if s := decodeStatus(t, rec); s.Selected != 2 {
		t.Errorf("selected after next at end = %d, want 2", s.Selected)
	}

	do(t, router, http.MethodPost, "/select/0")
	rec = do(t, router, http.MethodPost, "/previous")
	if s := decodeStatus(t, rec); s.Selected != 0 {
		t.Errorf("selected after previous at start = %d, want 0", s.Selected)
	}
}

func TestEngineSwitch(t *testing.T) {
	router, _ := testRouter(t)
	do(t, router, http.MethodPost, "/select/0")

	rec := do(t, router, http.MethodPost, "/engine/direct")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if s := decodeStatus(t, rec); s.Session.Engine != "direct" {
		t.Errorf("engine = %q, want direct", s.Session.Engine)
	}

	rec = do(t, router, http.MethodPost, "/engine/betamax")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown kind", rec.Code)
	}
}

func TestStopReturnsIdle(t *testing.T) {
	router, _ := testRouter(t)
	do(t, router, http.MethodPost, "/select/0")

	rec := do(t, router, http.MethodPost, "/stop")
	if s := decodeStatus(t, rec); s.Session.State != "idle" {
		t.Errorf("state = %q, want idle", s.Session.State)
	}
}

func TestStatusShape(t *testing.T) {
	router, _ := testRouter(t)
	rec := do(t, router, http.MethodGet, "/status")

	s := decodeStatus(t, rec)
	if s.Session.State != "idle" {
		t.Errorf("state = %q, want idle", s.Session.State)
	}
	if s.Selected != -1 {
		t.Errorf("selected = %d, want -1", s.Selected)
	}
	if s.Glow != "rgb(0, 0, 0)" {
		t.Errorf("glow = %q", s.Glow)
	}
	if s.Channels != 3 {
		t.Errorf("channels = %d, want 3", s.Channels)
	}
}
