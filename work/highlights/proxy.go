package highlights

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"iptv-browser/work/cache"
	"iptv-browser/work/client"
	"iptv-browser/work/config"
	"iptv-browser/work/logger"
	"iptv-browser/work/metrics"
	"iptv-browser/work/registry"
)

const cacheKey = "highlights-feed"

// Service produces the match highlights document. With an upstream
// configured it acts as a caching pass-through proxy; otherwise it builds
// the document itself from the match feed and stream list sources.
type Service struct {
	cfg        atomic.Pointer[config.Config]
	httpClient *client.HeaderSettingClient
	cache      *cache.Cache
	registry   *registry.Registry
}

// NewService wires the service onto the shared HTTP client and cache.
func NewService(cfg *config.Config, httpClient *client.HeaderSettingClient, c *cache.Cache, reg *registry.Registry) *Service {
	s := &Service{
		httpClient: httpClient,
		cache:      c,
		registry:   reg,
	}
	s.cfg.Store(cfg)
	return s
}

// SetConfig points the service at a freshly loaded config. The swap is a
// single pointer store; in-flight requests finish on the old snapshot.
func (s *Service) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// Handler serves the highlights document. Token verification happens in the
// auth middleware before this runs; an unauthorized request never reaches
// the upstream.
func (s *Service) Handler(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if body, found := s.cache.Get(cacheKey); found {
		writeJSON(w, []byte(body))
		metrics.HighlightRequests.WithLabelValues("ok").Inc()
		return
	}

	body, err := s.document(r.Context())
	if err != nil {
		logger.Warn("highlights unavailable: %v", err)
		metrics.HighlightRequests.WithLabelValues("upstream_error").Inc()
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	s.cache.Set(cacheKey, string(body))
	writeJSON(w, body)
	metrics.HighlightRequests.WithLabelValues("ok").Inc()
}

// Invalidate drops the cached document, forcing a rebuild on next request.
// Called on config reload so a changed upstream or stream list takes effect
// without flushing the playlist cache alongside it.
func (s *Service) Invalidate() {
	s.cache.Delete(cacheKey)
}

func (s *Service) document(ctx context.Context) ([]byte, error) {
	cfg := s.cfg.Load()
	if cfg.Highlights.UpstreamURL != "" {
		return s.fetchText(ctx, cfg.Highlights.UpstreamURL)
	}
	return s.buildLocal(ctx, cfg)
}

// buildLocal runs the full scrape pipeline: parse the match dump, attach
// registry channels by name, merge the plain stream buckets, emit the feed.
func (s *Service) buildLocal(ctx context.Context, cfg *config.Config) ([]byte, error) {
	if cfg.Highlights.MatchFeedURL == "" {
		return nil, fmt.Errorf("no highlights upstream or match feed configured")
	}

	dump, err := s.fetchText(ctx, cfg.Highlights.MatchFeedURL)
	if err != nil {
		return nil, fmt.Errorf("fetching match feed: %w", err)
	}
	matches := parseMatches(string(dump))

	channelMap := make(map[string]string, s.registry.Len())
	for _, ch := range s.registry.All() {
		channelMap[strings.ToLower(ch.Name)] = ch.URL
	}
	attachStreams(matches, channelMap)

	if cfg.Highlights.StreamListURL != "" {
		plain, err := s.fetchText(ctx, cfg.Highlights.StreamListURL)
		if err != nil {
			logger.Warn("stream list unavailable, continuing without: %v", err)
		} else {
			buckets := ParseStreamList(string(plain))
			normalized := make(map[string][]string, len(buckets))
			for name, urls := range buckets {
				key := StripTrailingDigits(NormalizeKey(name))
				normalized[key] = append(normalized[key], urls...)
			}
			mergePlainStreams(matches, normalized)
		}
	}

	feed := buildFeed(matches, time.Now())
	return json.Marshal(feed)
}

func (s *Service) fetchText(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Load().StreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization")
}

func writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
