package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"iptv-browser/work/client"
	"iptv-browser/work/config"
	"iptv-browser/work/logger"
	"iptv-browser/work/utils"
)

// encodedChannel is one entry of a decoded channel feed.
type encodedChannel struct {
	Name     string `json:"name"`
	HLSURL   string `json:"hlsUrl"`
	Category string `json:"category"`
	LogoURL  string `json:"logoUrl"`
}

// SourceStat is the outcome of the most recent import of one source.
type SourceStat struct {
	Channels int       `json:"channels"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Importer builds the registry's channel list from the static table and the
// configured remote sources. When probing is enabled, imported URLs are
// HEAD-checked over the worker pool and only the first alive URL per channel
// name survives.
type Importer struct {
	cfg        atomic.Pointer[config.Config]
	HttpClient *client.HeaderSettingClient
	WorkerPool *ants.Pool
	limiter    ratelimit.Limiter
	stats      *xsync.MapOf[string, SourceStat]
}

// NewImporter wires an importer onto the shared HTTP client and worker pool.
func NewImporter(cfg *config.Config, httpClient *client.HeaderSettingClient, pool *ants.Pool) *Importer {
	imp := &Importer{
		HttpClient: httpClient,
		WorkerPool: pool,
		limiter:    ratelimit.New(cfg.ProbeRate),
		stats:      xsync.NewMapOf[string, SourceStat](),
	}
	imp.cfg.Store(cfg)
	return imp
}

// SetConfig points the importer at a freshly loaded config. The swap is a
// single pointer store, so a reload never races an in-flight import; the
// probe rate limiter keeps its construction-time rate.
func (imp *Importer) SetConfig(cfg *config.Config) {
	imp.cfg.Store(cfg)
}

// SourceStats returns the last import outcome per source name.
func (imp *Importer) SourceStats() map[string]SourceStat {
	out := make(map[string]SourceStat)
	imp.stats.Range(func(name string, stat SourceStat) bool {
		out[name] = stat
		return true
	})
	return out
}

// Import fetches every source, merges the results behind the static channel
// table, and returns the ordered list. Static channels always come first and
// are never probed; a broken remote source degrades to a log line, not a
// failed import.
func (imp *Importer) Import(ctx context.Context) []Channel {
	cfg := imp.cfg.Load()

	channels := make([]Channel, 0, len(cfg.Channels))
	for _, cc := range cfg.Channels {
		channels = append(channels, Channel{
			Name:     cc.Name,
			Category: cc.Category,
			URL:      cc.URL,
			Logo:     cc.Logo,
		})
	}

	var imported []Channel
	for i := range cfg.Sources {
		src := &cfg.Sources[i]

		var parsed []Channel
		var err error
		switch src.Type {
		case "encoded-json":
			parsed, err = imp.importEncodedJSON(ctx, src)
		default:
			parsed, err = imp.importM3U(ctx, src)
		}
		if err != nil {
			logger.Warn("import failed for source %s: %v", src.Name, err)
			imp.stats.Store(src.Name, SourceStat{Error: err.Error(), At: time.Now()})
			continue
		}

		logger.Info("imported %d channels from source %s", len(parsed), src.Name)
		imp.stats.Store(src.Name, SourceStat{Channels: len(parsed), At: time.Now()})
		imported = append(imported, parsed...)
	}

	if cfg.ProbeEnabled && len(imported) > 0 {
		imported = imp.filterAlive(ctx, imported)
	}

	// Collapse duplicates by name, first occurrence wins. Static channels
	// come first so they shadow imported ones.
	combined := make([]Channel, 0, len(channels)+len(imported))
	combined = append(combined, channels...)
	combined = append(combined, imported...)

	seen := make(map[string]bool, len(combined))
	merged := make([]Channel, 0, len(combined))
	for _, ch := range combined {
		key := strings.ToLower(strings.TrimSpace(ch.Name))
		if key == "" || ch.URL == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, ch)
	}

	return merged
}

// fetch retrieves a source body with the configured stream timeout.
func (imp *Importer) fetch(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, imp.cfg.Load().StreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := imp.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// importEncodedJSON fetches an encoded channel feed, decodes the 5-bit
// payload and unmarshals the channel entries.
func (imp *Importer) importEncodedJSON(ctx context.Context, src *config.SourceConfig) ([]Channel, error) {
	if cfg := imp.cfg.Load(); cfg.Debug {
		logger.Debug("downloading encoded feed %s", utils.LogURL(cfg, src.URL))
	}

	raw, err := imp.fetch(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	decoded := DecodePayload(string(raw))

	var entries []encodedChannel
	if err := json.Unmarshal([]byte(decoded), &entries); err != nil {
		return nil, fmt.Errorf("parsing decoded feed: %w", err)
	}

	var channels []Channel
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		url := strings.TrimSpace(e.HLSURL)
		if name == "" || url == "" {
			continue
		}
		category := e.Category
		if category == "" {
			category = src.Category
		}
		channels = append(channels, Channel{
			Name:     name,
			Category: category,
			URL:      url,
			Logo:     e.LogoURL,
		})
	}

	return channels, nil
}

// importM3U fetches and parses an M3U playlist source. Parsing goes through
// grafov/m3u8 first and falls back to a line scanner for the loose EXTINF
// dialect most IPTV providers emit.
func (imp *Importer) importM3U(ctx context.Context, src *config.SourceConfig) ([]Channel, error) {
	raw, err := imp.fetch(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(strings.NewReader(string(raw))), true)
	if err == nil && listType == m3u8.MASTER {
		if cfg := imp.cfg.Load(); cfg.Debug {
			logger.Debug("parsed master playlist with grafov parser: %s", utils.LogURL(cfg, src.URL))
		}
		return channelsFromMaster(playlist.(*m3u8.MasterPlaylist), src), nil
	}

	// Loose EXTINF playlists decode as MEDIA or fail outright; the fallback
	// scanner handles both.
	return parseEXTINFPlaylist(strings.NewReader(string(raw)), src), nil
}

// channelsFromMaster maps master playlist variants onto channels.
func channelsFromMaster(master *m3u8.MasterPlaylist, src *config.SourceConfig) []Channel {
	var channels []Channel
	for _, variant := range master.Variants {
		if variant == nil {
			break
		}

		name := variant.Name
		if name == "" && variant.Resolution != "" {
			name = fmt.Sprintf("%s %s", src.Name, variant.Resolution)
		} else if name == "" {
			name = fmt.Sprintf("%s %d", src.Name, variant.Bandwidth)
		}

		channels = append(channels, Channel{
			Name:     name,
			Category: src.Category,
			URL:      variant.URI,
		})
	}
	return channels
}

// parseEXTINFPlaylist scans EXTINF/URL pairs out of a loose M3U document.
func parseEXTINFPlaylist(reader io.Reader, src *config.SourceConfig) []Channel {
	var channels []Channel
	scanner := bufio.NewScanner(reader)
	var currentAttrs map[string]string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "#EXTINF:") {
			currentAttrs = ParseEXTINF(line)
		} else if currentAttrs != nil && (strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://")) {
			name := currentAttrs["tvg-name"]
			if name == "" {
				name = "Unknown"
			}
			category := currentAttrs["group-title"]
			if category == "" {
				category = src.Category
			}
			channels = append(channels, Channel{
				Name:     name,
				Category: category,
				URL:      line,
				Logo:     currentAttrs["tvg-logo"],
			})
			currentAttrs = nil
		}
	}

	return channels
}

var extinfAttrRegex = regexp.MustCompile(`([A-Za-z0-9_-]+)="([^"]*)"`)

// ParseEXTINF extracts the duration, attributes and trailing channel name
// from an #EXTINF line. Quoted attribute values may contain spaces and
// commas.
func ParseEXTINF(line string) map[string]string {
	attrs := make(map[string]string)

	line = strings.TrimPrefix(line, "#EXTINF:")

	// Find the last comma that separates attributes from the channel name
	lastComma := -1
	inQuotes := false
	for i := len(line) - 1; i >= 0; i-- {
		if line[i] == '"' {
			inQuotes = !inQuotes
		} else if line[i] == ',' && !inQuotes {
			lastComma = i
			break
		}
	}
	if lastComma == -1 {
		return attrs
	}

	attrPart := strings.TrimSpace(line[:lastComma])
	channelName := strings.TrimSpace(line[lastComma+1:])

	if fields := strings.Fields(attrPart); len(fields) > 0 {
		attrs["duration"] = fields[0]
	}
	for _, m := range extinfAttrRegex.FindAllStringSubmatch(attrPart, -1) {
		attrs[m[1]] = m[2]
	}

	if channelName != "" {
		attrs["tvg-name"] = channelName
	}

	return attrs
}

// filterAlive HEAD-checks every imported channel over the worker pool and
// keeps the first alive URL per channel name. Probes are rate limited to
// avoid tripping provider abuse detection.
func (imp *Importer) filterAlive(ctx context.Context, channels []Channel) []Channel {
	alive := make([]bool, len(channels))
	var wg sync.WaitGroup

	for i := range channels {
		i := i
		wg.Add(1)
		err := imp.WorkerPool.Submit(func() {
			defer wg.Done()
			imp.limiter.Take()
			alive[i] = imp.urlIsAlive(ctx, channels[i].URL)
		})
		if err != nil {
			// Pool saturated or released; keep the channel rather than
			// dropping it unprobed.
			alive[i] = true
			wg.Done()
		}
	}
	wg.Wait()

	seen := make(map[string]bool, len(channels))
	var out []Channel
	for i, ch := range channels {
		if !alive[i] {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(ch.Name))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ch)
	}

	if imp.cfg.Load().Debug {
		logger.Debug("probe kept %d of %d imported channels", len(out), len(channels))
	}

	return out
}

// urlIsAlive reports whether a HEAD request to url succeeds with a 2xx/3xx.
func (imp *Importer) urlIsAlive(ctx context.Context, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}

	resp, err := imp.HttpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
