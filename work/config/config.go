package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration values for the channel browser.
// It covers the HTTP surface, the channel registry sources, playback engine
// defaults, the highlights proxy, and the ambient glow sampler.
type Config struct {
	BaseURL         string           `json:"baseURL"`         // Base URL used when rendering playlist links
	ListenPort      int              `json:"listenPort"`      // HTTP listen port
	Debug           bool             `json:"debug"`           // Enable debug logging
	ObfuscateUrls   bool             `json:"obfuscateUrls"`   // Obfuscate stream URLs in logs
	DefaultEngine   string           `json:"defaultEngine"`   // Engine kind for the first selection: "hls", "direct" or "external"
	StreamTimeout   time.Duration    `json:"streamTimeout"`   // Timeout for manifest fetches and probes
	CacheDuration   time.Duration    `json:"cacheDuration"`   // Expiry for cached playlist/highlights responses
	RefreshCron     string           `json:"refreshCron"`     // Cron schedule for source re-imports
	WorkerThreads   int              `json:"workerThreads"`   // Worker pool size for liveness probing
	ProbeEnabled    bool             `json:"probeEnabled"`    // HEAD-probe imported channels, keep first alive URL per name
	ProbeRate       int              `json:"probeRate"`       // Outbound probe requests per second
	HistoryPath     string           `json:"historyPath"`     // SQLite playback history file
	BufferSizeMB    int64            `json:"bufferSizeMB"`    // Session ring buffer size in MB
	UserAgent       string           `json:"userAgent"`       // User-Agent for outbound requests
	ReqOrigin       string           `json:"reqOrigin"`       // Optional Origin header for outbound requests
	ReqReferrer     string           `json:"reqReferrer"`     // Optional Referer header for outbound requests
	FFmpegPath      string           `json:"ffmpegPath"`      // Binary used by the external engine
	FFmpegPreInput  []string         `json:"ffmpegPreInput"`  // External engine arguments before -i
	FFmpegPreOutput []string         `json:"ffmpegPreOutput"` // External engine arguments before the output pipe
	Channels        []ChannelConfig  `json:"channels"`        // Static channel table
	Sources         []SourceConfig   `json:"sources"`         // Remote channel sources
	Highlights      HighlightsConfig `json:"highlights"`      // Highlights proxy settings
	Glow            GlowConfig       `json:"glow"`            // Ambient glow sampler settings
}

// ChannelConfig is a single static channel table entry.
type ChannelConfig struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	URL      string `json:"url"`
	Logo     string `json:"logo,omitempty"`
}

// SourceConfig describes one remote channel source. Type selects the parser:
// "m3u" for playlists, "encoded-json" for the 5-bit encoded channel feeds.
type SourceConfig struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Category string `json:"category,omitempty"` // Default category for channels from this source
}

// HighlightsConfig configures the bearer-gated match highlights proxy.
// The token itself is never stored here; it arrives through the environment
// (HIGHLIGHTS_TOKEN) and only its bcrypt hash is kept in memory.
type HighlightsConfig struct {
	UpstreamURL   string `json:"upstreamURL"`             // Upstream match feed endpoint
	MatchFeedURL  string `json:"matchFeedURL,omitempty"`  // Optional textual match feed to parse and enrich
	StreamListURL string `json:"streamListURL,omitempty"` // Optional plain name:/url: stream list
}

// GlowConfig configures the ambient glow sampler.
type GlowConfig struct {
	Enabled     bool          `json:"enabled"`
	Interval    time.Duration `json:"interval"`    // Sampling period
	Alpha       float64       `json:"alpha"`       // EMA smoothing factor in (0, 1]
	SampleBytes int64         `json:"sampleBytes"` // How much recent buffer data to sample
}

// configFile mirrors Config for JSON (un)marshaling; durations are strings
// (e.g. "30m") and parsed into time.Duration values.
type configFile struct {
	BaseURL         string           `json:"baseURL"`
	ListenPort      int              `json:"listenPort"`
	Debug           bool             `json:"debug"`
	ObfuscateUrls   bool             `json:"obfuscateUrls"`
	DefaultEngine   string           `json:"defaultEngine"`
	StreamTimeout   string           `json:"streamTimeout"`
	CacheDuration   string           `json:"cacheDuration"`
	RefreshCron     string           `json:"refreshCron"`
	WorkerThreads   int              `json:"workerThreads"`
	ProbeEnabled    bool             `json:"probeEnabled"`
	ProbeRate       int              `json:"probeRate"`
	HistoryPath     string           `json:"historyPath"`
	BufferSizeMB    int64            `json:"bufferSizeMB"`
	UserAgent       string           `json:"userAgent"`
	ReqOrigin       string           `json:"reqOrigin"`
	ReqReferrer     string           `json:"reqReferrer"`
	FFmpegPath      string           `json:"ffmpegPath"`
	FFmpegPreInput  []string         `json:"ffmpegPreInput"`
	FFmpegPreOutput []string         `json:"ffmpegPreOutput"`
	Channels        []ChannelConfig  `json:"channels"`
	Sources         []SourceConfig   `json:"sources"`
	Highlights      HighlightsConfig `json:"highlights"`
	Glow            glowConfigFile   `json:"glow"`
}

type glowConfigFile struct {
	Enabled     bool    `json:"enabled"`
	Interval    string  `json:"interval"`
	Alpha       float64 `json:"alpha"`
	SampleBytes int64   `json:"sampleBytes"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
	configPath  = "/settings/config.json"
)

// SetPath overrides the config file location. Call before the first
// LoadConfig.
func SetPath(path string) {
	configMutex.Lock()
	defer configMutex.Unlock()
	configPath = path
}

// Path returns the config file location currently in effect.
func Path() string {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return configPath
}

// LoadConfig loads the configuration from file or returns the cached
// instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Falls back to default config if the file is missing or invalid.
//   - Runs validation to ensure safe defaults, then env overrides.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	applyEnvOverrides(config)
	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Channels: %d static, Sources: %d", len(config.Channels), len(config.Sources))
		for i := range config.Sources {
			src := &config.Sources[i]
			log.Printf("    Source %d (%s, %s): %s", i+1, src.Name, src.Type, obfuscateURL(src.URL))
		}
		log.Printf("  Default Engine: %s", config.DefaultEngine)
		log.Printf("  Obfuscate URLs: %v", config.ObfuscateUrls)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&cf)
}

// convertFromFile converts the file representation to Config, parsing
// duration strings into time.Duration.
func convertFromFile(cf *configFile) (*Config, error) {
	config := &Config{
		BaseURL:         cf.BaseURL,
		ListenPort:      cf.ListenPort,
		Debug:           cf.Debug,
		ObfuscateUrls:   cf.ObfuscateUrls,
		DefaultEngine:   cf.DefaultEngine,
		RefreshCron:     cf.RefreshCron,
		WorkerThreads:   cf.WorkerThreads,
		ProbeEnabled:    cf.ProbeEnabled,
		ProbeRate:       cf.ProbeRate,
		HistoryPath:     cf.HistoryPath,
		BufferSizeMB:    cf.BufferSizeMB,
		UserAgent:       cf.UserAgent,
		ReqOrigin:       cf.ReqOrigin,
		ReqReferrer:     cf.ReqReferrer,
		FFmpegPath:      cf.FFmpegPath,
		FFmpegPreInput:  cf.FFmpegPreInput,
		FFmpegPreOutput: cf.FFmpegPreOutput,
		Channels:        cf.Channels,
		Sources:         cf.Sources,
		Highlights:      cf.Highlights,
		Glow: GlowConfig{
			Enabled:     cf.Glow.Enabled,
			Alpha:       cf.Glow.Alpha,
			SampleBytes: cf.Glow.SampleBytes,
		},
	}

	var err error
	if cf.StreamTimeout != "" {
		if config.StreamTimeout, err = time.ParseDuration(cf.StreamTimeout); err != nil {
			return nil, fmt.Errorf("invalid streamTimeout: %w", err)
		}
	}
	if cf.CacheDuration != "" {
		if config.CacheDuration, err = time.ParseDuration(cf.CacheDuration); err != nil {
			return nil, fmt.Errorf("invalid cacheDuration: %w", err)
		}
	}
	if cf.Glow.Interval != "" {
		if config.Glow.Interval, err = time.ParseDuration(cf.Glow.Interval); err != nil {
			return nil, fmt.Errorf("invalid glow interval: %w", err)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration with sensible defaults
// when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:       "http://localhost:8080",
		ListenPort:    8080,
		Debug:         false,
		ObfuscateUrls: false,
		DefaultEngine: "hls",
		StreamTimeout: 10 * time.Second,
		CacheDuration: 30 * time.Minute,
		RefreshCron:   "0 */6 * * *",
		WorkerThreads: 8,
		ProbeEnabled:  false,
		ProbeRate:     10,
		HistoryPath:   "/settings/history.db",
		BufferSizeMB:  4,
		UserAgent:     "VLC/3.0.18 LibVLC/3.0.18",
		FFmpegPath:    "ffmpeg",
		Glow: GlowConfig{
			Enabled:     true,
			Interval:    2 * time.Second,
			Alpha:       0.2,
			SampleBytes: 64 * 1024,
		},
	}
}

// validateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing or invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.ListenPort <= 0 {
		config.ListenPort = 8080
	}
	switch config.DefaultEngine {
	case "hls", "direct", "external":
	default:
		config.DefaultEngine = "hls"
	}
	if config.StreamTimeout <= 0 {
		config.StreamTimeout = 10 * time.Second
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = 30 * time.Minute
	}
	if config.RefreshCron == "" {
		config.RefreshCron = "0 */6 * * *"
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.ProbeRate <= 0 {
		config.ProbeRate = 10
	}
	if config.HistoryPath == "" {
		config.HistoryPath = "/settings/history.db"
	}
	if config.BufferSizeMB <= 0 {
		config.BufferSizeMB = 4
	}
	if config.UserAgent == "" {
		config.UserAgent = "VLC/3.0.18 LibVLC/3.0.18"
	}
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.Glow.Interval <= 0 {
		config.Glow.Interval = 2 * time.Second
	}
	if config.Glow.Alpha <= 0 || config.Glow.Alpha > 1 {
		config.Glow.Alpha = 0.2
	}
	if config.Glow.SampleBytes <= 0 {
		config.Glow.SampleBytes = 64 * 1024
	}

	for i := range config.Sources {
		src := &config.Sources[i]
		if src.Name == "" {
			src.Name = fmt.Sprintf("Source_%d", i+1)
		}
		if src.Type == "" {
			src.Type = "m3u"
		}
	}
}

// applyEnvOverrides lets a handful of deployment-sensitive values come from
// the environment instead of the file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("BASE_URL"); v != "" {
		config.BaseURL = v
	}
	if v := os.Getenv("HIGHLIGHTS_UPSTREAM"); v != "" {
		config.Highlights.UpstreamURL = v
	}
	if os.Getenv("DEBUG") == "true" {
		config.Debug = true
	}
}

// ClearConfigCache resets the cached config, forcing a reload on the next
// LoadConfig call. Used by the graceful reload path.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// CreateExampleConfig writes an example config file to disk.
func CreateExampleConfig(path string) error {
	example := configFile{
		BaseURL:       "http://localhost:8080",
		ListenPort:    8080,
		Debug:         false,
		ObfuscateUrls: true,
		DefaultEngine: "hls",
		StreamTimeout: "10s",
		CacheDuration: "30m",
		RefreshCron:   "0 */6 * * *",
		WorkerThreads: 8,
		ProbeEnabled:  true,
		ProbeRate:     10,
		HistoryPath:   "/settings/history.db",
		BufferSizeMB:  4,
		UserAgent:     "VLC/3.0.18 LibVLC/3.0.18",
		FFmpegPath:    "ffmpeg",
		Channels: []ChannelConfig{
			{Name: "Sky Sports Main Event", Category: "Sports", URL: "http://example.com/sky-main.m3u8", Logo: "http://example.com/logos/sky.png"},
			{Name: "beIN Sports 1", Category: "Sports", URL: "http://example.com/bein1.m3u8"},
		},
		Sources: []SourceConfig{
			{Name: "Primary Playlist", URL: "http://example.com/playlist.m3u8", Type: "m3u"},
			{Name: "Encoded Sports Feed", URL: "http://example.com/sports.json", Type: "encoded-json", Category: "Sports"},
		},
		Highlights: HighlightsConfig{
			UpstreamURL: "http://example.com/api/highlights.json",
		},
		Glow: glowConfigFile{
			Enabled:     true,
			Interval:    "2s",
			Alpha:       0.2,
			SampleBytes: 65536,
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// obfuscateURL masks sensitive parts of a URL for logging.
//
// Example:
//
//	Input:  "http://example.com/secret/stream.m3u8?token=abc"
//	Output: "http://example.com/***?***"
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}
