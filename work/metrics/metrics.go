package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionState reports the playback session state as a numeric gauge
// (0=idle, 1=loading, 2=playing).
var SessionState = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_browser_session_state",
	Help: "Current playback session state (0=idle, 1=loading, 2=playing)",
})

// PlaybackStarts counts successful playback starts per engine kind.
var PlaybackStarts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_browser_playback_starts_total",
	Help: "Number of successful playback starts",
}, []string{"engine"})

// PlaybackErrors counts playback failures by error type (unsupported_format,
// start_rejected, engine_construction).
var PlaybackErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_browser_playback_errors_total",
	Help: "Number of playback errors",
}, []string{"error_type"})

// EngineSwitches counts engine-kind switches per target kind.
var EngineSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_browser_engine_switches_total",
	Help: "Number of engine switches",
}, []string{"engine"})

// ChannelsImported reports how many channels the last import produced.
var ChannelsImported = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_browser_channels_imported",
	Help: "Number of channels in the registry after the last import",
})

// HighlightRequests counts highlights proxy requests by outcome
// (ok, unauthorized, upstream_error).
var HighlightRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_browser_highlight_requests_total",
	Help: "Number of highlights proxy requests",
}, []string{"outcome"})
