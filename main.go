package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"iptv-browser/work/buffer"
	"iptv-browser/work/cache"
	"iptv-browser/work/client"
	"iptv-browser/work/config"
	"iptv-browser/work/controller"
	"iptv-browser/work/database"
	"iptv-browser/work/engine"
	"iptv-browser/work/glow"
	"iptv-browser/work/handlers"
	"iptv-browser/work/highlights"
	"iptv-browser/work/logger"
	"iptv-browser/work/metrics"
	"iptv-browser/work/middleware"
	"iptv-browser/work/presenter"
	"iptv-browser/work/registry"
	"iptv-browser/work/watcher"
)

var Version = "v0.1.0"

// listHeight is the channel list viewport in rows.
const listHeight = 12

func main() {

	// .env is optional; real deployments set the environment directly
	godotenv.Load()

	if p := os.Getenv("CONFIG_PATH"); p != "" {
		config.SetPath(p)
	}
	cfg := config.LoadConfig()
	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	}

	// Shared infrastructure
	bufferPool := buffer.NewBufferPool(64 * 1024)
	surface := buffer.NewRingBuffer(cfg.BufferSizeMB * 1024 * 1024)
	httpClient := client.NewHeaderSettingClient(cfg)
	cacheInstance := cache.New(cfg.CacheDuration)

	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// Channel registry and initial import
	reg := registry.New()
	importer := registry.NewImporter(cfg, httpClient, workerPool)
	runImport := func() {
		channels := importer.Import(context.Background())
		reg.Replace(channels)
		metrics.ChannelsImported.Set(float64(len(channels)))
		cacheInstance.Clear()
		logger.Info("registry now holds %d channels", len(channels))
	}
	runImport()

	// Playback history; the browser works without it
	var history *database.History
	if h, err := database.Open(cfg.HistoryPath); err != nil {
		logger.Warn("playback history disabled: %v", err)
	} else {
		history = h
		defer history.Close()
	}

	// Playback session
	factory := engine.NewFactory(cfg, httpClient, surface, bufferPool)
	var recorder controller.Recorder
	if history != nil {
		recorder = history
	}
	ctrl := controller.New(cfg, factory, surface, reg, recorder)

	// Restore the engine kind that last worked
	if history != nil {
		if recent, err := history.Recent(1); err == nil && len(recent) > 0 {
			if kind, ok := engine.ParseKind(recent[0].Engine); ok {
				ctrl.SetPreferred(kind)
				logger.Info("restored preferred engine %s from history", kind)
			}
		}
	}

	pres := presenter.New(reg, ctrl, listHeight)

	sampler := glow.NewSampler(cfg.Glow, surface)
	go sampler.Run(context.Background())

	// Scheduled source re-imports
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.RefreshCron, runImport); err != nil {
		logger.Warn("invalid refresh schedule %q: %v", cfg.RefreshCron, err)
	} else {
		scheduler.Start()
	}

	// Highlights proxy behind the bearer gate. The token never lives in the
	// config file; without HIGHLIGHTS_TOKEN an ephemeral one is generated so
	// the route stays guarded.
	token := os.Getenv("HIGHLIGHTS_TOKEN")
	if token == "" {
		token = uuid.NewString()
		logger.Warn("HIGHLIGHTS_TOKEN not set, using ephemeral token %s", token)
	}
	auth, err := middleware.NewBearerAuth(token)
	if err != nil {
		log.Fatalf("Failed to initialize highlights auth: %v", err)
	}
	highlightsSvc := highlights.NewService(cfg, httpClient, cacheInstance, reg)

	// HTTP surface
	h := handlers.New(cfg, reg, ctrl, pres, sampler, history, cacheInstance, importer)
	router := mux.NewRouter()
	router.HandleFunc("/channels", middleware.GzipMiddleware(h.Channels)).Methods("GET")
	router.HandleFunc("/playlist", middleware.GzipMiddleware(h.Playlist)).Methods("GET")
	router.HandleFunc("/select/{index}", h.Select).Methods("POST")
	router.HandleFunc("/next", h.Next).Methods("POST")
	router.HandleFunc("/previous", h.Previous).Methods("POST")
	router.HandleFunc("/engine/{kind}", h.Engine).Methods("POST")
	router.HandleFunc("/stop", h.Stop).Methods("POST")
	router.HandleFunc("/status", middleware.GzipMiddleware(h.Status)).Methods("GET")
	router.Handle("/api/highlights", auth.Wrap(http.HandlerFunc(highlightsSvc.Handler))).Methods("GET", "OPTIONS")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Config reload: the watcher signals, this loop re-reads and re-imports
	reloadChan := make(chan struct{}, 1)
	if cw, err := watcher.New(config.Path(), reloadChan); err != nil {
		logger.Warn("config watcher disabled: %v", err)
	} else {
		go cw.Run(context.Background())
	}
	go func() {
		for range reloadChan {
			logger.Info("reloading configuration")
			config.ClearConfigCache()
			newCfg := config.LoadConfig()

			// Swap pointers rather than mutating the shared struct; anything
			// mid-request keeps reading its old snapshot. Listener and engine
			// settings stay as started until restart.
			importer.SetConfig(newCfg)
			highlightsSvc.SetConfig(newCfg)
			highlightsSvc.Invalidate()
			runImport()
		}
	}()

	logger.Info("Starting IPTV Browser %s", Version)
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Channels: %d static, Sources: %d", len(cfg.Channels), len(cfg.Sources))
	logger.Info("  - Default Engine: %s", cfg.DefaultEngine)
	logger.Info("  - Refresh Schedule: %s", cfg.RefreshCron)
	logger.Info("  - Glow Sampler: %v", cfg.Glow.Enabled)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
