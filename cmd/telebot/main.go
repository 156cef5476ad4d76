// Package main is the daemon entry point: wire config, persistence,
// cache, services, tools, pipeline, command dispatcher, and the
// Telegram transport together, then run until a signal asks for a
// graceful shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telebot-agent/chatengine/internal/cache"
	"github.com/telebot-agent/chatengine/internal/command"
	"github.com/telebot-agent/chatengine/internal/config"
	"github.com/telebot-agent/chatengine/internal/embedding"
	"github.com/telebot-agent/chatengine/internal/event"
	"github.com/telebot-agent/chatengine/internal/health"
	"github.com/telebot-agent/chatengine/internal/logging"
	"github.com/telebot-agent/chatengine/internal/pipeline"
	"github.com/telebot-agent/chatengine/internal/services"
	"github.com/telebot-agent/chatengine/internal/storage"
	"github.com/telebot-agent/chatengine/internal/telegram"
	"github.com/telebot-agent/chatengine/internal/tool"
)

const (
	syncInterval    = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

var (
	logLevel  = flag.String("log-level", "info", "log level: debug, info, warn, error")
	logPretty = flag.Bool("log-pretty", false, "use human-readable console log output")
)

func main() {
	flag.Parse()

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(*logLevel),
		Pretty: *logPretty,
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("storage: open failed")
	}
	defer store.Close()

	c, err := cache.Load(ctx, store)
	if err != nil {
		logging.Fatal().Err(err).Msg("cache: initial load failed")
	}

	bus := event.NewBus()
	defer bus.Close()

	var embed services.EmbeddingClient
	if cfg.EmbeddingAPIKey != "" {
		embedClient, err := embedding.New(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
		if err != nil {
			logging.Error().Err(err).Msg("embedding: init failed, memory search will skip semantic retrieval")
		} else {
			embed = embedClient
		}
	}

	svc := services.New(c, bus, embed,
		services.WithMemoryTopK(cfg.MemoryTopK),
		services.WithMemorySimilarityThreshold(cfg.MemorySimilarityThreshold),
		services.WithMemoryDedupThreshold(cfg.MemoryDedupThreshold),
		services.WithDefaultEnabledTools(cfg.EnabledTools))

	registry := tool.NewRegistry()
	registry.Register(tool.NewMemoryTool(svc))
	registry.Register(tool.NewSearchTool(cfg.SearchBrowserlessURL, cfg.SearchBrowserlessKey, cfg.SearchOllamaURL))
	registry.Register(tool.NewFetchTool(cfg.FetchReaderEndpoint))
	registry.Register(tool.NewWikipediaTool(""))

	voiceQueue := tool.NewVoiceQueue()
	speakTool, listVoicesTool := tool.NewTTSTools(cfg.TTSEndpoint, cfg.TTSDefaultVoice, voiceQueue, bus, svc)
	registry.Register(speakTool)
	registry.Register(listVoicesTool)

	pipelineCfg := pipeline.Config{
		DefaultAPIKey:       cfg.DefaultAPIKey,
		DefaultBaseURL:      cfg.DefaultBaseURL,
		DefaultModel:        cfg.DefaultModel,
		DefaultTemperature:  cfg.DefaultTemperature,
		DefaultSystemPrompt: cfg.DefaultSystemPrompt,
	}

	bot, err := telegram.NewBot(cfg.TelegramToken)
	if err != nil {
		logging.Fatal().Err(err).Msg("telegram: bot init failed")
	}

	runner := pipeline.New(svc, registry, voiceQueue, bot, pipelineCfg, nil)
	dispatcher := command.New(svc, runner, registry, bot, pipelineCfg)
	bot.Wire(dispatcher, runner)

	healthSrv := health.New(cfg.HealthPort)
	go func() {
		if err := healthSrv.Start(); err != nil {
			logging.Error().Err(err).Msg("health: server error")
		}
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	go func() {
		if err := bot.Run(runCtx); err != nil && runCtx.Err() == nil {
			logging.Error().Err(err).Msg("telegram: polling loop exited")
		}
	}()

	stopSync := runSyncLoop(runCtx, c, store, bus)

	logging.Info().Msg("telebot: running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("telebot: shutting down")
	cancelRun()
	stopSync()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("health: shutdown error")
	}
	if err := c.Sync(shutdownCtx, store); err != nil {
		logging.Error().Err(err).Msg("cache: final sync failed")
	}

	logging.Info().Msg("telebot: stopped")
}

// runSyncLoop flushes the cache's dirty sets to the store every
// syncInterval, publishing sync.completed/sync.failed so anything
// subscribed (diagnostics, tests) can observe cycle outcomes. The
// returned function stops the loop and blocks until it has exited.
func runSyncLoop(ctx context.Context, c *cache.Cache, store *storage.Store, bus *event.Bus) func() {
	done := make(chan struct{})
	ticker := time.NewTicker(syncInterval)

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := c.Sync(ctx, store); err != nil {
					bus.Publish(event.Event{Type: event.SyncFailed, Data: event.SyncFailedData{Error: err.Error()}})
					logging.Error().Err(err).Msg("cache: sync cycle failed, will retry")
					continue
				}
				bus.Publish(event.Event{Type: event.SyncCompleted, Data: event.SyncCompletedData{
					Duration: time.Since(start).String(),
				}})
			}
		}
	}()

	return func() {
		<-done
	}
}
