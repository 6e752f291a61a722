package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rugintel/sentinel/internal/api"
	"github.com/rugintel/sentinel/internal/composer"
	"github.com/rugintel/sentinel/internal/config"
	"github.com/rugintel/sentinel/internal/gemini"
	"github.com/rugintel/sentinel/internal/knowledge"
	"github.com/rugintel/sentinel/internal/pipeline"
	"github.com/rugintel/sentinel/internal/storage"
)

// app is the wired question-answering stack shared by `start` and
// `ask --local`.
type app struct {
	answerer *pipeline.Answerer
	client   *gemini.Client
	store    *storage.Store   // nil unless storage.record_interactions
	cache    *knowledge.Cache // nil unless knowledge.cache
	degraded atomic.Int64
}

func setupLogging(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	timeout, err := time.ParseDuration(cfg.Gemini.Timeout)
	if err != nil || timeout <= 0 {
		logger.Warn("invalid gemini timeout, using default 30s", "value", cfg.Gemini.Timeout, "error", err)
		timeout = 30 * time.Second
	}
	a.client = gemini.NewClient(cfg.Gemini.APIKey,
		gemini.WithModel(cfg.Gemini.Model),
		gemini.WithBaseURL(cfg.Gemini.BaseURL),
		gemini.WithTimeout(timeout),
		gemini.WithRetry(cfg.Gemini.Retry),
		gemini.WithLogger(logger),
		gemini.WithDegradationHook(func(model string) {
			n := a.degraded.Add(1)
			logger.Info("degraded responses", "model", model, "total", n)
		}),
	)
	if !a.client.Configured() {
		logger.Warn("gemini API key not configured; chat requests will fail until SENTINEL_GEMINI_API_KEY is set")
	}

	loader := knowledge.NewLoader(
		knowledge.WithExtensions(cfg.Knowledge.ExtensionList()...),
		knowledge.WithSkipUnreadable(cfg.Knowledge.SkipUnreadable),
		knowledge.WithLogger(logger),
	)
	var src knowledge.Source = knowledge.RootSource{
		Loader: loader,
		Roots: []knowledge.Root{
			knowledge.DirRoot(knowledge.OriginScope, cfg.Knowledge.ScopeDir),
			knowledge.DirRoot(knowledge.OriginDoc, cfg.Knowledge.DocsDir),
		},
	}
	if cfg.Knowledge.Cache {
		cache, err := knowledge.NewCache(src, []string{cfg.Knowledge.ScopeDir, cfg.Knowledge.DocsDir}, logger)
		if err != nil {
			return nil, fmt.Errorf("starting knowledge watcher: %w", err)
		}
		a.cache = cache
		src = cache
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if cfg.Storage.RecordInteractions {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.store = store
		opts = append(opts, pipeline.WithRecorder(store))
	}

	a.answerer = pipeline.NewAnswerer(src, composer.NewAssembler(cfg.Knowledge.MaxContextChars, logger), a.client, opts...)
	return a, nil
}

// interactionStore returns the store as an api.InteractionStore, or nil
// when recording is disabled.
func (a *app) interactionStore() api.InteractionStore {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *app) Close() error {
	var firstErr error
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
