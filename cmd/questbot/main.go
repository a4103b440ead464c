package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/q-forge/questbot/internal/config"
	"github.com/q-forge/questbot/internal/guild"
	"github.com/q-forge/questbot/internal/health"
	"github.com/q-forge/questbot/internal/ingress"
	jiraclient "github.com/q-forge/questbot/internal/jira"
	"github.com/q-forge/questbot/internal/metrics"
	"github.com/q-forge/questbot/internal/ops"
	"github.com/q-forge/questbot/internal/pipeline"
	"github.com/q-forge/questbot/internal/player"
	slackpkg "github.com/q-forge/questbot/internal/slack"
	"github.com/q-forge/questbot/internal/store"
	"github.com/q-forge/questbot/internal/story"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("ops_addr", cfg.OpsListenAddr).
		Bool("jira_api_enabled", cfg.JiraEnabled()).
		Bool("model_enabled", cfg.OllamaEnabled()).
		Msg("starting questbot")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Store
	db, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open store")
	}

	m := metrics.New()

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("store", func(ctx context.Context) health.Status {
		if err := db.DB().PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// Initialize Jira REST client (if configured)
	var jiraClient *jiraclient.Client
	if cfg.JiraEnabled() {
		jiraClient = jiraclient.NewClient(cfg.JiraBaseURL, cfg.JiraAPIEmail, cfg.JiraAPIToken, logger)
		logger.Info().Str("base_url", cfg.JiraBaseURL).Msg("Jira client initialized")
		checker.Register("jira", func(ctx context.Context) health.Status {
			return health.StatusOK
		})
	} else {
		logger.Info().Msg("Jira API not configured — skipping username validation and ticket links")
	}

	// Initialize model client (if configured)
	var modelClient *story.ModelClient
	modelOpts := story.ModelOptions{
		Temperature: cfg.ModelTemperature,
		TopP:        cfg.ModelTopP,
		TopK:        cfg.ModelTopK,
		NumPredict:  cfg.ModelMaxTokens,
	}
	if cfg.OllamaEnabled() {
		modelClient = story.NewModelClient(cfg.OllamaBaseURL, cfg.OllamaAPIKey, cfg.ModelTimeout, logger)
		logger.Info().Str("base_url", cfg.OllamaBaseURL).Str("model", cfg.NarrativeModel).Msg("model client initialized")
		checker.Register("model", func(ctx context.Context) health.Status {
			ok, err := modelClient.HasModel(ctx, cfg.NarrativeModel)
			if err != nil {
				return health.StatusDown
			}
			if !ok {
				return health.StatusDegraded
			}
			return health.StatusOK
		})
	} else {
		logger.Info().Msg("model service not configured — narratives use fallback templates")
	}

	// Slack client (required; the pipeline delivers through it)
	slackClient := slackpkg.NewClient(cfg.SlackBotToken, logger)
	checker.Register("slack", func(ctx context.Context) health.Status {
		if err := slackClient.Ping(); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// Domain services
	resolver := player.NewResolver(db, logger)
	guilds := guild.NewService(db, cfg.DefaultMaxGuildMembers, logger)

	var textGen story.TextGenerator
	if modelClient != nil {
		textGen = modelClient
	}
	generator := story.NewGenerator(textGen, cfg.NarrativeModel, modelOpts, cfg.FallbackTemplatesPath, logger)

	var validator slackpkg.UsernameValidator
	var linker pipeline.TicketLinker
	if jiraClient != nil {
		validator = jiraClient
		linker = jiraClient
	}

	var chatModel slackpkg.ChatModel
	if modelClient != nil {
		chatModel = modelClient
	}

	home := slackpkg.NewHomeUpdater(db, slackClient, logger)
	commands := slackpkg.NewCommandHandler(db, guilds, validator, logger)
	commands.SetChannelChecker(slackClient)
	responder := slackpkg.NewResponder(db, slackClient, chatModel, cfg.ChatModel, modelOpts, cfg.DedupeWindow, logger)
	if jiraClient != nil {
		responder.SetTracker(jiraClient)
	}

	pipe := pipeline.New(db, resolver, guilds, generator, slackClient, home, linker, m, logger)

	// HTTP server for webhooks, Slack callbacks and probes
	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.Handle("/metrics", m.Handler())

	ingressServer := ingress.NewServer(cfg.JiraWebhookSecret, cfg.ReplayWindow, pipe, m, logger)
	ingressServer.Register(mux)

	slackServer := slackpkg.NewServer(cfg.SlackSigningSecret, commands, responder, home, logger)
	slackServer.Register(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// WaitGroup for in-flight work
	var wg sync.WaitGroup

	// Ops API
	opsServer := ops.NewServer(ops.ServerConfig{
		ListenAddr:  cfg.OpsListenAddr,
		APIKey:      cfg.OpsAPIKey,
		CORSOrigins: cfg.OpsCORSOrigins,
	}, db, checker, logger)

	// Start HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Start ops API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := opsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("ops API server error")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	// Shutdown servers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if err := opsServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("ops API server shutdown error")
	}

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	if err := db.Close(); err != nil {
		logger.Error().Err(err).Msg("store close error")
	}

	logger.Info().Msg("questbot stopped")
}
