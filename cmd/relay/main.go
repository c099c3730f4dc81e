package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/mymmrac/telego"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/chatbot-relay/cmd/mainconfig"
	"github.com/wolfman30/chatbot-relay/internal/api/router"
	"github.com/wolfman30/chatbot-relay/internal/app/bootstrap"
	"github.com/wolfman30/chatbot-relay/internal/audit"
	"github.com/wolfman30/chatbot-relay/internal/channels/telegram"
	"github.com/wolfman30/chatbot-relay/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/chatbot-relay/internal/config"
	"github.com/wolfman30/chatbot-relay/internal/conversation"
	"github.com/wolfman30/chatbot-relay/internal/http/handlers"
	"github.com/wolfman30/chatbot-relay/internal/media"
	"github.com/wolfman30/chatbot-relay/internal/observability/metrics"
	"github.com/wolfman30/chatbot-relay/internal/relay"
	"github.com/wolfman30/chatbot-relay/internal/session"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting chatbot relay",
		"env", cfg.Env,
		"port", cfg.Port,
		"dialogue_backend", cfg.DialogueBackend,
		"document_store", cfg.DocumentStore,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	redisClient, err := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	store, pgPool, err := bootstrap.BuildDocumentStore(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build conversation store", "error", err)
		os.Exit(1)
	}
	if pgPool != nil {
		defer pgPool.Close()
	}

	auditDB := connectAuditDB(cfg.AuditDatabaseURL, logger)
	if auditDB != nil {
		defer func() { _ = auditDB.Close() }()
	}
	auditSvc := audit.NewService(auditDB)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	relayMetrics := metrics.NewRelayMetrics(registry)

	backend, err := bootstrap.BuildDialogueBackend(cfg, awsCfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to build dialogue backend", "error", err)
		os.Exit(1)
	}
	blobs, err := bootstrap.BuildBlobStore(cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build media store", "error", err)
		os.Exit(1)
	}
	transcriber, synthesizer, err := bootstrap.BuildSpeech(cfg, logger)
	if err != nil {
		logger.Error("failed to build speech clients", "error", err)
		os.Exit(1)
	}

	cache, err := bootstrap.BuildSessionCache(cfg, redisClient)
	if err != nil {
		logger.Error("failed to build session cache", "error", err)
		os.Exit(1)
	}

	gateway := conversation.NewGateway(store, logger)
	sessions := session.NewManager(cache, gateway, backend, logger)
	orchestrator := relay.NewOrchestrator(backend, gateway, sessions, synthesizer, blobs, logger,
		relay.WithCallTimeout(cfg.ExternalCallTimeout),
		relay.WithDefaultErrorMessage(cfg.DefaultErrorMessage),
		relay.WithOrchestratorMetrics(relayMetrics),
		relay.WithOrchestratorAudit(auditSvc),
	)
	pipeline := relay.NewService(sessions, gateway, orchestrator, relay.ServiceConfig{
		ResetKeyword:  cfg.ResetKeyword,
		ResetGreeting: cfg.ResetGreeting,
		CallTimeout:   cfg.ExternalCallTimeout,
	}, logger, relay.WithMetrics(relayMetrics), relay.WithAudit(auditSvc))

	routerCfg := &router.Config{
		Logger:          logger,
		Health:          handlers.NewHealthHandler(readinessChecks(redisClient, pgPool, auditDB), logger),
		MetricsHandler:  metrics.Handler(registry),
		AdminAuthSecret: cfg.AdminJWTSecret,
	}
	if cfg.AdminJWTSecret != "" {
		var events handlers.EventReader
		if auditSvc != nil {
			events = auditSvc
		}
		routerCfg.AdminHandler = handlers.NewAdminConversationsHandler(gateway, events, logger)
	}

	if cfg.TelegramEnabled() {
		bot, err := telegram.NewBot(cfg.TelegramBotToken)
		if err != nil {
			logger.Error("failed to create telegram bot", "error", err)
			os.Exit(1)
		}
		client := telegram.NewClient(bot)
		dispatcher := relay.NewDispatcher(telegram.Channel, client, media.DefaultClassifier, telegram.EscapeMarkdownV2, relayMetrics, logger)
		ingestor := relay.NewIngestor(media.NewDownloader(cfg.ExternalCallTimeout, "", ""), blobs, transcriber, cfg.ExternalCallTimeout, logger)
		routerCfg.TelegramWebhook = telegram.NewWebhookHandler(client, pipeline, ingestor, dispatcher, telegram.WebhookConfig{
			Secret:      cfg.TelegramWebhookSecret,
			HelpMessage: cfg.HelpMessage,
		}, relayMetrics, logger)

		if cfg.PublicBaseURL != "" {
			registerTelegramWebhook(ctx, bot, cfg, logger)
		}
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set; telegram webhook disabled")
	}

	if cfg.WhatsAppEnabled() {
		client, err := whatsapp.NewClient(whatsapp.ClientConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioFromNumber,
		})
		if err != nil {
			logger.Error("failed to create twilio client", "error", err)
			os.Exit(1)
		}
		dispatcher := relay.NewDispatcher(whatsapp.Channel, client, media.WhatsAppClassifier, nil, relayMetrics, logger)
		// Twilio media URLs require the account credentials.
		downloader := media.NewDownloader(cfg.ExternalCallTimeout, cfg.TwilioAccountSID, cfg.TwilioAuthToken)
		ingestor := relay.NewIngestor(downloader, blobs, transcriber, cfg.ExternalCallTimeout, logger)
		routerCfg.WhatsAppWebhook = whatsapp.NewWebhookHandler(cfg.TwilioWebhookSecret, pipeline, ingestor, dispatcher, relayMetrics, logger)
	} else {
		logger.Warn("twilio credentials not set; whatsapp webhook disabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Webhook routes clear this deadline; a turn is bounded per call.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func connectAuditDB(url string, logger *logging.Logger) *sql.DB {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		logger.Warn("audit database unavailable; audit trail disabled", "error", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Warn("audit database ping failed; audit trail disabled", "error", err)
		_ = db.Close()
		return nil
	}
	return db
}

func readinessChecks(redisClient *redis.Client, pool *pgxpool.Pool, auditDB *sql.DB) map[string]handlers.Pinger {
	checks := make(map[string]handlers.Pinger)
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if auditDB != nil {
		checks["audit_db"] = auditDB.PingContext
	}
	return checks
}

func registerTelegramWebhook(ctx context.Context, bot *telego.Bot, cfg *appconfig.Config, logger *logging.Logger) {
	url := fmt.Sprintf("%s/webhooks/telegram", strings.TrimRight(cfg.PublicBaseURL, "/"))
	err := bot.SetWebhook(ctx, &telego.SetWebhookParams{
		URL:         url,
		SecretToken: cfg.TelegramWebhookSecret,
	})
	if err != nil {
		logger.Warn("failed to register telegram webhook", "error", err, "url", url)
		return
	}
	logger.Info("telegram webhook registered", "url", url)
}
