package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"outreach_backend/internal/ai"
	"outreach_backend/internal/catalog"
	"outreach_backend/internal/classifier"
	"outreach_backend/internal/conversation/cache"
	conversationrepo "outreach_backend/internal/conversation/repository"
	conversation "outreach_backend/internal/conversation/service"
	"outreach_backend/internal/followup"
	followuprepo "outreach_backend/internal/followup/repository"
	followupsvc "outreach_backend/internal/followup/service"
	apphttp "outreach_backend/internal/http"
	"outreach_backend/internal/scheduler"
	"outreach_backend/internal/whatsapp"
	"outreach_backend/platform/config"
	"outreach_backend/platform/db"
	"outreach_backend/platform/logger"
)

// channelID names the chat channel all bot sessions run on.
const channelID = "whatsapp"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting bot", "env", cfg.Env, "transport", cfg.WhatsAppTransport)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, cfg.MigrationsDir)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if cfg.RedisURL == "" {
		log.Error("REDIS_URL is required for the conversation context window")
		panic("REDIS_URL is required")
	}
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("invalid redis url", "error", err)
		panic("invalid redis url: " + err.Error())
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()

	aiClient := ai.NewClient(cfg, log)
	intents := classifier.New(aiClient, log)

	roster, err := classifier.LoadRoster(cfg.AdvisorsPath)
	if err != nil {
		log.Error("failed to load advisor roster", "error", err, "path", cfg.AdvisorsPath)
		panic("failed to load advisor roster: " + err.Error())
	}
	log.Info("advisor roster loaded", "advisors", roster.Size())

	inventory := catalog.New(cfg.CatalogDir, log)
	if err := inventory.Reload(); err != nil {
		log.Warn("property catalog unavailable, continuing without it", "error", err)
	}

	transport, err := whatsapp.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize whatsapp transport", "error", err)
		panic("failed to initialize whatsapp transport: " + err.Error())
	}

	// ========================================================================
	// Domain Services (Composition Root)
	// ========================================================================

	convRepo := conversationrepo.New(pool)
	window := cache.New(rdb, cfg.ContextWindow)

	followUps := followupsvc.New(
		followuprepo.New(pool),
		convRepo,
		transport,
		intents,
		cfg,
		channelID,
		log,
	)

	lifecycle := conversation.New(
		convRepo,
		window,
		aiClient,
		intents,
		roster,
		followUps,
		inventory,
		"",
		log,
	)

	transport.OnMessage(func(msgCtx context.Context, msg whatsapp.Message) {
		reply, err := lifecycle.HandleInbound(msgCtx, msg.From, channelID, msg.Text)
		if err != nil {
			log.WithCustomer(msg.From).Error("inbound handling failed", "error", err)
			return
		}
		if reply == "" {
			return
		}
		if err := transport.SendMessage(msgCtx, msg.From, reply); err != nil {
			log.WithCustomer(msg.From).Error("failed to send reply", "error", err)
		}
	})

	if err := withRetry(ctx, log, "whatsapp connection", 5, 2*time.Second, func() error {
		return transport.Connect(ctx)
	}); err != nil {
		log.Error("failed to connect whatsapp transport", "error", err)
		panic("failed to connect whatsapp transport: " + err.Error())
	}
	defer transport.Disconnect()

	ticker, err := followup.NewTicker(cfg.FollowUpTick, followUps.Tick, log)
	if err != nil {
		log.Error("failed to create follow-up ticker", "error", err)
		panic("failed to create follow-up ticker: " + err.Error())
	}
	ticker.Start()
	defer ticker.Stop()

	// Appointment reminders queued by the voicebot are delivered here,
	// over the same WhatsApp transport the chat runs on.
	worker, err := scheduler.NewWorker(cfg, pool, transport, log)
	if err != nil {
		log.Error("failed to initialize reminder worker", "error", err)
		panic("failed to initialize reminder worker: " + err.Error())
	}
	go worker.Run(ctx)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	engine := apphttp.NewRouter(log, pool)
	if gw, ok := transport.(*whatsapp.Gowa); ok {
		engine.POST("/webhook/whatsapp", gw.WebhookHandler())
		log.Info("gowa webhook mounted", "path", "/webhook/whatsapp")
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
