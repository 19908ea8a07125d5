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

	"outreach_backend/internal/ai"
	"outreach_backend/internal/audio"
	"outreach_backend/internal/campaigns"
	campaignrepo "outreach_backend/internal/campaigns/repository"
	"outreach_backend/internal/classifier"
	apphttp "outreach_backend/internal/http"
	"outreach_backend/internal/scheduler"
	"outreach_backend/internal/telephony"
	"outreach_backend/internal/voice"
	"outreach_backend/platform/config"
	"outreach_backend/platform/db"
	"outreach_backend/platform/logger"
	"outreach_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting voicebot", "env", cfg.Env, "addr", cfg.HTTPAddr)

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

	converter := audio.NewConverter(cfg.SoundsPath, cfg.RecordingPath, log)
	if err := converter.Check(ctx); err != nil {
		log.Error("audio tooling unavailable", "error", err)
		panic("audio tooling unavailable: " + err.Error())
	}

	aiClient := ai.NewClient(cfg, log)
	intents := classifier.New(aiClient, log)
	media := voice.NewMedia(aiClient, converter, "")

	ari := telephony.New(cfg, log)
	if err := withRetry(ctx, log, "telephony connection", 5, 2*time.Second, func() error {
		return ari.Connect(ctx)
	}); err != nil {
		log.Error("failed to connect to asterisk", "error", err)
		panic("failed to connect to asterisk: " + err.Error())
	}

	// ========================================================================
	// Domain Services (Composition Root)
	// ========================================================================

	store := campaignrepo.New(pool)

	responses := voice.NewResponseSet(log)
	responses.Precompile(ctx, media)

	turns := voice.NewTurnLoop(ari, media, media, media, aiClient, responses, store, cfg, log)

	reminders, closeReminders := initReminderScheduler(cfg, log)
	if closeReminders != nil {
		defer closeReminders()
	}
	analyzer := voice.NewAnalyzer(intents, store, reminders, log)

	dispatcher := voice.NewDispatcher(store, ari, turns, analyzer, cfg, log)
	go dispatcher.Run(ctx)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	val := validator.New()
	campaignsModule := campaigns.NewModule(pool, val, dispatcher, dispatcher, log)

	engine := apphttp.NewRouter(log, pool, campaignsModule)

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

func initReminderScheduler(cfg config.SchedulerConfig, log *logger.Logger) (scheduler.ReminderScheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; appointment reminders disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize reminder scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
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
