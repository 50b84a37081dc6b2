package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klinikcare/internal/api"
	"klinikcare/internal/config"
	"klinikcare/internal/database"
	"klinikcare/internal/domain"
	"klinikcare/internal/events"
	"klinikcare/internal/lifecycle"
	"klinikcare/internal/logging"
	"klinikcare/internal/metrics"
	"klinikcare/internal/repository"
	"klinikcare/internal/service"
	"klinikcare/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	table := lifecycle.NewTable()
	if err := loadKinds(table, &logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store domain.EntityStore = db
	if redisClient != nil && cfg.Redis.Enabled {
		store = repository.NewRedisEntityStore(redisClient)
		logger.Info().Msg("using redis entity store")
	}

	notifyWorker := initNotifyWorker(ctx, cfg, db, redisClient, &logger)

	eventBus := events.NewEventBus()
	var enqueuer domain.NotifyEnqueuer
	if notifyWorker != nil {
		enqueuer = notifyWorker
	}

	lifecycleSvc := service.NewLifecycleService(store, table, lifecycle.DefaultEvaluator(),
		eventBus, enqueuer, cfg.Engine.MaxAttempts, &logger)
	entitySvc := service.NewEntityService(store, table, eventBus, &logger)

	startBackup(ctx, cfg, db, &logger)
	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, lifecycleSvc, entitySvc, table, &logger)

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// loadKinds merges extra state graphs from configs/kinds.yaml on top of the
// built-in ones. The file is optional.
func loadKinds(table *lifecycle.Table, logger *zerolog.Logger) error {
	kindsPath := os.Getenv("KINDS_PATH")
	if kindsPath == "" {
		kindsPath = "configs/kinds.yaml"
	}

	kindsData, err := os.ReadFile(kindsPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info().Str("kinds_path", kindsPath).Msg("no kinds file, using built-in kinds only")
			return nil
		}
		logger.Error().Err(err).Str("kinds_path", kindsPath).Msg("read kinds")
		return err
	}

	var kindsConfig struct {
		Kinds []lifecycle.KindSpec `yaml:"kinds"`
	}
	if err := yaml.Unmarshal(kindsData, &kindsConfig); err != nil {
		logger.Error().Err(err).Str("kinds_path", kindsPath).Msg("parse kinds")
		return err
	}

	for _, spec := range kindsConfig.Kinds {
		table.Register(spec)
		logger.Info().Str("kind", spec.Name).Msg("registered kind from config")
	}
	return nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	return db, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initNotifyWorker(ctx context.Context, cfg *config.Config, db *database.DB,
	redisClient *redis.Client, logger *zerolog.Logger) *worker.NotifyWorker {
	if !cfg.Notify.Enabled {
		return nil
	}

	var notifiers []domain.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, worker.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.Telegram.Enabled {
		tg, err := worker.NewTelegramNotifier(cfg.Notify.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram notifier init failed, continuing without telegram")
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if len(notifiers) == 0 {
		logger.Warn().Msg("notify enabled but no channels configured")
		return nil
	}

	retry := worker.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Notify.MaxRetries

	notifyWorker := worker.NewNotifyWorker(db, notifiers, redisClient, retry,
		cfg.Notify.DeadLetterKey, time.Duration(cfg.Notify.PollSeconds)*time.Second,
		cfg.Notify.BatchSize, logger)
	go notifyWorker.Start(ctx)

	logger.Info().Int("channels", len(notifiers)).Msg("notify worker started")
	return notifyWorker
}

func startBackup(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) {
	if !cfg.Backup.Enabled {
		return
	}
	backupService := database.NewBackupService(db.Path(), cfg.Backup, logger)
	go backupService.Start(ctx)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
