package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ridequeue/internal/api"
	"ridequeue/internal/config"
	"ridequeue/internal/database"
	"ridequeue/internal/domain"
	"ridequeue/internal/events"
	"ridequeue/internal/export"
	"ridequeue/internal/google"
	"ridequeue/internal/logging"
	"ridequeue/internal/metrics"
	"ridequeue/internal/models"
	"ridequeue/internal/repository"
	"ridequeue/internal/service"
	"ridequeue/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
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
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	eventBus := events.NewEventBus()
	queueService := service.NewQueueService(db, initSyncState(redisClient, &logger), eventBus, cfg.Queue, &logger)

	if redisClient != nil {
		events.NewRedisForwarder(redisClient, events.DefaultChannel, logger).Attach(eventBus)
	}

	if mirror := initMirror(ctx, cfg, db, redisClient, &logger); mirror != nil {
		mirror.Attach(eventBus)
		go mirror.Start(ctx)
	}

	if err := initNotifier(cfg, queueService, eventBus, &logger); err != nil {
		return err
	}

	hub := api.NewHub(logger)
	hub.Attach(eventBus)
	go hub.Run(ctx)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(db, cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	// Close gaps left by manual edits to the store before serving.
	if err := queueService.Recalculate(ctx); err != nil {
		logger.Warn().Err(err).Msg("startup recalculation failed")
	}

	httpServer := api.NewHTTPServer(cfg.API, queueService, db, hub, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, queueService, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	err = startServers(ctx, grpcServer, httpServer, cfg, &logger)
	saveQueueExport(queueService, cfg, &logger)
	return err
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
	logger := baseLogger.With().Str("component", "server-main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("create database directory")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("create exports directory")
		return err
	}
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initSyncState(client *redis.Client, logger *zerolog.Logger) domain.SyncStateRepository {
	ttl := time.Duration(models.DefaultRedisTTL) * time.Second
	memory := repository.NewMemorySyncStateRepository(ttl)
	if client == nil {
		logger.Info().Msg("desktop sync state kept in memory")
		return memory
	}
	return repository.NewFailoverSyncStateRepository(repository.NewRedisSyncStateRepository(client, ttl), memory, logger)
}

func initMirror(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) *worker.MirrorWorker {
	if !cfg.Google.Enabled {
		return nil
	}

	sheets, err := google.NewSheetsService(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.QueueSpreadsheetID, cfg.Google.QueueSheetName)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without mirror")
		return nil
	}
	if err := sheets.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets connection test failed, continuing without mirror")
		return nil
	}
	if email, err := google.ServiceAccountEmail(cfg.Google.GoogleCredentialsFile); err == nil {
		logger.Info().Str("service_account", email).Msg("google sheets connected")
	}

	retry := worker.RetryPolicy{MaxRetries: 5, InitialDelay: 2 * time.Second, MaxDelay: time.Minute, BackoffFactor: 2}
	var queue redis.UniversalClient
	if redisClient != nil {
		queue = redisClient
	}
	return worker.NewMirrorWorker(db, db, sheets, queue, retry, *logger)
}

func initNotifier(cfg *config.Config, queue service.HeadSource, bus *events.EventBus, logger *zerolog.Logger) error {
	tg := cfg.Notifications.Telegram
	if !tg.Enabled {
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(tg.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("telegram bot init failed")
		return err
	}
	bot.Debug = tg.Debug
	logger.Info().Str("bot", bot.Self.UserName).Int64("chat_id", tg.ChatID).Msg("driver notifications enabled")

	service.NewTelegramNotifier(bot, queue, tg.ChatID, *logger).Attach(bus)
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(ctx); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	if cfg.API.HTTP.Enabled {
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("queue server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("queue server stopped")
	return nil
}

// saveQueueExport leaves a workbook of the final queue state in the exports
// directory.
func saveQueueExport(queue domain.QueueService, cfg *config.Config, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries, err := queue.GetCurrentQueue(ctx, true)
	if err != nil {
		logger.Warn().Err(err).Msg("final export skipped")
		return
	}
	path, err := export.SaveQueue(cfg.Exports.Path, entries, time.Now())
	if err != nil {
		logger.Warn().Err(err).Msg("final export failed")
		return
	}
	logger.Info().Str("path", path).Int("entries", len(entries)).Msg("queue exported")
}
