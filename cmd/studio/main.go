package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/modelstudio/internal/api"
	"github.com/digkill/modelstudio/internal/config"
	"github.com/digkill/modelstudio/internal/credits"
	"github.com/digkill/modelstudio/internal/database"
	"github.com/digkill/modelstudio/internal/gemini"
	"github.com/digkill/modelstudio/internal/kie"
	"github.com/digkill/modelstudio/internal/kv"
	"github.com/digkill/modelstudio/internal/repository"
	"github.com/digkill/modelstudio/internal/service"
	"github.com/digkill/modelstudio/internal/storage"
	"github.com/digkill/modelstudio/internal/telegram"
	"github.com/digkill/modelstudio/internal/wizard"
	"github.com/digkill/modelstudio/pkg/logger"
)

const sweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		backend  kv.Backend
		tierRepo service.TierStore
		payRepo  service.PaymentStore
	)
	if cfg.PersistenceEnabled() {
		db, err := database.Connect(cfg)
		if err != nil {
			log.Fatalf("database connect: %v", err)
		}
		defer db.Close()

		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("database migrate: %v", err)
		}
		backend = repository.NewKVRepository(db)
		tierRepo = repository.NewTierRepository(db)
		payRepo = repository.NewPaymentRepository(db)
	} else {
		logr.Warn("MYSQL_DSN not set, credits and payments are kept in memory")
		backend = kv.NewMemory()
		tierRepo = repository.NewMemoryTierRepository()
		payRepo = repository.NewMemoryPaymentRepository()
	}

	var objects storage.ObjectUploader
	if cfg.StorageEnabled() {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		objects = uploader
	}

	generator, err := newGenerator(ctx, cfg, objects, logr)
	if err != nil {
		log.Fatalf("image generator: %v", err)
	}

	accounts := credits.NewAccounts(backend, logr, cfg.FreeCredits)
	tiers := service.NewTierService(cfg, tierRepo)
	payments := service.NewPaymentService(cfg, payRepo, tiers, accounts, logr)
	if err := tiers.EnsureDefaultTiers(ctx); err != nil {
		log.Fatalf("ensure default tiers: %v", err)
	}

	sessions := wizard.NewSessions(accounts, generator, storage.NewResultPublisher(objects), logr, cfg.SessionIdleTTL, cfg.RequestTimeout)
	go sessions.Run(ctx, sweepInterval)

	if cfg.TelegramEnabled() {
		botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			log.Fatalf("telegram bot: %v", err)
		}
		bot := telegram.NewBot(botAPI, logr, sessions, accounts, tiers, payments)
		go func() {
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logr.Error("bot stopped", "err", err)
			}
		}()
	}

	server := api.NewServer(api.Options{
		Addr:              cfg.ListenAddr,
		AdminUsername:     cfg.AdminUsername,
		AdminPassword:     cfg.AdminPassword,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		GenerationTimeout: cfg.RequestTimeout,
	}, logr, sessions, accounts, tiers, payments)
	if err := server.Run(ctx); err != nil {
		logr.Error("api server stopped", "err", err)
	}
}

func newGenerator(ctx context.Context, cfg config.Config, objects storage.ObjectUploader, logr *slog.Logger) (wizard.Generator, error) {
	switch cfg.ImageProvider {
	case config.ImageProviderKIE:
		return kie.NewClient(cfg, objects, logr), nil
	default:
		client, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logr)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
