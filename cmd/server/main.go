package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGMediaGen/internal/artifact"
	"github.com/digkill/TGMediaGen/internal/config"
	"github.com/digkill/TGMediaGen/internal/database"
	"github.com/digkill/TGMediaGen/internal/delivery"
	"github.com/digkill/TGMediaGen/internal/httpapi"
	"github.com/digkill/TGMediaGen/internal/ledger"
	"github.com/digkill/TGMediaGen/internal/orchestrator"
	"github.com/digkill/TGMediaGen/internal/payments"
	"github.com/digkill/TGMediaGen/internal/provider"
	"github.com/digkill/TGMediaGen/internal/referral"
	"github.com/digkill/TGMediaGen/internal/repository"
	"github.com/digkill/TGMediaGen/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	jobRepo := repository.NewJobRepository(db)
	referralRepo := repository.NewReferralRepository(db)

	ledgerService := ledger.NewService(db, logr)

	callbacks := provider.NewCallbackStore(0)
	go callbacks.Run(ctx)

	registry := provider.NewRegistry(cfg, logr, callbacks)

	var store orchestrator.Artifacts
	if cfg.S3Bucket != "" {
		s3Store, err := artifact.NewS3Store(artifact.S3Config{
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
			log.Fatalf("s3 store: %v", err)
		}
		store = s3Store
	} else {
		localStore, err := artifact.NewLocalStore(cfg.StaticDir, cfg.PublicBaseURL+"/static")
		if err != nil {
			log.Fatalf("artifact store: %v", err)
		}
		store = localStore
	}

	notifier := delivery.NewTelegram(botAPI, logr)

	jobs := orchestrator.New(registry, ledgerService, jobRepo, store, notifier, logr)
	if err := jobs.ReconcileStartup(ctx); err != nil {
		log.Fatalf("reconcile jobs: %v", err)
	}

	stripeClient := payments.NewStripeClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	cryptoClient := payments.NewCryptoCloudClient(cfg.CryptoCloudAPIKey, cfg.CryptoCloudShopID, cfg.CryptoCloudWebhookSecret)
	paymentService := payments.NewService(orderRepo, ledgerService, userRepo, referralRepo, stripeClient, cryptoClient, cfg.PublicBaseURL, logr)

	referralService := referral.NewService(referralRepo, botAPI.Self.UserName, logr)

	server := httpapi.NewServer(fmt.Sprintf(":%d", cfg.Port), httpapi.Deps{
		BotToken:  cfg.BotToken,
		StaticDir: cfg.StaticDir,
		Users:     ledgerService,
		Jobs:      jobRepo,
		Submitter: jobs,
		Payments:  paymentService,
		Referrals: referralService,
		Artifacts: store,
		Avatars:   httpapi.NewAvatarCache(botAPI),
		Tools:     registry,
		Callbacks: callbacks,
	}, logr)

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("http server stopped", "err", err)
	}

	jobs.Shutdown(cfg.ShutdownGrace)
	logr.Info("shutdown complete")
}
