package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"egcards/internal/api"
	"egcards/internal/cardstore"
	"egcards/internal/config"
	"egcards/internal/database"
	"egcards/internal/editor"
	"egcards/internal/payment"
	"egcards/internal/storage"
	"egcards/internal/syncbus"
	"egcards/internal/wallet"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Printf("database connection ready")

	if err := db.AutoMigrate(&database.Generation{}, &database.PaymentReceipt{}); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	log.Printf("database migrated")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	privateKeyPEM, err := os.ReadFile(cfg.Wallet.PrivateKeyPath)
	if err != nil {
		log.Fatalf("read wallet private key: %v", err)
	}
	publicKeyPEM, err := os.ReadFile(cfg.Wallet.PublicKeyPath)
	if err != nil {
		log.Fatalf("read wallet public key: %v", err)
	}
	walletService, err := wallet.NewService(privateKeyPEM, publicKeyPEM, time.Duration(cfg.Wallet.SessionTTLHours)*time.Hour)
	if err != nil {
		log.Fatalf("init wallet service: %v", err)
	}

	bus := syncbus.New(redisClient, logger)
	listenCtx, stopListen := context.WithCancel(context.Background())
	defer stopListen()
	go bus.Listen(listenCtx, redisClient)

	store := cardstore.New(redisClient, bus, logger)
	sessions := editor.NewManager(store, cfg.API.BaseURL, logger)

	processor := payment.NewSimulatedProcessor(
		db,
		cfg.Payment.AmountMilli,
		time.Duration(cfg.Payment.DelayMS)*time.Millisecond,
		logger,
	)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(
		router,
		db,
		asynqClient,
		walletService,
		store,
		bus,
		sessions,
		processor,
		redisClient,
		logger,
		storageClient,
		cfg.Clamd.Addr,
		cfg.API.Origins(),
	)

	address := fmt.Sprintf(":%d", cfg.API.Port)
	log.Printf("api listening on %s", address)
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
