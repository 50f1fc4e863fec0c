// Command billing runs the billing ledger engine: it projects payment
// events into per-payment ledgers, serves /v1/billing and publishes
// billing.updated.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/iliyamo/hotel-reservations/internal/config"
	"github.com/iliyamo/hotel-reservations/internal/database"
	"github.com/iliyamo/hotel-reservations/internal/handler"
	"github.com/iliyamo/hotel-reservations/internal/logger"
	"github.com/iliyamo/hotel-reservations/internal/middleware"
	"github.com/iliyamo/hotel-reservations/internal/queue"
	"github.com/iliyamo/hotel-reservations/internal/repository"
	"github.com/iliyamo/hotel-reservations/internal/router"
	"github.com/iliyamo/hotel-reservations/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load("billing")

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	zl = zl.With(zap.String("service", cfg.Service))
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		zl.Fatal("database", zap.Error(err))
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db, database.SchemaBilling, zl); err != nil {
			zl.Fatal("migrate", zap.Error(err))
		}
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		zl.Warn("redis unreachable; rate limiting and event dedup disabled")
	} else {
		defer rdb.Close()
	}

	rabbit := config.LoadRabbitConfig()
	retry := queue.NewReconnectPolicy(rabbit.ReconnectDelay, rabbit.ReconnectMaxDelay)
	broker := queue.NewBroker(rabbit.URL, retry, nil, zl)
	defer broker.Close()
	go func() {
		if err := broker.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zl.Error("broker connect", zap.Error(err))
		}
	}()
	events := queue.NewPublisher(broker, queue.ExchangeBilling, rabbit.PublishTimeout, zl)
	defer events.Close()

	billing := service.NewBillingService(service.BillingDeps{
		Store:          repository.NewBillingRepo(db),
		Contacts:       queue.NewContactClient(broker, rabbit.ContactQueue, rabbit.ContactTimeout),
		ContactTimeout: rabbit.ContactTimeout,
		Events:         events,
		Log:            zl,
	})

	handle := queue.Handler(billing.HandlePaymentEvent)
	if rdb != nil {
		handle = queue.Deduplicate(queue.NewRedisDedup(rdb, cfg.Service, rabbit.DedupTTL), handle, zl)
	}
	consumer := queue.NewConsumer(broker, queue.BillingTopology, queue.QueueBillingPayments, cfg.Service,
		rabbit.Prefetch, retry, handle, zl)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zl.Error("payment consumer stopped", zap.Error(err))
		}
	}()

	e := router.NewEcho(zl)
	router.RegisterRoutes(e, db)
	router.RegisterBilling(e, handler.NewBillingHandler(billing, zl), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, zl))

	if err := router.Serve(ctx, e, ":"+cfg.Port, zl.With(zap.String("env", cfg.Env))); err != nil {
		zl.Fatal("http server", zap.Error(err))
	}
}
