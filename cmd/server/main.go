// Command server runs the reservation core: the /v1/reservations API, the
// payment event consumer and the pending-payment hold sweeper.
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
	"github.com/iliyamo/hotel-reservations/internal/payment"
	"github.com/iliyamo/hotel-reservations/internal/pricing"
	"github.com/iliyamo/hotel-reservations/internal/queue"
	"github.com/iliyamo/hotel-reservations/internal/repository"
	"github.com/iliyamo/hotel-reservations/internal/rooms"
	"github.com/iliyamo/hotel-reservations/internal/router"
	"github.com/iliyamo/hotel-reservations/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load("reservations")

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
		if err := database.Migrate(ctx, db, database.SchemaReservations, zl); err != nil {
			zl.Fatal("migrate", zap.Error(err))
		}
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		zl.Warn("redis unreachable; rate limiting, demand pricing and event dedup disabled")
	} else {
		defer rdb.Close()
	}

	rabbit := config.LoadRabbitConfig()
	broker := queue.NewBroker(rabbit.URL, queue.NewReconnectPolicy(rabbit.ReconnectDelay, rabbit.ReconnectMaxDelay), nil, zl)
	defer broker.Close()
	go func() {
		if err := broker.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zl.Error("broker connect", zap.Error(err))
		}
	}()
	events := queue.NewPublisher(broker, queue.ExchangeReservations, rabbit.PublishTimeout, zl)
	defer events.Close()

	collab := config.LoadCollaboratorsConfig()
	resCfg := config.LoadReservationConfig()
	deps := service.ReservationDeps{
		Store:          repository.NewReservationRepo(db),
		Rooms:          rooms.NewClient(collab.RoomsURL, collab.RoomsTimeout),
		Pricing:        pricing.NewEngine(config.LoadPricingConfig(), pricing.NewRedisDemand(rdb), zl),
		Contacts:       queue.NewContactClient(broker, rabbit.ContactQueue, rabbit.ContactTimeout),
		ContactTimeout: rabbit.ContactTimeout,
		Events:         events,
		Config:         resCfg,
		Log:            zl,
	}
	if collab.StripeSecretKey != "" {
		deps.Payments = payment.NewStripe(collab.StripeSecretKey)
	} else {
		zl.Warn("STRIPE_SECRET_KEY unset; pending reservations wait for payment events or staff confirmation")
	}
	reservations := service.NewReservationService(deps)

	paymentHandler := queue.Handler(service.NewPaymentEventHandler(reservations, zl).Handle)
	if rdb != nil {
		paymentHandler = queue.Deduplicate(queue.NewRedisDedup(rdb, cfg.Service, rabbit.DedupTTL), paymentHandler, zl)
	}
	consumer := queue.NewConsumer(broker, queue.ReservationTopology, queue.QueueReservationPayments, cfg.Service,
		rabbit.Prefetch, queue.NewReconnectPolicy(rabbit.ReconnectDelay, rabbit.ReconnectMaxDelay), paymentHandler, zl)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zl.Error("payment consumer stopped", zap.Error(err))
		}
	}()

	sweeper := service.NewHoldSweeper(deps.Store, reservations, resCfg.SweepInterval, zl)
	go sweeper.Run(ctx)

	e := router.NewEcho(zl)
	router.RegisterRoutes(e, db)
	router.RegisterReservations(e, handler.NewReservationHandler(reservations, zl), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, zl))

	if err := router.Serve(ctx, e, ":"+cfg.Port, zl.With(zap.String("env", cfg.Env))); err != nil {
		zl.Fatal("http server", zap.Error(err))
	}
}
