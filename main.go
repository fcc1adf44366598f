package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appcommission "github.com/partshub/fulfillment/internal/application/commission"
	appinventory "github.com/partshub/fulfillment/internal/application/inventory"
	apporder "github.com/partshub/fulfillment/internal/application/order"
	apppayout "github.com/partshub/fulfillment/internal/application/payout"
	appsettlement "github.com/partshub/fulfillment/internal/application/settlement"
	domcommission "github.com/partshub/fulfillment/internal/domain/commission"
	dominventory "github.com/partshub/fulfillment/internal/domain/inventory"
	domorder "github.com/partshub/fulfillment/internal/domain/order"
	dompayment "github.com/partshub/fulfillment/internal/domain/payment"
	dompayout "github.com/partshub/fulfillment/internal/domain/payout"
	"github.com/partshub/fulfillment/internal/infrastructure/cache"
	"github.com/partshub/fulfillment/internal/infrastructure/config"
	"github.com/partshub/fulfillment/internal/infrastructure/gateway"
	"github.com/partshub/fulfillment/internal/infrastructure/id"
	inventoryworker "github.com/partshub/fulfillment/internal/infrastructure/inventory/worker"
	"github.com/partshub/fulfillment/internal/infrastructure/memory"
	infraobservability "github.com/partshub/fulfillment/internal/infrastructure/observability"
	"github.com/partshub/fulfillment/internal/infrastructure/observability/oteltrace"
	"github.com/partshub/fulfillment/internal/infrastructure/observability/prometrics"
	"github.com/partshub/fulfillment/internal/infrastructure/observability/zaplogger"
	"github.com/partshub/fulfillment/internal/infrastructure/outbox"
	"github.com/partshub/fulfillment/internal/infrastructure/sqlite"
	"github.com/partshub/fulfillment/internal/observability"
	httppresentation "github.com/partshub/fulfillment/internal/presentation/http"
)

type repositories struct {
	inventory dominventory.Repository
	orders    domorder.Repository
	payments  dompayment.Repository
	rates     domcommission.Repository
	payouts   dompayout.Repository
}

func buildRepositories(cfg *config.Config, logger observability.Logger) (repositories, error) {
	if cfg.Ledger.Driver == "memory" {
		payments := memory.NewPaymentRepository()
		return repositories{
			inventory: memory.NewInventoryRepository(),
			orders:    memory.NewOrderRepository(),
			payments:  payments,
			rates:     memory.NewRateRepository(),
			payouts:   memory.NewPayoutRepository(payments),
		}, nil
	}

	db, err := sqlite.Open(cfg.Ledger.DSN)
	if err != nil {
		return repositories{}, err
	}
	logger.Info("ledger_opened",
		observability.F("driver", cfg.Ledger.Driver),
		observability.F("dsn", cfg.Ledger.DSN),
	)
	return repositories{
		inventory: sqlite.NewInventoryRepository(db),
		orders:    sqlite.NewOrderRepository(db),
		payments:  sqlite.NewPaymentRepository(db),
		rates:     sqlite.NewRateRepository(db),
		payouts:   sqlite.NewPayoutRepository(db),
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	baseLogger := zaplogger.New(
		observability.F("service", cfg.App.Name),
		observability.F("env", cfg.App.Env),
	)
	type syncer interface{ Sync() error }
	if s, ok := baseLogger.(syncer); ok {
		defer func() { _ = s.Sync() }()
	}

	registry := prometrics.New("", "")
	counters, histograms := prometrics.StandardInstruments(registry)
	tel := infraobservability.New(oteltrace.New("fulfillment"), baseLogger, counters, histograms)

	repos, err := buildRepositories(cfg, baseLogger)
	if err != nil {
		baseLogger.Error("ledger_open_failed", observability.F("error", err.Error()))
		os.Exit(1)
	}

	idGenerator := id.NewUUIDGenerator()

	var availabilityCache appinventory.AvailabilityCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		availabilityCache = cache.NewAvailabilityCache(client, cfg.Redis.CacheTTL)
		baseLogger.Info("availability_cache_enabled",
			observability.F("addr", cfg.Redis.Addr),
		)
	}

	// In-memory event bus (acts as outbox/event publisher between components)
	bus := outbox.NewBus(baseLogger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	inventoryService := appinventory.NewService(
		repos.inventory, availabilityCache, bus, idGenerator, cfg.Reservation.TTL, baseLogger)
	rateResolver := appcommission.NewResolver(repos.rates, baseLogger)
	submitOrder := apporder.NewSubmitOrderUseCase(repos.orders, inventoryService, idGenerator, bus, tel)
	buildPayout := apppayout.NewBuildPayoutUseCase(repos.payouts, idGenerator, bus, tel)

	paymentGateway := gateway.NewSimulatedGateway(idGenerator, cfg.Gateway.SimulatedLatency, baseLogger)
	settleSubOrder := appsettlement.NewSettleSubOrderUseCase(
		repos.orders, repos.payments, rateResolver, paymentGateway, idGenerator, bus, tel)

	settlementWorker := appsettlement.NewWorker(bus, settleSubOrder, baseLogger)
	settlementWorker.Start()
	finalizer := apporder.NewWorker(repos.orders, bus, bus, tel)
	finalizer.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := inventoryworker.NewSweeper(inventoryService, cfg.Reservation.SweepInterval, tel)
	go sweeper.Run(ctx)

	handler := httppresentation.NewHandler(submitOrder, inventoryService, rateResolver, buildPayout, tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		baseLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Error("http_server_error",
				observability.F("error", err.Error()),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("http_server_shutdown_error",
			observability.F("error", err.Error()),
		)
	} else {
		baseLogger.Info("http_server_stopped")
	}
}
