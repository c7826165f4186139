package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/idempotency"
	"storefront/internal/infra/db"
	"storefront/internal/infra/memory"
	"storefront/internal/infra/redislock"
	infraRepo "storefront/internal/infra/repository"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/notify"
	"storefront/internal/repository"
	"storefront/internal/server"
	"storefront/internal/usecase"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.GoEnv, cfg.LogLevel, zap.String("service", "storefront"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	//DB接続
	tx, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	exec := idempotency.NewExecutor(tx, idempotency.Config{
		Secret:      []byte(cfg.IdempotencySecret),
		StaleAfter:  cfg.IdempotencyStaleAfter,
		MaxAttempts: cfg.IdempotencyMaxAttempts,
		TTL:         cfg.IdempotencyTTL,
	}, logger, m)

	//通知（ブローカーがなければログだけ）
	var notifier usecase.OrderNotifier = notify.NewLogNotifier(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopicOrderConfirmed, 1024, logger)
		kn.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := kn.Close(ctx); err != nil {
				logger.Warn("notifier close failed", zap.Error(err))
			}
		}()
		notifier = kn
	}

	var locker usecase.Locker
	if cfg.RedisAddr != "" {
		rdb := redislock.NewClient(cfg.RedisAddr)
		defer func() { _ = rdb.Close() }()
		locker = redislock.New(rdb)
	}

	//Usecase生成
	ledger := usecase.NewInventoryLedger(logger, m)
	orders := usecase.NewOrderUsecase(tx, ledger, cfg.ReservationWindow, logger, m)
	checkout := usecase.NewCheckoutUsecase(exec, orders)
	payments := usecase.NewPaymentWebhookUsecase(exec, orders, notifier, logger, m)
	inventory := usecase.NewInventoryUsecase(tx, ledger, logger)
	sweeper := usecase.NewExpirySweeper(orders, exec, locker, cfg.SweepBatchSize, logger, m)

	//Handler生成
	e := server.New(cfg, logger, server.Handlers{
		Orders:    handler.NewOrderHandler(checkout, orders),
		Admin:     handler.NewAdminHandler(orders, inventory, sweeper, usecase.NewAuditUsecase(tx)),
		Inventory: handler.NewInventoryHandler(inventory),
		Webhook:   handler.NewWebhookHandler(payments, cfg),
		Health:    handler.NewHealthHandler(reg),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", zap.String("addr", cfg.Addr()), zap.String("store", cfg.StoreDriver))
		return server.Start(gctx, e, cfg.Addr(), shutdownTimeout)
	})
	g.Go(func() error {
		return sweeper.Run(gctx, cfg.SweepInterval)
	})

	err = g.Wait()
	logger.Info("shutdown complete", zap.Error(err))
	return err
}

func openStore(cfg config.Config, logger *zap.Logger) (repository.TransactionManager, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	gormDB, err := db.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, err
	}
	return infraRepo.NewTxManagerGorm(gormDB), func() { _ = sqlDB.Close() }, nil
}
