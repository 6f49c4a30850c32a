package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warehouse-ledger/config"
	"warehouse-ledger/internal/api"
	"warehouse-ledger/internal/broker"
	"warehouse-ledger/internal/ledger"
	"warehouse-ledger/internal/reconcile"
	"warehouse-ledger/internal/redisclient"
	"warehouse-ledger/internal/service"
	"warehouse-ledger/internal/store"
	"warehouse-ledger/internal/syncstate"
	"warehouse-ledger/internal/util"
	"warehouse-ledger/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting warehouse ledger")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	salePolicy, err := ledger.ParsePolicy(cfg.Ledger.StockSalePolicy)
	if err != nil {
		logger.Fatal("Invalid stock sale policy", zap.Error(err))
	}

	db, err := store.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer db.Close()

	var ready func(context.Context) error
	if pg, ok := db.(*store.PGStore); ok {
		if err := pg.Migrate(true); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		ready = pg.GetDB().PingContext
	}
	logger.Info("Store ready", zap.String("driver", cfg.Database.Driver))

	var (
		cache  service.StockCache
		locker worker.Locker
	)
	if cfg.RedisEnabled() {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.StockTTL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		cache, locker = redisClient, redisClient
		logger.Info("Redis connected")
	}

	var publisher service.EventPublisher
	if cfg.KafkaEnabled() {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSyncEvents)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized")
	}

	core := service.NewCore(db, publisher, cache)
	stockService := service.NewStockService(core)
	balanceService := service.NewBalanceService(core)
	orchestrator := service.NewOrchestrator(core, salePolicy)
	syncReader := syncstate.NewReader(db, cfg.Ledger.SyncListLimit)

	ctx := context.Background()
	if err := stockService.WarmStockCache(ctx); err != nil {
		logger.Error("Failed to warm stock cache", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var ackWorker *worker.SyncAckWorker
	if cfg.KafkaEnabled() {
		ackConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSyncAcks, cfg.Kafka.ConsumerGroup)
		ackWorker = worker.NewSyncAckWorker(ackConsumer, syncReader)
		go func() {
			if err := ackWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Sync ack worker error", zap.Error(err))
			}
		}()
	}

	reconcileWorker := worker.NewReconcileWorker(cfg.Reconcile.Schedule, reconcile.NewReconciler(db), locker, cfg.Reconcile.LockTTL)
	if err := reconcileWorker.Start(workerCtx); err != nil {
		logger.Fatal("Invalid reconcile schedule", zap.String("schedule", cfg.Reconcile.Schedule), zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(core, stockService, balanceService, orchestrator, syncReader, ready)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	reconcileWorker.Stop()
	if ackWorker != nil {
		ackWorker.Stop()
	}

	logger.Info("Server exited")
}
