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

	"ticket-service/config"
	"ticket-service/internal/api"
	"ticket-service/internal/broker"
	"ticket-service/internal/clock"
	"ticket-service/internal/redisclient"
	"ticket-service/internal/service"
	"ticket-service/internal/store"
	"ticket-service/internal/util"
	"ticket-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting ticket service")

	tp, err := util.InitTracer("ticket-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)
	clk := clock.NewSystem()

	catalog := service.NewTierCatalog(db, db)
	ledger := service.NewInventoryLedger(db, redisClient, catalog)
	payout := service.NewPayoutResolver(db, cfg.Network.FallbackPayout)
	checkout := service.NewCheckoutService(
		catalog, ledger, payout, db, eventPublisher, clk, cfg.Network.ChainID,
		service.WithQuoteTTL(time.Duration(cfg.Business.QuoteTTLSeconds)*time.Second),
	)
	verifier := service.NewPaymentVerifier(db, clk, cfg.Network.ChainID)
	settlement := service.NewSettlementEngine(db, eventPublisher, clk, cfg.Network.Currency, cfg.Network.PaymentMethod)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	claimConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicClaims, cfg.Kafka.ConsumerGroup)
	claimWorker := worker.NewClaimWorker(claimConsumer, verifier, settlement)
	go func() {
		if err := claimWorker.Start(workerCtx); err != nil {
			log.Printf("Claim worker error: %v", err)
		}
	}()

	sweeper := worker.NewSweeperWorker(checkout, time.Duration(cfg.Business.SweepIntervalSeconds)*time.Second)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil {
			log.Printf("Sweeper error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(checkout, catalog, verifier, settlement)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	claimWorker.Stop()

	log.Println("Server exited")
}
