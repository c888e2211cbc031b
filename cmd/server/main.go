package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/mailer"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(util.LoggerConfig{
		Service:  "storefront",
		Env:      cfg.Server.Env,
		Level:    cfg.Observ.LogLevel,
		Sampling: cfg.Observ.LogSampling,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront")

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
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

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	inventoryClient := service.NewInventoryClient(db, redisClient)
	catalogService := service.NewCatalogService(db, redisClient, cfg.Checkout.CatalogCacheTTL)
	sagaOrchestrator := service.NewSagaOrchestrator(db, inventoryClient, catalogService)

	eventHandler := broker.NewEventHandler()
	sagaOrchestrator.Register(eventHandler)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var (
		publisher  broker.Publisher
		sagaWorker *worker.SagaWorker
	)
	if cfg.Kafka.PublishEnabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout)
		defer producer.Close()
		publisher = producer
		log.Println("Kafka producer initialized")

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout, cfg.Kafka.ConsumerGroup)
		sagaWorker = worker.NewSagaWorker(consumer, eventHandler)
		go func() {
			if err := sagaWorker.Start(workerCtx); err != nil {
				log.Printf("Saga worker error: %v", err)
			}
		}()
	} else {
		publisher = broker.NewInlinePublisher(eventHandler.HandleMessage)
		log.Println("Kafka disabled, dispatching checkout events inline")
	}
	eventPublisher := broker.NewEventPublisher(publisher)

	paymentService := service.NewPaymentService(
		db,
		inventoryClient,
		redisClient,
		eventPublisher,
		cfg.Checkout.CardConfirmationTTL,
		cfg.Checkout.IdempotencyTTL,
	)

	if err := inventoryClient.SyncInventoryToRedis(ctx); err != nil {
		log.Printf("Failed to sync inventory to Redis: %v", err)
	}

	expiryWorker := worker.NewExpiryWorker(paymentService, time.Minute)
	go func() {
		if err := expiryWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Expiry worker error: %v", err)
		}
	}()

	sender := mailer.New(mailer.Config{
		Provider:       cfg.Mail.Provider,
		SendGridAPIKey: cfg.Mail.SendGridAPIKey,
		PostmarkToken:  cfg.Mail.PostmarkToken,
		FromAddress:    cfg.Mail.FromAddress,
		FromName:       cfg.Mail.FromName,
	})

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Catalog:        catalogService,
		Stock:          catalogService,
		Payments:       paymentService,
		Delivery:       service.NewDeliveryService(sender),
		Profiles:       service.NewProfileService(db),
		CatalogTimeout: cfg.Checkout.CatalogTimeout,
		SubmitTimeout:  cfg.Checkout.PaymentTimeout,
		SessionIdle:    cfg.Checkout.SessionIdleTimeout,
		Ready: func(ctx context.Context) error {
			return errors.Join(db.Ping(ctx), redisClient.Ping(ctx))
		},
	})
	handler.SetupRoutes(router)

	go func() {
		if err := worker.RunEvery(workerCtx, time.Minute, handler.Sessions().Sweep); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Session sweeper error: %v", err)
		}
	}()

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
	if sagaWorker != nil {
		sagaWorker.Stop()
	}

	log.Println("Server exited")
}
