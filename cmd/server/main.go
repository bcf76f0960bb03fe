package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/trendydresses/payment-recon/internal/api"
	"github.com/trendydresses/payment-recon/internal/config"
	"github.com/trendydresses/payment-recon/internal/handler"
	"github.com/trendydresses/payment-recon/internal/infrastructure/kafka"
	"github.com/trendydresses/payment-recon/internal/infrastructure/mpesa"
	"github.com/trendydresses/payment-recon/internal/infrastructure/redis"
	"github.com/trendydresses/payment-recon/internal/observability"
	core "github.com/trendydresses/payment-recon/internal/repository/postgres"
	service "github.com/trendydresses/payment-recon/internal/services"
)

func main() {
	shutdown, _ := observability.Setup("payment-recon")
	defer shutdown(context.Background())

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	transactionRepo := core.NewPostgresTransactionRepository(db)
	orderRepo := core.NewPostgresOrderRepository(db)
	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	mpesaClient := mpesa.NewClient(mpesa.Config{
		ConsumerKey:    cfg.MpesaConsumerKey,
		ConsumerSecret: cfg.MpesaConsumerSecret,
		ShortCode:      cfg.MpesaShortCode,
		Passkey:        cfg.MpesaPasskey,
		Environment:    cfg.MpesaEnvironment,
		CallbackURL:    cfg.MpesaCallbackURL,
	}, redisClient)

	ingestSvc := service.NewIngestService(transactionRepo, producer)
	verificationSvc := service.NewVerificationService(transactionRepo, orderRepo)
	orderSvc := service.NewOrderService(transactionRepo, orderRepo, producer)
	adminSvc := service.NewAdminService(redisClient, cfg.JWTSecret, cfg.AdminUsername, cfg.AdminPasswordHash)

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	callbackConsumer := kafka.NewConsumer(cfg.KafkaBrokers, "mpesa-callbacks", "payment-recon-group", ingestSvc)
	go callbackConsumer.Consume(consumerCtx)
	defer callbackConsumer.Close()
	defer cancelConsumer()

	h := handler.NewHandler(ingestSvc, verificationSvc, orderSvc, adminSvc, mpesaClient)
	router := api.SetupRouter(h, redisClient, cfg.JWTSecret)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
