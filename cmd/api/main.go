package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/marketplace/internal/api"
	"github.com/example/marketplace/internal/auth"
	"github.com/example/marketplace/internal/bootstrap"
	"github.com/example/marketplace/internal/command"
	"github.com/example/marketplace/internal/config"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/payment"
	"github.com/example/marketplace/internal/email"
	"github.com/example/marketplace/internal/events"
	"github.com/example/marketplace/internal/infrastructure/kafka"
	"github.com/example/marketplace/internal/infrastructure/store"
	"github.com/example/marketplace/internal/metrics"
	"github.com/example/marketplace/internal/query"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[API] Failed to load configuration: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("[API] JWT_SECRET environment variable is required")
	}
	if len(cfg.JWTSecret) < 32 {
		log.Fatal("[API] JWT_SECRET must be at least 32 characters long")
	}

	log.Println("[API] ========================================")
	log.Println("[API] Marketplace - Checkout & Payments")
	log.Println("[API] ========================================")
	log.Printf("[API] Kafka: %v", cfg.KafkaBrokers)
	log.Printf("[API] Topic: %s", cfg.KafkaTopic)
	log.Printf("[API] Payment mode: %s (default provider: %s)", cfg.Payments.Mode, cfg.Payments.DefaultProvider)
	log.Printf("[API] Checkout currency: %s", cfg.Checkout.Currency)
	log.Printf("[API] History backend: %s", cfg.HistoryBackend)

	db, err := store.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[API] Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()
	log.Println("[API] Connected to PostgreSQL")

	if err := store.RunMigrations(db, cfg.MigrationsPath); err != nil {
		log.Fatalf("[API] Failed to run migrations: %v", err)
	}

	catalogStore := store.NewPostgresCatalogStore(db)
	couponStore := store.NewPostgresCouponStore(db)
	orderStore := store.NewPostgresOrderStore(db)

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewServerMetrics(reg, "api")

	orderSvc := order.NewService(orderStore, publisher)

	paymentSvc, closePayments, err := bootstrap.Payments{
		Config:    cfg,
		Stores:    bootstrap.PostgresPaymentStores(db),
		Publisher: publisher,
		Confirmer: orderSvc,
		Options:   []payment.Option{payment.WithStatusObserver(m.ObservePaymentTransition)},
	}.Build(ctx)
	if err != nil {
		log.Fatalf("[API] Failed to build payment service: %v", err)
	}
	defer closePayments()

	emailSvc := email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From)

	jwtService := auth.NewJWTService(cfg.JWTSecret, 15*time.Minute)

	cmdHandler := command.NewHandler(catalogStore, couponStore, orderStore, paymentSvc, emailSvc,
		command.Config{Currency: cfg.Checkout.Currency, Rates: cfg.Checkout.Rates},
		command.WithPublisher(publisher),
		command.WithObserver(m.ObserveCheckout),
	)
	queryHandler := query.NewHandler(orderStore, catalogStore, paymentSvc)

	handlers := api.NewHandlers(cmdHandler, queryHandler, paymentSvc, m)
	router := api.NewRouter(handlers, jwtService, m, metrics.Handler(reg))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Println("[API] ========================================")
		log.Printf("[API] Server started on :%s", cfg.Port)
		log.Println("[API] ========================================")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[API] Server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[API] Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}
