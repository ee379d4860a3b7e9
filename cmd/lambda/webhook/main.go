package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/example/marketplace/internal/bootstrap"
	"github.com/example/marketplace/internal/config"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/payment"
	marketevents "github.com/example/marketplace/internal/events"
	"github.com/example/marketplace/internal/infrastructure/kafka"
	"github.com/example/marketplace/internal/infrastructure/store"
)

var paymentSvc *payment.Service

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Lambda Webhook] Failed to load configuration: %v", err)
	}

	db, err := store.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[Lambda Webhook] Failed to connect to PostgreSQL: %v", err)
	}

	orderStore := store.NewPostgresOrderStore(db)
	var publisher marketevents.Publisher = marketevents.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	// Connections live as long as the execution environment.
	paymentSvc, _, err = bootstrap.Payments{
		Config:    cfg,
		Stores:    bootstrap.PostgresPaymentStores(db),
		Publisher: publisher,
		Confirmer: order.NewService(orderStore, publisher),
	}.Build(context.Background())
	if err != nil {
		log.Fatalf("[Lambda Webhook] Failed to build payment service: %v", err)
	}

	log.Printf("[Lambda Webhook] Initialized successfully (mode: %s)", cfg.Payments.Mode)
}

// handler serves POST /webhook/{provider} behind API Gateway. Carriers get a
// 200 for every delivery; the outcome travels in the body.
func handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	provider, err := payment.ParseProvider(req.PathParameters["provider"])
	if err != nil {
		return respond(payment.WebhookResult{Error: err.Error()}), nil
	}

	payload, err := payment.ParseWebhookPayload([]byte(req.Body))
	if err != nil {
		log.Printf("[Lambda Webhook] Rejected %s webhook: %v", provider, err)
		return respond(payment.WebhookResult{Error: err.Error()}), nil
	}

	result := paymentSvc.ProcessWebhook(ctx, provider, payload)
	log.Printf("[Lambda Webhook] %s webhook: payment=%s status=%s duplicate=%t error=%q",
		provider, result.PaymentID, result.Status, result.Duplicate, result.Error)
	return respond(result), nil
}

func respond(result payment.WebhookResult) events.APIGatewayProxyResponse {
	body, err := json.Marshal(result)
	if err != nil {
		body = []byte(`{"success":false}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func main() {
	lambda.Start(handler)
}
