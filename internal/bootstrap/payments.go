// Package bootstrap builds the services shared by the API server and the
// Lambda entry points from one Config.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/example/marketplace/internal/config"
	"github.com/example/marketplace/internal/domain/payment"
	"github.com/example/marketplace/internal/events"
	"github.com/example/marketplace/internal/infrastructure/mpesa"
	"github.com/example/marketplace/internal/infrastructure/redis"
	"github.com/example/marketplace/internal/infrastructure/store"
)

const webhookDedupTTL = 24 * time.Hour

type PaymentStores struct {
	Payments     payment.Repository
	History      payment.HistoryRepository
	Instructions payment.InstructionRepository
}

func PostgresPaymentStores(db *sql.DB) PaymentStores {
	return PaymentStores{
		Payments:     store.NewPostgresPaymentStore(db),
		History:      store.NewPostgresHistoryStore(db),
		Instructions: store.NewPostgresInstructionStore(db),
	}
}

// Payments describes a payment service to build.
type Payments struct {
	Config    *config.Config
	Stores    PaymentStores
	Publisher events.Publisher
	Confirmer payment.OrderConfirmer
	// Dynamo receives the mirrored history when the dynamodb backend is
	// selected. Nil loads a client from the default AWS configuration.
	Dynamo store.DynamoAPI
	// Options are applied after the ones derived from Config.
	Options []payment.Option
}

// Build returns the payment service with gateways, history mirroring and
// webhook de-duplication set up as configured. The returned func releases
// the connections Build opened.
func (p Payments) Build(ctx context.Context) (*payment.Service, func(), error) {
	cfg := p.Config
	cleanup := func() {}

	history := p.Stores.History
	if cfg.HistoryBackend == config.HistoryDynamoDB {
		client := p.Dynamo
		if client == nil {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, cleanup, fmt.Errorf("failed to load AWS config: %w", err)
			}
			client = dynamodb.NewFromConfig(awsCfg)
		}
		history = store.NewMirroredHistory(history, store.NewDynamoHistoryStore(client, cfg.DynamoTable))
		log.Printf("[Bootstrap] Mirroring status history to DynamoDB table %s", cfg.DynamoTable)
	}

	opts := mpesa.Options(mpesa.Gateways(cfg.Payments.Mode, cfg.Payments.Providers))
	if p.Publisher != nil {
		opts = append(opts, payment.WithPublisher(p.Publisher))
	}
	if p.Confirmer != nil {
		opts = append(opts, payment.WithOrderConfirmer(p.Confirmer))
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(cfg.RedisAddr, cfg.RedisPassword)
		cleanup = func() { rdb.Close() }
		opts = append(opts, payment.WithDeduper(redis.NewDeduper(rdb, webhookDedupTTL)))
		log.Printf("[Bootstrap] Webhook deduplication via Redis at %s", cfg.RedisAddr)
	}
	opts = append(opts, p.Options...)

	svc := payment.NewService(p.Stores.Payments, history, p.Stores.Instructions, cfg.Payments.Gateway(), opts...)
	return svc, cleanup, nil
}
