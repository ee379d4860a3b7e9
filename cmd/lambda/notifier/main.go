package main

import (
	"context"
	"encoding/base64"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/example/marketplace/internal/email"
	"github.com/example/marketplace/internal/notification"
)

var notificationHandler *notification.Handler

func init() {
	smtpHost := getEnv("SMTP_HOST", "localhost")
	smtpPort := getEnv("SMTP_PORT", "1025")
	smtpFrom := getEnv("SMTP_FROM", "noreply@marketplace.local")

	emailSvc := email.NewService(smtpHost, smtpPort, smtpFrom)
	notificationHandler = notification.NewHandler(emailSvc)

	log.Printf("[Lambda Notifier] Initialized successfully (SMTP: %s:%s)", smtpHost, smtpPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// handler consumes an MSK batch. Records are grouped by topic partition and
// carry base64 encoded keys and values.
func handler(ctx context.Context, kafkaEvent events.KafkaEvent) error {
	total, failed := 0, 0

	for partition, records := range kafkaEvent.Records {
		for _, record := range records {
			total++

			value, err := base64.StdEncoding.DecodeString(record.Value)
			if err != nil {
				log.Printf("[Lambda Notifier] Failed to decode record %s@%d: %v", partition, record.Offset, err)
				failed++
				continue
			}
			key, _ := base64.StdEncoding.DecodeString(record.Key)

			if err := notificationHandler.HandleEvent(ctx, key, value); err != nil {
				log.Printf("[Lambda Notifier] Failed to process record %s@%d: %v", partition, record.Offset, err)
				failed++
			}
		}
	}

	log.Printf("[Lambda Notifier] Processed %d/%d records successfully", total-failed, total)
	return nil
}

func main() {
	lambda.Start(handler)
}
