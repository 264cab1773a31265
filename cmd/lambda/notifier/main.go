package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/example/ticket-inventory/internal/availability"
	"github.com/example/ticket-inventory/internal/catalog"
	"github.com/example/ticket-inventory/internal/config"
	"github.com/example/ticket-inventory/internal/email"
	"github.com/example/ticket-inventory/internal/infrastructure/kinesis"
	"github.com/example/ticket-inventory/internal/notification"
)

var alertHandler *notification.Handler

func init() {
	cfg, err := config.LoadNotifier()
	if err != nil {
		log.Fatalf("[Lambda Notifier] Invalid configuration: %v", err)
	}
	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		log.Fatalf("[Lambda Notifier] Failed to load catalog: %v", err)
	}

	mailer := email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
	alertHandler = notification.NewHandler(mailer, cfg.AlertRecipient, availability.NewView(cfg.Thresholds), cat.TicketTypes())

	log.Printf("[Lambda Notifier] Initialized successfully (SMTP: %s:%d)", cfg.SMTP.Host, cfg.SMTP.Port)
}

func handler(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	log.Printf("[Lambda Notifier] Received %d records", len(kinesisEvent.Records))

	var batchItemFailures []events.KinesisBatchItemFailure
	fail := func(record events.KinesisEventRecord) {
		batchItemFailures = append(batchItemFailures, events.KinesisBatchItemFailure{
			ItemIdentifier: record.Kinesis.SequenceNumber,
		})
	}

	for _, record := range kinesisEvent.Records {
		event, err := kinesis.DecodeRecord(record)
		if err != nil {
			log.Printf("[Lambda Notifier] Failed to decode record %s: %v", record.EventID, err)
			fail(record)
			continue
		}

		// Modifications, removals and snapshots
		if event == nil {
			continue
		}

		if err := alertHandler.HandleEvent(ctx, *event); err != nil {
			log.Printf("[Lambda Notifier] Failed to process event %s: %v", event.ID, err)
			fail(record)
		}
	}

	successCount := len(kinesisEvent.Records) - len(batchItemFailures)
	log.Printf("[Lambda Notifier] Processed %d/%d records successfully", successCount, len(kinesisEvent.Records))

	return events.KinesisEventResponse{
		BatchItemFailures: batchItemFailures,
	}, nil
}

func main() {
	lambda.Start(handler)
}
