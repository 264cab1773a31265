package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ticket-inventory/internal/availability"
	"github.com/example/ticket-inventory/internal/catalog"
	"github.com/example/ticket-inventory/internal/config"
	"github.com/example/ticket-inventory/internal/domain/inventory"
	"github.com/example/ticket-inventory/internal/email"
	"github.com/example/ticket-inventory/internal/infrastructure/kafka"
	"github.com/example/ticket-inventory/internal/notification"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadNotifier()
	if err != nil {
		log.Fatalf("[Notifier] Invalid configuration: %v", err)
	}

	log.Println("[Notifier] ========================================")
	log.Println("[Notifier] Ticket Inventory - Stock Alert Service")
	log.Println("[Notifier] ========================================")
	log.Printf("[Notifier] Kafka: %v", cfg.KafkaBrokers)
	log.Printf("[Notifier] Topic: %s", cfg.KafkaTopic)
	log.Printf("[Notifier] Group: %s", cfg.ConsumerGroup)
	log.Printf("[Notifier] SMTP: %s:%d", cfg.SMTP.Host, cfg.SMTP.Port)
	if cfg.AlertRecipient == "" {
		log.Println("[Notifier] ALERT_RECIPIENT not set; alerts are logged only")
	}

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		log.Fatalf("[Notifier] Failed to load catalog: %v", err)
	}

	mailer := email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
	handler := notification.NewHandler(mailer, cfg.AlertRecipient, availability.NewView(cfg.Thresholds), cat.TicketTypes())

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ConsumerGroup)
	defer consumer.Close()

	go func() {
		log.Printf("[Notifier] Listening to topic: %s", cfg.KafkaTopic)
		if err := consumer.Consume(ctx, kafka.EventHandler(handler.HandleEvent, inventory.AggregateType)); err != nil && ctx.Err() == nil {
			log.Printf("[Notifier] Consumer error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[Notifier] Shutting down...")
	cancel()
}
