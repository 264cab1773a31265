package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	"github.com/example/ticket-inventory/internal/api"
	"github.com/example/ticket-inventory/internal/auth"
	"github.com/example/ticket-inventory/internal/availability"
	"github.com/example/ticket-inventory/internal/catalog"
	"github.com/example/ticket-inventory/internal/clock"
	"github.com/example/ticket-inventory/internal/config"
	"github.com/example/ticket-inventory/internal/domain/hold"
	"github.com/example/ticket-inventory/internal/domain/inventory"
	"github.com/example/ticket-inventory/internal/idempotency"
	"github.com/example/ticket-inventory/internal/infrastructure/kafka"
	"github.com/example/ticket-inventory/internal/infrastructure/store"
	"github.com/example/ticket-inventory/internal/notify"
	"github.com/example/ticket-inventory/internal/reservation"
	"github.com/example/ticket-inventory/internal/scheduler"
	"github.com/example/ticket-inventory/internal/tracing"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("[API] Invalid configuration: %v", err)
	}

	log.Println("[API] ========================================")
	log.Println("[API] Ticket Inventory - Hold Reservation Engine")
	log.Println("[API] ========================================")
	log.Printf("[API] Store backend: %s", cfg.StoreBackend)
	log.Printf("[API] Hold durations: checkout=%s cash=%s admin=%s",
		cfg.HoldDurations.Checkout, cfg.HoldDurations.CashPayment, cfg.HoldDurations.AdminReserve)
	log.Printf("[API] Partial fulfilment: %v", cfg.AllowPartial)
	log.Printf("[API] Thresholds: %s critical=%d low=%d", cfg.Thresholds.Policy, cfg.Thresholds.Critical, cfg.Thresholds.Low)

	if shutdown := tracing.Init("ticket-inventory", cfg.OTLPEndpoint); shutdown != nil {
		defer shutdown()
		log.Printf("[API] Tracing to %s", cfg.OTLPEndpoint)
	}

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		log.Fatalf("[API] Failed to load catalog: %v", err)
	}

	// Kafka is optional; without brokers ledger events stay local
	var publisher store.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
		log.Printf("[API] Kafka: %v topic=%s", cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	// Initialize stores
	var (
		eventStore store.EventStoreInterface
		holdStore  hold.Store
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db := connectPostgres(ctx, cfg.DatabaseURL)
		defer db.Close()
		eventStore = store.NewPostgresEventStore(db, publisher)
		holdStore = store.NewPostgresHoldStore(db)
	case config.BackendDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Fatalf("[API] Failed to load AWS config: %v", err)
		}
		eventStore = store.NewDynamoEventStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoEventsTable, cfg.DynamoSnapshotsTable)
		log.Printf("[API] DynamoDB tables: %s, %s", cfg.DynamoEventsTable, cfg.DynamoSnapshotsTable)
		holdStore = hold.NewMemoryStore()
	default:
		eventStore = store.NewEventStore(publisher)
		holdStore = hold.NewMemoryStore()
	}

	clk := clock.Real()
	view := availability.NewView(cfg.Thresholds)
	alerter := availability.NewAlerter(view, clk.Now)
	broker := notify.NewBroker()

	ledger := inventory.NewLedger(eventStore,
		inventory.WithClock(clk),
		inventory.WithObserver(alerter.Observe),
	)
	alerter.OnAlert(func(a availability.Alert) {
		broker.Publish(notify.Update{
			Kind:         "stock-alert",
			EventID:      a.EventID,
			TicketTypeID: a.TicketTypeID,
			Alert:        &a,
			At:           a.RaisedAt,
		})
	})

	log.Printf("[API] Restoring ledger for %d ticket types...", len(cat.TicketTypes()))
	if err := ledger.Restore(ctx, cat.TicketTypes()); err != nil {
		log.Fatalf("[API] Failed to restore ledger: %v", err)
	}

	gateway := reservation.NewGateway(ledger, holdStore, view, broker,
		reservation.WithClock(clk),
		reservation.WithConfig(reservation.Config{
			Durations:     cfg.HoldDurations,
			AllowPartial:  cfg.AllowPartial,
			ExpiryWarning: cfg.ExpiryWarning,
		}),
	)
	if _, err := gateway.RecoverClosing(ctx); err != nil {
		log.Fatalf("[API] Failed to settle closing holds: %v", err)
	}
	if err := ledger.Reconcile(ctx, holdStore.SumActive); err != nil {
		log.Fatalf("[API] Failed to reconcile ledger with holds: %v", err)
	}

	sweeper, err := scheduler.New(holdStore, gateway, clk, scheduler.Config{
		Interval:  cfg.SweepInterval,
		Retention: cfg.AuditRetention,
	}, cfg.HoldDurations)
	if err != nil {
		log.Fatalf("[API] Invalid sweep configuration: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	// Idempotency keys
	var idem idempotency.Store = idempotency.NewMemoryStore(idempotency.DefaultTTL, clk.Now)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("[API] Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		defer rdb.Close()
		idem = idempotency.NewRedisStore(rdb, idempotency.DefaultTTL)
		log.Printf("[API] Idempotency keys in Redis at %s", cfg.RedisAddr)
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.SessionExpiry)
	if cfg.AdminKeyHash == "" {
		log.Println("[API] ADMIN_KEY_HASH not set; admin endpoints are disabled")
	}

	handlers := api.NewHandlers(gateway, idem, alerter)
	router := api.NewRouter(handlers, api.NewSessionHandlers(jwtService), api.RouterConfig{
		JWTService:   jwtService,
		AdminKeyHash: cfg.AdminKeyHash,
		WebDir:       cfg.WebDir,
	})

	// Start HTTP server
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

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[API] Shutting down...")
	cancel() // stops the sweeper and open event streams

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] Shutdown error: %v", err)
	}

	wg.Wait()
}

func connectPostgres(ctx context.Context, url string) *sql.DB {
	db, err := store.ConnectPostgres(url)
	if err != nil {
		log.Fatalf("[API] Failed to connect to PostgreSQL: %v", err)
	}
	log.Println("[API] Connected to PostgreSQL")

	if err := store.Migrate(ctx, db); err != nil {
		log.Fatalf("[API] Failed to migrate: %v", err)
	}
	return db
}
