package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/adapters/crdb"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/adapters/rabbit"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/clock"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/config"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/holds"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/inventory"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "thb-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger("expiry-worker")

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool, cfg.Engine.LockTimeout)

	var notifier domain.InventoryNotifier = domain.NopNotifier{}
	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		rabbitPub, err := rabbit.NewPublisher(conn)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		defer rabbitPub.Close()
		rabbitNotifier := rabbit.NewNotifier(rabbitPub, logger)
		defer rabbitNotifier.Close()
		notifier = rabbitNotifier
	}

	clk := clock.NewSystem()
	// The sweeper only deletes; no catalog lookups happen here.
	manager := holds.NewManager(repo, inventory.NewCalculator(repo, clk), domain.StaticCatalog{}, notifier, cfg.Engine.HoldPolicy(), clk, logger)

	sw := sweeper.New(manager, cfg.Engine.SweepInterval, logger)
	if err := sw.Start(ctx); err != nil {
		log.Fatalf("failed to start sweeper: %v", err)
	}
	<-ctx.Done()
	sw.Stop()
	logger.Info("Shutdown expiry worker")
}
