package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/adapters/crdb"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/ticket-holds-and-bookings/internal/adapters/mongo"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/ticket-holds-and-bookings/internal/adapters/redis"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/booking"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/clock"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/config"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/holds"
	httphandler "github.com/robertarktes/ticket-holds-and-bookings/internal/http"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/idempotency"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/inventory"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/payment"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/rateLimit"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/sweeper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

// store is what the engine needs from either storage driver.
type store interface {
	holds.Store
	booking.Store
	inventory.Store
	EnsureInventory(ctx context.Context, itemID, tier string, total int) error
}

type itemLister interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.SetupOTel(ctx, cfg, "thb-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger("api")
	checks := map[string]httphandler.ReadinessCheck{}

	var repo store
	switch cfg.StoreDriver {
	case "memory":
		repo = memory.NewStore(cfg.Engine.LockTimeout)
	case "crdb":
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		if err := crdb.ApplySchema(ctx, pool); err != nil {
			log.Fatalf("failed to apply schema: %v", err)
		}
		crdbRepo := crdb.NewRepository(pool, cfg.Engine.LockTimeout)
		checks["crdb"] = crdbRepo.Ping
		repo = crdbRepo
	default:
		log.Fatalf("unknown store driver %q", cfg.StoreDriver)
	}

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), 24*time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	var (
		catalog domain.Catalog = cfg.StaticCatalog()
		lister  itemLister     = staticLister(cfg.Catalog)
		auditor booking.Auditor
	)
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		checks["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }

		mongoDB := mongoClient.Database(cfg.MongoDB)
		mongoCatalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
		catalog = redisadapter.NewCachedCatalog(redisCache, mongoCatalog, cfg.CatalogTTL, logger)
		lister = mongoCatalog
		auditor = mongoadapter.NewAuditLogger(mongoDB, logger)
	}

	var notifier domain.InventoryNotifier = domain.NopNotifier{}
	if cfg.RabbitURL != "" {
		rabbitConn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer rabbitConn.Close()
		rabbitPub, err := rabbit.NewPublisher(rabbitConn)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		defer rabbitPub.Close()
		rabbitNotifier := rabbit.NewNotifier(rabbitPub, logger.WithField("component", "notifier"))
		defer rabbitNotifier.Close()
		notifier = rabbitNotifier
	}

	if err := provisionInventory(ctx, repo, lister); err != nil {
		log.Fatalf("failed to provision inventory: %v", err)
	}

	clk := clock.NewSystem()
	policy := cfg.Engine.HoldPolicy()
	calc := inventory.NewCalculator(repo, clk)
	holdManager := holds.NewManager(repo, calc, catalog, notifier, policy, clk, logger.WithField("component", "holds"))
	gateway := payment.NewSimulator(cfg.Engine.PaymentFailureRate, 50*time.Millisecond, uint64(time.Now().UnixNano()))
	finalizer := booking.NewFinalizer(repo, catalog, gateway, auditor, notifier, policy, clk, logger.WithField("component", "booking"))

	handlers := httphandler.NewHandlers(cfg.Engine, holdManager, finalizer, calc, idemp, clk, logger, checks)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if cfg.RunSweeper {
		sw := sweeper.New(holdManager, cfg.Engine.SweepInterval, logger.WithField("component", "sweeper"))
		g.Go(func() error {
			sw.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	logger.Info("Server exiting")
}

type staticLister []domain.Item

func (s staticLister) ListItems(context.Context) ([]domain.Item, error) {
	return s, nil
}

// provisionInventory creates missing ledger rows for every catalog tier.
func provisionInventory(ctx context.Context, repo store, lister itemLister) error {
	items, err := lister.ListItems(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		for _, tier := range item.Tiers {
			if err := repo.EnsureInventory(ctx, item.ID, tier.Name, tier.Total); err != nil {
				return err
			}
		}
	}
	return nil
}
