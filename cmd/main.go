/**
 * @description
 * This is the main entry point for the capacity service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, external API clients, message brokers, repositories,
 * the core application services, the auction sweep scheduler, and the HTTP
 * server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries for logging and HTTP.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/ledgerclient: Client for the asset ledger API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ledgerhythm/capacity-service/internal/api"
	"github.com/ledgerhythm/capacity-service/internal/app"
	"github.com/ledgerhythm/capacity-service/internal/config"
	"github.com/ledgerhythm/capacity-service/internal/domain"
	"github.com/ledgerhythm/capacity-service/internal/store"
	"github.com/ledgerhythm/capacity-service/pkg/ledgerclient"
	rmrabbit "github.com/ledgerhythm/capacity-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting capacity-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the data access layer; this also runs pending migrations.
	repository, err := store.NewPostgresRepository(context.Background(), dbpool)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"migrations failed\" err=%v", err)
	}

	// Initialize the RabbitMQ producer to publish events. This service only
	// publishes, so a missing broker degrades to the no-op fallback.
	var eventProducer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		eventProducer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the asset ledger API and verify it is
	// reachable by reading the custody account's position.
	ledgerClient := ledgerclient.NewClient(cfg.LedgerAPIBaseURL, cfg.LedgerAPIKey)
	balanceCtx, cancelBalance := context.WithTimeout(context.Background(), 5*time.Second)
	if balance, balErr := ledgerClient.GetBalance(balanceCtx, cfg.CustodyAccountID); balErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"ledger balance check failed\" account_id=%s err=%v", cfg.CustodyAccountID, balErr)
	} else {
		log.Printf("level=info component=bootstrap msg=\"ledger connected\" custody_free=%d custody_reserved=%d", balance.Data.Free, balance.Data.Reserved)
	}
	cancelBalance()

	// Redis-backed bid rate limiting is optional; the service boots without it.
	var rateLimiter api.RateLimiter
	if cfg.BidRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; bid rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; bid rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; bid rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					rateLimiter = app.NewRedisBidRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the core application services with their dependencies.
	auctionService := app.NewAuctionService(repository, ledgerClient, eventProducer, app.SystemClock, cfg.AuctionDurationSeconds, cfg.MinimalBid)
	lockService := app.NewLockService(repository, ledgerClient, eventProducer, app.SystemClock, domain.Ratio{Num: cfg.AssetToTPSNum, Den: cfg.AssetToTPSDen}, cfg.CustodyAccountID)
	quotaService := app.NewQuotaService(repository, eventProducer, app.SystemClock, cfg.ReferenceCallWeight, cfg.DailyRateUTPS)
	accessService := app.NewAccessService(repository)
	interceptor := app.NewInterceptor(quotaService, accessService)

	// Operations runnable against a subscription's quota. The ping operation
	// charges exactly its estimate and exists for integration smoke tests.
	registry := app.NewOperationRegistry()
	registry.Register("ping", func(ctx context.Context) (uint64, error) {
		return cfg.ReferenceCallWeight, nil
	})

	// Start the auction sweep scheduler.
	jobs := app.NewJobs(repository, eventProducer, app.SystemClock, cfg.AuctionDurationSeconds, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.AuctionSweepSchedule)
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize the API handlers and router.
	handlers := api.NewHandlers(auctionService, lockService, quotaService, accessService, interceptor, registry, rateLimiter, cfg.BidRateLimitPerMinute)
	router := api.NewRouter(handlers, cfg.JWTSecret, cfg.JWTAudience, cfg.JWTIssuer, cfg.InternalAPIKey)

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
