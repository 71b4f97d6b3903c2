/**
 * @description
 * This is the main entry point for the settlement-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, message brokers, repositories, the core
 * application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/rates, internal/store:
 *   Internal packages for the service.
 * - pkg/eventclient, pkg/gateway, pkg/rabbitmq: External service clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/api"
	"github.com/wedloop/settlement-service/internal/app"
	"github.com/wedloop/settlement-service/internal/config"
	"github.com/wedloop/settlement-service/internal/domain"
	"github.com/wedloop/settlement-service/internal/rates"
	"github.com/wedloop/settlement-service/internal/store"
	"github.com/wedloop/settlement-service/pkg/eventclient"
	"github.com/wedloop/settlement-service/pkg/gateway"
	wlrabbit "github.com/wedloop/settlement-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish settlement lifecycle events.
	rabbitProducer, err := wlrabbit.NewEventProducer(cfg.RabbitMQURL)
	var producer wlrabbit.Publisher
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &wlrabbit.NoopPublisher{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the payment gateway and events service clients.
	gatewayClient := gateway.NewClient(cfg.GatewayAPIBaseURL, cfg.GatewayAPIKey)
	eventsClient := eventclient.NewClient(cfg.EventsServiceURL, cfg.EventsServiceAPIKey)

	// Redis is optional: when available it fronts the rate table with a
	// read-through cache. The service runs against the database alone
	// otherwise.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate cache disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate cache disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Build the rate table over the repository, cached through Redis when
	// available.
	var rateSource rates.Source = repository
	var cachedSource *rates.CachedSource
	if redisClient != nil {
		cachedSource = rates.NewCachedSource(
			repository,
			redisClient,
			cfg.RedisRateCachePrefix,
			time.Duration(cfg.RedisRateCacheTTLSeconds)*time.Second,
		)
		rateSource = cachedSource
	}
	rateTable := rates.NewTable(rateSource)

	// Initialize the core application service with its dependencies.
	settlementService := app.NewService(
		repository,
		rateTable,
		gatewayClient,
		eventsClient,
		producer,
		app.SettlementConfig{
			DefaultCommissionPercent: decimal.NewFromFloat(cfg.DefaultCommissionPercent),
			CommissionPolicy:         domain.CommissionPolicy(cfg.CommissionBorneBy),
			SupportedCurrencies:      cfg.SupportedCurrencyList(),
			DefaultSettings: domain.PaymentSettings{
				AutoDistribute:         cfg.AutoDistribute,
				DistributionDelayHours: cfg.DistributionDelayHours,
				HoldPeriodDays:         cfg.HoldPeriodDays,
			},
		},
	)
	if cachedSource != nil {
		settlementService.SetRateInvalidator(cachedSource)
	}

	// Initialize the API handlers.
	settlementHandlers := api.NewSettlementHandlers(settlementService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.SettlementRoutes(settlementHandlers, cfg.JWKSURL, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the gateway status consumer: charges confirm asynchronously, so
	// the gateway's outcome events drive payments out of the processing state.
	gatewayConsumer := settlementService.GatewayStatusConsumer()

	rabbitConsumer, err := wlrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	gatewayBindings := map[string]func([]byte) bool{
		"gateway.charge.successful": gatewayConsumer.HandleMessage,
		"gateway.charge.failed":     gatewayConsumer.HandleMessage,
	}

	if err := rabbitConsumer.ConsumeWithBindings(wlrabbit.Exchange, cfg.GatewayEventQueue, gatewayBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway consumer start failed\" err=%v", err)
	}

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
