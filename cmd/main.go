/**
 * @description
 * This is the main entry point for the approval-service. It initializes all
 * components of the service: configuration, database connection pool, message
 * broker producer, optional redis attempt limiter, external API clients, the
 * repository, the core workflow engine, the cron scheduler driver and the
 * HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP serving.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3 (via internal/app): Scheduler driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/ledgerclient, pkg/billpayclient, pkg/rabbitmq: External collaborators.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/corepay/approval-service/internal/api"
	"github.com/corepay/approval-service/internal/app"
	"github.com/corepay/approval-service/internal/config"
	"github.com/corepay/approval-service/internal/store"
	"github.com/corepay/approval-service/pkg/billpayclient"
	"github.com/corepay/approval-service/pkg/ledgerclient"
	rmrabbit "github.com/corepay/approval-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.AuthJWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"auth jwt secret must be configured\" env=AUTH_JWT_SECRET")
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Println("level=warn component=bootstrap msg=\"internal api key not configured; scheduler tick endpoint is open\"")
	}

	log.Printf("level=info component=bootstrap msg=\"starting approval-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for notification events. The service
	// degrades to a no-op publisher when the broker is unavailable.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Optional redis-backed OTP attempt limiter.
	var otpLimiter app.OTPAttemptLimiter
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; otp throttling disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; otp throttling disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				otpLimiter = app.NewRedisOTPAttemptLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// External collaborators.
	ledgerClient := ledgerclient.NewClient(cfg.LedgerAPIBaseURL, cfg.LedgerAPIKey)
	var billpayClient *billpayclient.Client
	if strings.TrimSpace(cfg.BillPayAPIBaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"bill payment provider not configured; bill vending disabled\"")
	} else {
		billpayClient = billpayclient.NewClient(cfg.BillPayAPIBaseURL, cfg.BillPayAPIKey)
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Notification dispatcher: bounded worker pool over the event producer.
	dispatcher := app.NewDispatcher(producer, cfg.NotifyWorkers, cfg.NotifyQueueSize)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Core workflow engine.
	otpGate := app.NewOTPGate(repository, dispatcher, otpLimiter,
		time.Duration(cfg.OTPTTLMinutes)*time.Minute, cfg.OTPAttemptsPerMinute)
	bankDirectory := app.NewStaticBankDirectory(cfg.RealtimeBalanceBankList())
	limitPolicy := app.NewLimitPolicy(repository, ledgerClient, bankDirectory)
	var vendor app.Vendor
	if billpayClient != nil {
		vendor = billpayClient
	}
	orchestrator := app.NewOrchestrator(repository, ledgerClient, vendor)
	machine := app.NewApprovalMachine(repository, otpGate, dispatcher, orchestrator)

	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	sweep := app.NewSchedulerSweep(repository, orchestrator, slogger)
	driver := app.NewDriver(sweep, slogger, cfg.SchedulerCron)
	driver.Start()

	service := app.NewService(repository, limitPolicy, machine, otpGate, sweep)

	// Set up the HTTP router and define the API routes.
	handlers := api.NewApprovalHandlers(service)
	router := chi.NewRouter()
	router.Mount("/approvals", api.ApprovalRoutes(handlers, cfg.AuthJWTSecret, cfg.InternalAPIKey))

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

	<-driver.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
