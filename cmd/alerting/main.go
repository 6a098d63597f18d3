package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/config"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/correlation"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/evaluator"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/handlers"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/importer"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/repository"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/server"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Postgres.User,
		cfg.Database.Postgres.Password,
		cfg.Database.Postgres.Host,
		cfg.Database.Postgres.Port,
		cfg.Database.Postgres.Database,
		cfg.Database.Postgres.SSLMode,
	)

	log.Println("Running database migrations...")
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	repo, err := repository.NewPostgresRepository(context.Background(), connString, !cfg.Correlation.StrictUnmappedProperty)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	if cfg.Correlation.RegexTimeout > 0 {
		evaluator.MatchTimeout = cfg.Correlation.RegexTimeout
	}

	svc := service.NewService(repo)

	// Redis backs the correlator's distributed per-(rule_id, rule_fingerprint)
	// lock and the incident prefix counter (spec §4.4, §5); without it the
	// correlator cannot safely run more than one replica.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		log.Println("Connecting to Redis for correlation locking/naming...")
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisOpts.MaxRetries = cfg.Redis.MaxRetries
		redisOpts.PoolSize = cfg.Redis.PoolSize

		redisClient = redis.NewClient(redisOpts)

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		log.Println("Redis connection successful")
	} else {
		log.Fatalf("Redis is required for correlation locking; redis.enabled must be true")
	}

	locker := correlation.NewLocker(redisClient, cfg.Correlation.LockTTL)
	namer := correlation.NewNamer(redisClient)

	rulesClient := evaluator.NewHTTPRulesClient(cfg.Rules.URL)
	alertsClient := evaluator.NewHTTPAlertsClient(
		cfg.Storage.URL,
		cfg.Storage.Username,
		cfg.Storage.Password,
		cfg.Storage.Insecure,
	)

	correlator := correlation.New(rulesClient, alertsClient, repo, locker, namer, cfg.Correlation.LockTimeout)

	log.Println("Importing builtin correlation rules...")
	ruleImporter := importer.NewImporter("/etc/telhawk/alerting/rules", cfg.Rules.URL+"/api/v1/rules")
	importCtx, importCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := ruleImporter.Import(importCtx); err != nil {
		log.Printf("Warning: Rule import encountered errors: %v", err)
	}
	importCancel()
	log.Println("Rule import complete")

	handler := handlers.NewHandler(svc)

	correlatorCtx, correlatorCancel := context.WithCancel(context.Background())
	defer correlatorCancel()
	go func() {
		if err := correlator.Run(correlatorCtx, cfg.Correlation.PollInterval); err != nil {
			log.Printf("Correlator stopped: %v", err)
		}
	}()

	mux := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Alerting service listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	correlatorCancel()

	log.Println("Closing Redis connection...")
	if err := redisClient.Close(); err != nil {
		log.Printf("Error closing Redis connection: %v", err)
	}

	log.Println("Server stopped gracefully")
}
