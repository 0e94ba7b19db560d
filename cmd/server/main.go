// Package main - WhatsApp/Home Assistant Gateway entry point
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/adapters/gateway"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/adapters/handler"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/adapters/repository"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/config"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/services"
)

func main() {
	fmt.Println("=== WhatsApp / Home Assistant Gateway - Infrastructure Initialization ===")

	fmt.Println("[1/6] Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	fmt.Printf("Config loaded (DB: %s@%s:%d, Redis: %s, instance: %s)\n",
		cfg.DB.User, cfg.DB.Host, cfg.DB.Port, cfg.Redis.Addr, cfg.App.DefaultInstanceName)

	fmt.Println("[2/6] Connecting to the Store (MySQL)...")
	db := connectStore(cfg.DB, 5, 2*time.Second)
	defer db.Close()
	fmt.Println("Store connection established")

	fmt.Println("[3/6] Connecting to Redis...")
	rdb := connectRedis(cfg.Redis, 5, 2*time.Second)
	defer rdb.Close()
	fmt.Println("Redis connection established")

	fmt.Println("[4/6] Initializing repositories and gateway clients...")
	store := repository.NewMySQLStore(db)
	cooldowns := repository.NewRedisCooldownRepository(rdb)
	evolution := gateway.NewEvolutionClient(cfg.Evolution.BaseURL, cfg.Evolution.APIKey)
	homeAssistant := gateway.NewHomeAssistantClient(cfg.HomeAssistant.BaseURL, cfg.HomeAssistant.Token)

	fmt.Println("[5/6] Initializing core services...")
	ruleEngine := services.NewRuleEngine(
		store,      // RuleSetRepository
		cooldowns,  // CooldownRepository
		store,      // RuleFireRepository
		homeAssistant,
		evolution,
		cfg.App.DefaultInstanceName,
		cfg.HomeAssistant.AllowList,
	)
	if err := ruleEngine.Reload(context.Background()); err != nil {
		log.Fatalf("Failed to load initial ruleset: %v", err)
	}

	ingestor := services.NewWebhookIngestor(store, store, store, ruleEngine)
	syncCoordinator := services.NewSyncCoordinator(evolution, store, cfg.App.DefaultInstanceName)
	resourceMonitor := services.NewResourceMonitor(cfg.ResourceMonitor.DiskWarnPercent, cfg.ResourceMonitor.DiskCriticalPercent)

	fmt.Println("[6/6] Initializing HTTP handlers and scheduled jobs...")
	mux := handler.NewRouter(
		handler.NewHealthHandler(),
		handler.NewWAHandler(evolution, store, syncCoordinator, cfg.App.DefaultInstanceName),
		handler.NewHAHandler(homeAssistant, cfg.HomeAssistant.AllowList),
		handler.NewRulesHandler(ruleEngine),
		handler.NewLogsHandler(store, store, store),
		handler.NewNotifyHandler(evolution, cfg.App.DefaultInstanceName),
		handler.NewWebhookHandler(ingestor),
	)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() { resourceMonitor.Sample(context.Background()) }); err != nil {
		log.Fatalf("Failed to schedule resource monitor: %v", err)
	}
	if _, err := scheduler.AddFunc("@every 5m", func() {
		if _, err := cooldowns.SweepExpired(context.Background()); err != nil {
			log.Printf("cooldown sweep failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule cooldown sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	fmt.Println("\nGateway infrastructure ready")
	runHTTPServer(cfg.App.Port, mux)
}

// connectStore attempts to connect to the Store with retry logic, since
// containerized dependencies may not be ready immediately. Exits the process
// if the Store remains unreachable after maxRetries.
func connectStore(cfg config.DBConfig, maxRetries int, retryDelay time.Duration) *sql.DB {
	dsn := cfg.GetDSN()

	var db *sql.DB
	var err error

	for i := 1; i <= maxRetries; i++ {
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			log.Printf("  Attempt %d/%d: failed to configure store driver: %v", i, maxRetries, err)
			time.Sleep(retryDelay)
			continue
		}

		err = db.Ping()
		if err == nil {
			return db
		}

		log.Printf("  Attempt %d/%d: cannot reach store: %v", i, maxRetries, err)
		db.Close()

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("Cannot connect to store after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}

// connectRedis attempts to connect to Redis with retry logic.
func connectRedis(cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})

	ctx := context.Background()
	var err error

	for i := 1; i <= maxRetries; i++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			return rdb
		}

		log.Printf("  Attempt %d/%d: cannot reach Redis: %v", i, maxRetries, err)

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("Cannot connect to Redis after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}

// runHTTPServer starts the HTTP server and blocks until a shutdown signal is
// received, then drains in-flight requests before returning.
func runHTTPServer(port int, mux *http.ServeMux) {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		fmt.Printf("[HTTP] Server listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\n[HTTP] Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Graceful shutdown failed: %v", err)
	}
	fmt.Println("[HTTP] Stopped")
}
