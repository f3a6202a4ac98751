package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mckuadrat/wa-broadcast/internal/config"
	"github.com/mckuadrat/wa-broadcast/internal/dispatch"
	"github.com/mckuadrat/wa-broadcast/internal/metrics"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
	"github.com/mckuadrat/wa-broadcast/internal/repository/postgres"
	"github.com/mckuadrat/wa-broadcast/internal/service/broadcast"
	"github.com/mckuadrat/wa-broadcast/internal/templates"
	"github.com/mckuadrat/wa-broadcast/internal/tenant"
	"github.com/mckuadrat/wa-broadcast/internal/whatsapp"
	"github.com/mckuadrat/wa-broadcast/internal/worker"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// The worker polls for due scheduled campaigns. Each run takes the same lock
// as /run-scheduled, so it can run alongside an external cron.
func main() {
	log.Println("Starting WA Broadcast scheduled worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(*cfg.Logging.RedactPII)
	metrics.Register()

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	waClient := whatsapp.NewClient(cfg.WhatsApp)
	resolver := tenant.NewResolver(postgres.NewTenantRepo(db), waClient, cfg.WhatsApp)
	campaignRepo := postgres.NewCampaignRepo(db)
	broadcasts := broadcast.NewService(campaignRepo, resolver, templates.NewLookup(waClient), dispatch.New(waClient, cfg.Media), broadcast.Settings{
		ImmediateWindow: cfg.Scheduler.ImmediateWindow(),
		Location:        cfg.Scheduler.Location(),
		DefaultTrigger:  cfg.Followup.DefaultTrigger,
		DefaultRegion:   cfg.WhatsApp.DefaultRegion,
	})

	runner := worker.NewScheduledRunner(campaignRepo, resolver, broadcasts, db)
	runner.Configure(cfg.Scheduler.PollInterval(), cfg.Scheduler.BatchLimit, cfg.Scheduler.LockTTL())

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		runner.SetRedisClient(redisClient)
		log.Println("Redis lock enabled")
	}

	if err := runner.Start(); err != nil {
		log.Fatalf("Failed to start runner: %v", err)
	}
	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	runner.Stop()
	log.Printf("Worker stopped: %v", runner.Stats())
}
