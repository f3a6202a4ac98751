package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mckuadrat/wa-broadcast/internal/api"
	"github.com/mckuadrat/wa-broadcast/internal/config"
	"github.com/mckuadrat/wa-broadcast/internal/dispatch"
	"github.com/mckuadrat/wa-broadcast/internal/metrics"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
	"github.com/mckuadrat/wa-broadcast/internal/repository/postgres"
	"github.com/mckuadrat/wa-broadcast/internal/service/broadcast"
	"github.com/mckuadrat/wa-broadcast/internal/service/followup"
	"github.com/mckuadrat/wa-broadcast/internal/templates"
	"github.com/mckuadrat/wa-broadcast/internal/tenant"
	"github.com/mckuadrat/wa-broadcast/internal/whatsapp"
	"github.com/mckuadrat/wa-broadcast/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("Starting WA Broadcast server (cmd/server)")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(*cfg.Logging.RedactPII)
	metrics.Register()

	if err := checkPortAvailable(cfg.Server.Host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database at %s: %v", extractHost(cfg.Database.URL), err)
	}
	pingCancel()
	log.Printf("Connected to database at %s", extractHost(cfg.Database.URL))

	redisClient := connectRedis(cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	if !cfg.WhatsApp.Configured() {
		log.Println("Warning: no deployment WhatsApp credentials; only tenants from the database can send")
	}

	// Gateway and tenancy
	waClient := whatsapp.NewClient(cfg.WhatsApp)
	tenantRepo := postgres.NewTenantRepo(db)
	resolver := tenant.NewResolver(tenantRepo, waClient, cfg.WhatsApp)
	dispatcher := dispatch.New(waClient, cfg.Media)

	// Orchestrator
	campaignRepo := postgres.NewCampaignRepo(db)
	broadcasts := broadcast.NewService(campaignRepo, resolver, templates.NewLookup(waClient), dispatcher, broadcast.Settings{
		ImmediateWindow: cfg.Scheduler.ImmediateWindow(),
		Location:        cfg.Scheduler.Location(),
		DefaultTrigger:  cfg.Followup.DefaultTrigger,
		DefaultRegion:   cfg.WhatsApp.DefaultRegion,
	})

	// Inbound follow-ups
	inbound := followup.NewService(postgres.NewInboundRepo(db), resolver, dispatcher, followup.Settings{
		DefaultTrigger:         cfg.Followup.DefaultTrigger,
		ScopeToSendingIdentity: cfg.Followup.ScopeToSendingIdentity,
	})

	// Scheduled campaigns, triggered through /run-scheduled
	runner := worker.NewScheduledRunner(campaignRepo, resolver, broadcasts, db)
	runner.Configure(cfg.Scheduler.PollInterval(), cfg.Scheduler.BatchLimit, cfg.Scheduler.LockTTL())
	if redisClient != nil {
		runner.SetRedisClient(redisClient)
	}

	server := api.NewServer(cfg, broadcasts, inbound, runner, db, redisClient)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := server.Addr()
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized, server is ready")

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// connectRedis returns nil when Redis is not configured or unreachable; the
// runner lock then falls back to a PG advisory lock.
func connectRedis(url string) *redis.Client {
	if url == "" {
		log.Println("Redis not configured (REDIS_URL not set), using PG advisory locks")
		return nil
	}
	opts, err := redis.ParseURL(url)
	var client *redis.Client
	if err != nil {
		client = redis.NewClient(&redis.Options{Addr: url})
	} else {
		client = redis.NewClient(opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed: %v, falling back to PG advisory locks", err)
		client.Close()
		return nil
	}
	log.Println("Redis connected (distributed locking enabled)")
	return client
}
