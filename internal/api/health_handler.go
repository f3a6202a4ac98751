package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Component states.
const (
	statusUp       = "up"
	statusDown     = "down"
	statusDegraded = "degraded"

	notConfigured = "not configured"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker reports on the engine's dependencies: the campaign store,
// the lock backend and the scheduled-campaign backlog.
type HealthChecker struct {
	db          *sql.DB
	redisClient *redis.Client
	// overdueAfter is how late a scheduled campaign may be before the
	// scheduler check degrades.
	overdueAfter time.Duration
	startTime    time.Time
}

// NewHealthChecker creates a new HealthChecker. db and redisClient may be
// nil; their checks then report "not configured".
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, pollInterval time.Duration) *HealthChecker {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &HealthChecker{
		db:           db,
		redisClient:  redisClient,
		overdueAfter: 5 * pollInterval,
		startTime:    time.Now(),
	}
}

const healthVersion = "1.0.0"

// HandleHealth always answers 200; the body carries the aggregate status.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	respondJSON(w, http.StatusOK, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness always returns 200 while the process is running.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness returns 503 while the campaign store is unreachable.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	code := http.StatusOK
	if overall == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"ready":  code == http.StatusOK,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	probes := map[string]func(context.Context) ComponentCheck{
		"database":  hc.checkDatabase,
		"redis":     hc.checkRedis,
		"scheduler": hc.checkScheduler,
	}

	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, len(probes))
	for name, probe := range probes {
		go func(name string, probe func(context.Context) ComponentCheck) {
			ch <- result{name, probe(ctx)}
		}(name, probe)
	}

	checks := make(map[string]ComponentCheck, len(probes))
	for range probes {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

// pingCheck times ping and degrades when it answers slower than slowAfter.
func pingCheck(ctx context.Context, timeout, slowAfter time.Duration, ping func(context.Context) error) ComponentCheck {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start)

	switch {
	case err != nil:
		return ComponentCheck{Status: statusDown, Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	case latency > slowAfter:
		return ComponentCheck{Status: statusDegraded, Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	default:
		return ComponentCheck{Status: statusUp, Latency: latency.String(), Message: "connected"}
	}
}

func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: statusDown, Message: notConfigured}
	}
	return pingCheck(ctx, 3*time.Second, time.Second, hc.db.PingContext)
}

// checkRedis reports the lock backend. Without Redis the runner uses PG
// advisory locks, so a missing client is not a degradation.
func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: statusDown, Message: notConfigured}
	}
	return pingCheck(ctx, 2*time.Second, 500*time.Millisecond, func(ctx context.Context) error {
		return hc.redisClient.Ping(ctx).Err()
	})
}

// checkScheduler counts scheduled campaigns that should have been sent a
// while ago. A backlog means the runner is not being triggered.
func (hc *HealthChecker) checkScheduler(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: statusDown, Message: notConfigured}
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	var overdue int
	err := hc.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM broadcast_campaigns WHERE status = 'pending_schedule' AND scheduled_at < $1`,
		time.Now().Add(-hc.overdueAfter),
	).Scan(&overdue)
	latency := time.Since(start).String()

	switch {
	case err != nil:
		return ComponentCheck{Status: statusDegraded, Latency: latency, Message: fmt.Sprintf("backlog check failed: %v", err)}
	case overdue > 0:
		return ComponentCheck{Status: statusDegraded, Latency: latency, Message: fmt.Sprintf("%d scheduled campaigns overdue", overdue)}
	default:
		return ComponentCheck{Status: statusUp, Latency: latency, Message: "no overdue campaigns"}
	}
}

// determineOverallStatus is "unhealthy" when a configured database is down,
// "degraded" when any other configured check is not up, else "healthy".
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if db, ok := checks["database"]; ok && db.Status == statusDown && db.Message != notConfigured {
		return "unhealthy"
	}
	for _, c := range checks {
		if c.Status == statusDegraded || (c.Status == statusDown && c.Message != notConfigured) {
			return "degraded"
		}
	}
	return "healthy"
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
