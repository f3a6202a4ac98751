package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/metrics"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/distlock"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
	"github.com/mckuadrat/wa-broadcast/internal/tenant"
)

// =============================================================================
// SCHEDULED CAMPAIGN RUNNER
// =============================================================================
// RunDue dispatches every pending campaign whose scheduled time has passed.
// It never schedules itself: the worker loop or the /run-scheduled endpoint
// triggers it. A distributed lock keeps at most one run in flight across
// all instances; an overlapping trigger gets status "busy".

const (
	// RunnerLockKey names the single-flight lock.
	RunnerLockKey = "broadcast-runner"

	DefaultRunnerPollInterval = 60 * time.Second
	DefaultRunnerBatchLimit   = 20
	DefaultRunnerLockTTL      = 10 * time.Minute
)

// RunnerStore is the part of the campaign store the runner needs.
type RunnerStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	ListPendingRecipients(ctx context.Context, campaignID string) ([]domain.RecipientRecord, error)
	MarkDispatched(ctx context.Context, id string) (bool, error)
}

// RecipientDispatcher sends a campaign to a set of its recipients.
type RecipientDispatcher interface {
	DispatchRecipients(ctx context.Context, tc *tenant.Context, c *domain.Campaign, records []domain.RecipientRecord) domain.DispatchSummary
}

// TenantResolver re-resolves a campaign's tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, l tenant.Lookup) (*tenant.Context, error)
}

// RunSummary is the outcome of one campaign in a run.
type RunSummary struct {
	CampaignID string `json:"broadcast_id"`
	Total      int    `json:"total"`
	OK         int    `json:"ok"`
	Failed     int    `json:"failed"`
}

// RunResult is the answer of one RunDue call.
type RunResult struct {
	// Status is "ok" or "busy".
	Status  string       `json:"status"`
	Ran     []RunSummary `json:"ran"`
	Skipped []string     `json:"skipped,omitempty"`
}

// ScheduledRunner dispatches due scheduled campaigns.
type ScheduledRunner struct {
	store      RunnerStore
	tenants    TenantResolver
	dispatcher RecipientDispatcher

	db          *sql.DB
	redisClient *redis.Client // optional; nil falls back to PG advisory locks

	pollInterval time.Duration
	batchLimit   int
	lockTTL      time.Duration
	now          func() time.Time
	log          *logger.Logger

	// Stats
	runs               int64
	busyRuns           int64
	campaignsProcessed int64
	recipientsSent     int64
	errors             int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewScheduledRunner creates a runner. db backs the advisory lock when no
// Redis client is set.
func NewScheduledRunner(store RunnerStore, tenants TenantResolver, d RecipientDispatcher, db *sql.DB) *ScheduledRunner {
	return &ScheduledRunner{
		store:        store,
		tenants:      tenants,
		dispatcher:   d,
		db:           db,
		pollInterval: DefaultRunnerPollInterval,
		batchLimit:   DefaultRunnerBatchLimit,
		lockTTL:      DefaultRunnerLockTTL,
		now:          time.Now,
		log:          logger.With("scheduled_runner"),
	}
}

// SetRedisClient switches the single-flight guard to a Redis lock.
func (r *ScheduledRunner) SetRedisClient(client *redis.Client) {
	r.redisClient = client
}

// Configure overrides the poll interval, batch size and lock TTL. Zero
// values keep the defaults.
func (r *ScheduledRunner) Configure(pollInterval time.Duration, batchLimit int, lockTTL time.Duration) {
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if batchLimit > 0 {
		r.batchLimit = batchLimit
	}
	if lockTTL > 0 {
		r.lockTTL = lockTTL
	}
}

// RunDue runs one pass over the due campaigns.
func (r *ScheduledRunner) RunDue(ctx context.Context) (*RunResult, error) {
	atomic.AddInt64(&r.runs, 1)
	res := &RunResult{Status: "ok", Ran: []RunSummary{}}

	lock := distlock.NewLock(r.redisClient, r.db, RunnerLockKey, r.lockTTL)
	ran, err := distlock.WithLock(ctx, lock, func(ctx context.Context) error {
		return r.runDue(ctx, res)
	})
	if err != nil {
		atomic.AddInt64(&r.errors, 1)
		metrics.ScheduledRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !ran {
		atomic.AddInt64(&r.busyRuns, 1)
		metrics.ScheduledRunsTotal.WithLabelValues("busy").Inc()
		r.log.Info("run skipped, another run holds the lock")
		res.Status = "busy"
		return res, nil
	}
	metrics.ScheduledRunsTotal.WithLabelValues("ran").Inc()
	return res, nil
}

func (r *ScheduledRunner) runDue(ctx context.Context, res *RunResult) error {
	due, err := r.store.ListDue(ctx, r.now(), r.batchLimit)
	if err != nil {
		return fmt.Errorf("list due campaigns: %w", err)
	}
	for i := range due {
		if distlock.LeaseLost(ctx) {
			r.log.Warn("runner lock lost, leaving remaining campaigns pending", "remaining", len(due)-i)
			break
		}
		c := &due[i]
		sum, err := r.runCampaign(ctx, c)
		if err != nil {
			atomic.AddInt64(&r.errors, 1)
			r.log.Error("scheduled campaign failed", "campaign_id", c.ID, "error", err)
			res.Skipped = append(res.Skipped, c.ID)
			continue
		}
		res.Ran = append(res.Ran, *sum)
	}
	return nil
}

// runCampaign dispatches the not-yet-attempted recipients of c and marks it
// dispatched. An unresolvable tenant leaves c pending for the next run.
func (r *ScheduledRunner) runCampaign(ctx context.Context, c *domain.Campaign) (*RunSummary, error) {
	tc, err := r.tenants.Resolve(ctx, tenant.Lookup{TenantID: c.TenantID, PhoneNumberID: c.SendingIdentity})
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %q: %w", c.TenantID, err)
	}

	recs, err := r.store.ListPendingRecipients(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}

	sum := domain.DispatchSummary{CampaignID: c.ID}
	if len(recs) > 0 {
		sum = r.dispatcher.DispatchRecipients(ctx, tc, c, recs)
	}

	claimed, err := r.store.MarkDispatched(context.WithoutCancel(ctx), c.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		r.log.Warn("campaign was no longer pending", "campaign_id", c.ID)
	}

	atomic.AddInt64(&r.campaignsProcessed, 1)
	atomic.AddInt64(&r.recipientsSent, int64(sum.Total))
	r.log.Info("scheduled campaign dispatched", "campaign_id", c.ID, "total", sum.Total, "ok", sum.OK, "failed", sum.Failed)
	return &RunSummary{CampaignID: c.ID, Total: sum.Total, OK: sum.OK, Failed: sum.Failed}, nil
}

// Start begins the polling loop.
func (r *ScheduledRunner) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	log.Printf("[ScheduledRunner] Starting with poll interval: %v", r.pollInterval)

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop stops the loop and waits for an in-flight run to finish.
func (r *ScheduledRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	log.Printf("[ScheduledRunner] Stopping...")
	r.cancel()
	r.wg.Wait()
	log.Printf("[ScheduledRunner] Stopped. Campaigns: %d, Recipients: %d",
		atomic.LoadInt64(&r.campaignsProcessed), atomic.LoadInt64(&r.recipientsSent))
}

func (r *ScheduledRunner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunDue(r.ctx); err != nil {
				r.log.Error("scheduled run failed", "error", err)
			}
		}
	}
}

// Stats returns the runner counters.
func (r *ScheduledRunner) Stats() map[string]int64 {
	return map[string]int64{
		"runs":                atomic.LoadInt64(&r.runs),
		"busy_runs":           atomic.LoadInt64(&r.busyRuns),
		"campaigns_processed": atomic.LoadInt64(&r.campaignsProcessed),
		"recipients_sent":     atomic.LoadInt64(&r.recipientsSent),
		"errors":              atomic.LoadInt64(&r.errors),
	}
}
