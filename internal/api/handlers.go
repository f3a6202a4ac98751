package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mckuadrat/wa-broadcast/internal/config"
	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/service/broadcast"
	"github.com/mckuadrat/wa-broadcast/internal/service/followup"
	"github.com/mckuadrat/wa-broadcast/internal/tenant"
	"github.com/mckuadrat/wa-broadcast/internal/whatsapp"
	"github.com/mckuadrat/wa-broadcast/internal/worker"
)

// BroadcastService is the orchestrator surface used by the handlers.
type BroadcastService interface {
	Submit(ctx context.Context, in broadcast.SubmitInput) (*broadcast.SubmitResult, error)
	SendCustom(ctx context.Context, in broadcast.CustomInput) (domain.DeliveryOutcome, error)
	GetCampaign(ctx context.Context, caller tenant.Lookup, id string) (*broadcast.CampaignView, error)
	ListTemplates(ctx context.Context, caller tenant.Lookup, status string) ([]whatsapp.TemplateInfo, error)
}

// InboundHandler processes webhook deliveries.
type InboundHandler interface {
	HandleWebhook(ctx context.Context, body []byte) ([]followup.Result, error)
}

// Runner runs due scheduled campaigns on demand.
type Runner interface {
	RunDue(ctx context.Context) (*worker.RunResult, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	broadcasts BroadcastService
	inbound    InboundHandler
	runner     Runner
	webhook    config.WebhookConfig
	runSecret  string
	region     string
}

// NewHandlers creates a new Handlers instance
func NewHandlers(broadcasts BroadcastService, inbound InboundHandler, runner Runner, cfg *config.Config) *Handlers {
	return &Handlers{
		broadcasts: broadcasts,
		inbound:    inbound,
		runner:     runner,
		webhook:    cfg.Webhook,
		runSecret:  cfg.Scheduler.RunSecret,
		region:     cfg.WhatsApp.DefaultRegion,
	}
}

// HandleRoot answers the plain-text liveness banner.
//
//	GET /
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("WA Broadcast engine ONLINE"))
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
