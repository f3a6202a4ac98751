// Package metrics holds the Prometheus collectors for the broadcast engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RecipientsDispatchedTotal counts per-recipient outcomes by send kind
// ("template", "text", "media", "followup") and result ("ok", "failed").
var RecipientsDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "broadcast_messages_dispatched_total",
		Help: "Messages handed to the gateway, by kind and result",
	},
	[]string{"kind", "result"},
)

var GatewayRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "broadcast_gateway_request_duration_seconds",
		Help:    "Latency of gateway API calls",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation", "status"},
)

var CampaignsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "broadcast_campaigns_total",
		Help: "Campaigns accepted, by mode (immediate, scheduled)",
	},
	[]string{"mode"},
)

var ScheduledRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "broadcast_scheduled_runs_total",
		Help: "Scheduled runner invocations, by result (ran, busy, error)",
	},
	[]string{"result"},
)

var InboundEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "broadcast_inbound_events_total",
		Help: "Inbound messages received, by correlation result",
	},
	[]string{"result"},
)

// FollowupsTotal counts inbound messages that reached the follow-up
// decision, by result ("sent", "failed", "no_match", "dropped").
var FollowupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "broadcast_followups_total",
		Help: "Follow-up decisions, by result",
	},
	[]string{"result"},
)

var TemplateMetadataLookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "broadcast_template_metadata_lookups_total",
		Help: "Template metadata lookups, by result (hit, fallback)",
	},
	[]string{"result"},
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RecipientsDispatchedTotal,
			GatewayRequestDuration,
			CampaignsTotal,
			ScheduledRunsTotal,
			InboundEventsTotal,
			FollowupsTotal,
			TemplateMetadataLookupsTotal,
		)
	})
}

// Result maps a boolean outcome onto the "ok"/"failed" label values.
func Result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
