package api

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/mckuadrat/wa-broadcast/internal/pkg/httputil"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
)

// HandleWebhookVerify answers the gateway's subscription handshake.
//
//	GET /webhook?hub.mode=subscribe&hub.verify_token=...&hub.challenge=...
func (h *Handlers) HandleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || h.webhook.VerifyToken == "" || !secretEqual(token, h.webhook.VerifyToken) {
		logger.Warn("webhook verification rejected", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// HandleWebhookEvent processes one inbound delivery. The gateway always gets
// a 200, malformed bodies included.
//
//	POST /webhook
func (h *Handlers) HandleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	limit := h.webhook.MaxBodyBytes
	if limit <= 0 {
		limit = httputil.DefaultMaxBody
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		logger.Warn("webhook body unreadable", "error", err)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	results, err := h.inbound.HandleWebhook(r.Context(), body)
	if err != nil {
		logger.Warn("webhook payload rejected", "error", err)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"processed": len(results),
	})
}

// HandleRunScheduled dispatches every due scheduled campaign. It is meant
// for an external cron and requires the shared run secret, given as the
// X-Cron-Secret header or the secret query parameter.
//
//	GET|POST /run-scheduled
func (h *Handlers) HandleRunScheduled(w http.ResponseWriter, r *http.Request) {
	given := r.Header.Get("X-Cron-Secret")
	if given == "" {
		given = r.URL.Query().Get("secret")
	}
	if h.runSecret == "" || !secretEqual(given, h.runSecret) {
		httputil.Unauthorized(w, "invalid run secret")
		return
	}

	res, err := h.runner.RunDue(context.WithoutCancel(r.Context()))
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.OK(w, res)
}

func secretEqual(given, want string) bool {
	return subtle.ConstantTimeCompare([]byte(given), []byte(want)) == 1
}
