package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/httputil"
	"github.com/mckuadrat/wa-broadcast/internal/service/broadcast"
)

type broadcastRequest struct {
	TemplateName  string           `json:"template_name"`
	Rows          []map[string]any `json:"rows"`
	PhoneNumberID string           `json:"phone_number_id"`
	SenderPhone   string           `json:"sender_phone"`
	Followup      *followupRequest `json:"followup"`
	ScheduledAt   string           `json:"scheduled_at"`
}

type followupRequest struct {
	Text        string        `json:"text"`
	Trigger     string        `json:"trigger"`
	StaticMedia *domain.Media `json:"static_media"`
}

// HandleBroadcast creates a campaign and dispatches it now or schedules it.
//
//	POST /broadcast
func (h *Handlers) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !httputil.Decode(w, r, &req, 0) {
		return
	}

	caller := CallerFromContext(r.Context())
	caller.PhoneNumberID = strings.TrimSpace(req.PhoneNumberID)

	in := broadcast.SubmitInput{
		Caller:       caller,
		TemplateName: req.TemplateName,
		SenderPhone:  req.SenderPhone,
		ScheduledAt:  req.ScheduledAt,
		Rows:         broadcast.ParseRows(req.Rows, h.region),
	}
	if req.Followup != nil {
		in.Followup = &broadcast.FollowupInput{
			Trigger:     req.Followup.Trigger,
			Text:        req.Followup.Text,
			StaticMedia: req.Followup.StaticMedia,
		}
	}

	res, err := h.broadcasts.Submit(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, res)
}

type customMessageRequest struct {
	To            string        `json:"to"`
	Text          string        `json:"text"`
	Media         *domain.Media `json:"media"`
	PhoneNumberID string        `json:"phone_number_id"`
}

// HandleCustomMessage sends one free-form message.
//
//	POST /custom-message
func (h *Handlers) HandleCustomMessage(w http.ResponseWriter, r *http.Request) {
	var req customMessageRequest
	if !httputil.Decode(w, r, &req, 0) {
		return
	}
	if req.Media != nil {
		req.Media.Kind = domain.ParseMediaKind(string(req.Media.Kind))
	}

	caller := CallerFromContext(r.Context())
	caller.PhoneNumberID = strings.TrimSpace(req.PhoneNumberID)

	out, err := h.broadcasts.SendCustom(r.Context(), broadcast.CustomInput{
		Caller: caller,
		To:     req.To,
		Text:   req.Text,
		Media:  req.Media,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := "ok"
	if !out.OK {
		status = "error"
	}
	to := out.Phone
	if to == "" {
		to = req.To
	}
	httputil.OK(w, map[string]interface{}{
		"status":      status,
		"to":          to,
		"wa_response": out,
	})
}

// HandleGetBroadcast returns one campaign with its recipient records.
//
//	GET /broadcasts/{id}
func (h *Handlers) HandleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.broadcasts.GetCampaign(r.Context(), CallerFromContext(r.Context()), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, view)
}

// HandleListTemplates lists the caller's templates.
//
//	GET /templates?status=APPROVED
func (h *Handlers) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	status := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))
	if status == "" {
		status = "APPROVED"
	}

	list, err := h.broadcasts.ListTemplates(r.Context(), CallerFromContext(r.Context()), status)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"status":    "ok",
		"count":     len(list),
		"templates": list,
	})
}
