package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mckuadrat/wa-broadcast/internal/dispatch"
	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/metrics"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/phone"
	"github.com/mckuadrat/wa-broadcast/internal/templates"
	"github.com/mckuadrat/wa-broadcast/internal/tenant"
	"github.com/mckuadrat/wa-broadcast/internal/whatsapp"
)

// TenantResolver resolves tenant contexts and sending identities.
type TenantResolver interface {
	Resolve(ctx context.Context, l tenant.Lookup) (*tenant.Context, error)
	IdentityForAddress(ctx context.Context, tc *tenant.Context, addr string) (*domain.SendingIdentity, error)
}

// Dispatcher sends messages.
type Dispatcher interface {
	SendTemplate(ctx context.Context, tc *tenant.Context, req dispatch.TemplateRequest) (domain.DeliveryOutcome, error)
	SendFreeform(ctx context.Context, tc *tenant.Context, req dispatch.FreeformRequest) (domain.DeliveryOutcome, error)
}

// Settings are the orchestrator's tunables.
type Settings struct {
	// ImmediateWindow: a scheduled time at most this far ahead is sent now.
	ImmediateWindow time.Duration
	Location        *time.Location
	DefaultTrigger  string
	DefaultRegion   string
}

// Service is the broadcast orchestrator.
type Service struct {
	repo       Repository
	tenants    TenantResolver
	templates  *templates.Lookup
	dispatcher Dispatcher
	settings   Settings
	log        *logger.Logger
	now        func() time.Time
}

// NewService wires the orchestrator.
func NewService(repo Repository, tenants TenantResolver, lookup *templates.Lookup, d Dispatcher, s Settings) *Service {
	if s.ImmediateWindow <= 0 {
		s.ImmediateWindow = 15 * time.Second
	}
	if s.Location == nil {
		s.Location = time.UTC
	}
	return &Service{
		repo:       repo,
		tenants:    tenants,
		templates:  lookup,
		dispatcher: d,
		settings:   s,
		log:        logger.With("broadcast"),
		now:        time.Now,
	}
}

// FollowupInput is the optional auto-reply rule of a submission.
type FollowupInput struct {
	Trigger     string
	Text        string
	StaticMedia *domain.Media
}

// SubmitInput is one broadcast request.
type SubmitInput struct {
	Caller       tenant.Lookup
	TemplateName string
	// SenderPhone is a display address selecting the sending identity.
	SenderPhone string
	ScheduledAt string
	Rows        []Row
	Followup    *FollowupInput
}

// SubmitResult is the answer to a broadcast request.
type SubmitResult struct {
	Status      string                   `json:"status"`
	BroadcastID string                   `json:"broadcast_id"`
	Count       int                      `json:"count"`
	OK          int                      `json:"ok"`
	Failed      int                      `json:"failed"`
	Results     []domain.DeliveryOutcome `json:"results"`
	ScheduledAt *time.Time               `json:"scheduled_at,omitempty"`
}

// Submit validates, persists and (when due) dispatches a campaign.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	templateName := strings.TrimSpace(in.TemplateName)
	if templateName == "" {
		return nil, invalid("template_name", "is required")
	}
	records, err := s.recordsFromRows(in.Rows)
	if err != nil {
		return nil, err
	}
	scheduledAt, err := ParseScheduledAt(in.ScheduledAt, s.settings.Location)
	if err != nil {
		return nil, err
	}

	tc, err := s.tenants.Resolve(ctx, in.Caller)
	if err != nil {
		return nil, err
	}
	tc = s.senderIdentity(ctx, tc, in)
	if tc.PhoneNumberID == "" {
		return nil, dispatch.ErrNoSendingIdentity
	}

	now := s.now()
	immediate := isImmediate(scheduledAt, now, s.settings.ImmediateWindow)
	c := &domain.Campaign{
		ID:              NewCampaignID(now),
		TenantID:        tc.TenantID,
		CreatedAt:       now,
		ScheduledAt:     scheduledAt,
		Status:          domain.CampaignPendingSchedule,
		TemplateName:    templateName,
		SenderPhone:     phone.Digits(in.SenderPhone),
		SendingIdentity: tc.PhoneNumberID,
		Followup:        s.followupConfig(in.Followup),
	}
	if immediate {
		c.Status = domain.CampaignDispatched
	}

	if err := s.repo.CreateCampaign(ctx, c, records); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	if !immediate {
		metrics.CampaignsTotal.WithLabelValues("scheduled").Inc()
		s.log.Info("campaign scheduled", "campaign_id", c.ID, "recipients", len(records), "scheduled_at", scheduledAt.Format(time.RFC3339))
		return &SubmitResult{
			Status:      "scheduled",
			BroadcastID: c.ID,
			Count:       len(records),
			Results:     []domain.DeliveryOutcome{},
			ScheduledAt: scheduledAt,
		}, nil
	}

	metrics.CampaignsTotal.WithLabelValues("immediate").Inc()
	sum := s.DispatchRecipients(ctx, tc, c, records)
	s.log.Info("campaign dispatched", "campaign_id", c.ID, "total", sum.Total, "ok", sum.OK, "failed", sum.Failed)
	results := sum.Results
	if results == nil {
		results = []domain.DeliveryOutcome{}
	}
	return &SubmitResult{
		Status:      "ok",
		BroadcastID: c.ID,
		Count:       sum.Total,
		OK:          sum.OK,
		Failed:      sum.Failed,
		Results:     results,
	}, nil
}

// DispatchRecipients sends the campaign's template to each record in order
// and records every outcome. It is shared by immediate submissions and the
// scheduled runner. Sends are not cancellable once started.
func (s *Service) DispatchRecipients(ctx context.Context, tc *tenant.Context, c *domain.Campaign, records []domain.RecipientRecord) domain.DispatchSummary {
	ctx = context.WithoutCancel(ctx)
	sum := domain.DispatchSummary{CampaignID: c.ID}

	meta := s.templates.Session().Get(ctx, tc, c.TemplateName)
	for i := range records {
		rec := &records[i]
		out := s.sendOne(ctx, tc, c, meta, rec)

		at := s.now()
		rec.Outcome = &out
		rec.AttemptedAt = &at
		if err := s.repo.RecordOutcome(ctx, rec.ID, out, at); err != nil {
			s.log.Error("recording outcome failed", "campaign_id", c.ID, "recipient_id", rec.ID, "error", err)
		}
		sum.Add(out)
	}
	return sum
}

func (s *Service) sendOne(ctx context.Context, tc *tenant.Context, c *domain.Campaign, meta templates.Metadata, rec *domain.RecipientRecord) domain.DeliveryOutcome {
	values := rec.Params.Values()
	if len(values) > meta.ParamCount {
		values = values[:meta.ParamCount]
	}
	req := dispatch.TemplateRequest{
		To:       rec.Phone,
		Template: c.TemplateName,
		Language: meta.Language,
		Params:   values,
	}
	if rec.FollowMedia != nil && meta.HasMediaHeader() {
		header := *rec.FollowMedia
		switch meta.HeaderFormat {
		case templates.HeaderImage:
			header.Kind = domain.MediaImage
		case templates.HeaderVideo:
			header.Kind = domain.MediaVideo
		default:
			header.Kind = domain.MediaDocument
		}
		req.HeaderMedia = &header
	}

	out, err := s.dispatcher.SendTemplate(ctx, tc, req)
	if err != nil {
		return failedOutcome(rec.Phone, err)
	}
	return out
}

// senderIdentity selects the sending identity whose display address matches
// the submitted sender. A caller-chosen identity always wins; lookup
// failures keep the resolved default.
func (s *Service) senderIdentity(ctx context.Context, tc *tenant.Context, in SubmitInput) *tenant.Context {
	if in.Caller.PhoneNumberID != "" || strings.TrimSpace(in.SenderPhone) == "" {
		return tc
	}
	if phone.Digits(in.SenderPhone) == phone.Digits(tc.DisplayPhone) {
		return tc
	}
	si, err := s.tenants.IdentityForAddress(ctx, tc, in.SenderPhone)
	if err != nil {
		s.log.Warn("sender identity lookup failed, using default", "tenant_id", tc.TenantID, "error", err)
		return tc
	}
	if si == nil {
		s.log.Warn("sender address not registered, using default", "tenant_id", tc.TenantID, "sender_phone", in.SenderPhone)
		return tc
	}
	return tc.WithIdentity(si.ID, si.DisplayPhone)
}

func (s *Service) recordsFromRows(rows []Row) ([]domain.RecipientRecord, error) {
	var records []domain.RecipientRecord
	for i, r := range rows {
		if r.Phone == "" {
			if len(r.Params) == 0 {
				continue
			}
			return nil, invalid(fmt.Sprintf("recipients[%d].phone", i), "is required")
		}
		records = append(records, domain.RecipientRecord{
			Phone:       r.Phone,
			Params:      r.Params,
			FollowMedia: r.FollowMedia,
		})
	}
	if len(records) == 0 {
		return nil, invalid("recipients", "must contain at least one recipient")
	}
	return records, nil
}

func (s *Service) followupConfig(in *FollowupInput) *domain.FollowupConfig {
	if in == nil || strings.TrimSpace(in.Text) == "" {
		return nil
	}
	fc := &domain.FollowupConfig{
		Trigger: strings.TrimSpace(in.Trigger),
		Text:    in.Text,
	}
	if fc.Trigger == "" {
		fc.Trigger = s.settings.DefaultTrigger
	}
	if in.StaticMedia != nil && strings.TrimSpace(in.StaticMedia.Link) != "" {
		m := *in.StaticMedia
		m.Kind = domain.ParseMediaKind(string(m.Kind))
		fc.StaticMedia = &m
	}
	return fc
}

// CustomInput is one free-form message.
type CustomInput struct {
	Caller tenant.Lookup
	To     string
	Text   string
	Media  *domain.Media
}

// SendCustom sends one free-form message outside any campaign.
func (s *Service) SendCustom(ctx context.Context, in CustomInput) (domain.DeliveryOutcome, error) {
	to := phone.Normalize(in.To, s.settings.DefaultRegion)
	if to == "" {
		return domain.DeliveryOutcome{}, invalid("to", "is required")
	}
	hasMedia := in.Media != nil && strings.TrimSpace(in.Media.Link) != ""
	if strings.TrimSpace(in.Text) == "" && !hasMedia {
		return domain.DeliveryOutcome{}, invalid("text", "text or media is required")
	}
	if !hasMedia {
		in.Media = nil
	}

	tc, err := s.tenants.Resolve(ctx, in.Caller)
	if err != nil {
		return domain.DeliveryOutcome{}, err
	}
	return s.dispatcher.SendFreeform(context.WithoutCancel(ctx), tc, dispatch.FreeformRequest{
		To:    to,
		Text:  in.Text,
		Media: in.Media,
	})
}

// CampaignView is a campaign with its recipient records.
type CampaignView struct {
	Campaign   *domain.Campaign         `json:"campaign"`
	Recipients []domain.RecipientRecord `json:"recipients"`
}

// GetCampaign returns a campaign visible to the caller.
func (s *Service) GetCampaign(ctx context.Context, caller tenant.Lookup, id string) (*CampaignView, error) {
	tc, err := s.tenants.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.TenantID != tc.TenantID {
		return nil, ErrNotFound
	}
	recs, err := s.repo.ListRecipients(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return &CampaignView{Campaign: c, Recipients: recs}, nil
}

// ListTemplates lists the caller's templates, optionally filtered by status.
func (s *Service) ListTemplates(ctx context.Context, caller tenant.Lookup, status string) ([]whatsapp.TemplateInfo, error) {
	tc, err := s.tenants.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	return s.templates.List(ctx, tc, status)
}

// NewCampaignID returns a time-prefixed unique id, e.g. "bc_lzq1x2k0_9f86d081".
func NewCampaignID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "bc_" + strconv.FormatInt(now.UnixMilli(), 36) + "_" + suffix
}

func failedOutcome(to string, err error) domain.DeliveryOutcome {
	msg, _ := jsonMessage(err)
	return domain.DeliveryOutcome{Phone: to, OK: false, Status: 500, Error: msg}
}

// IsConfiguration reports whether err is a configuration error (5xx).
func IsConfiguration(err error) bool {
	return errors.Is(err, tenant.ErrNotConfigured) || errors.Is(err, dispatch.ErrNoSendingIdentity)
}
