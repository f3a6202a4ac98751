package followup

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mckuadrat/wa-broadcast/internal/dispatch"
	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/metrics"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
	"github.com/mckuadrat/wa-broadcast/internal/tenant"
)

// ErrNoCorrelation is returned by a Store when no campaign targeted the
// sender.
var ErrNoCorrelation = errors.New("no campaign for sender")

// Store persists the inbound audit trail and answers correlation queries.
type Store interface {
	InsertInboundEvent(ctx context.Context, e *domain.InboundEvent) error
	// FindCorrelation returns the most recently created campaign with a
	// recipient record for phone, and that record. A non-empty
	// sendingIdentity restricts the search to campaigns sent from it.
	FindCorrelation(ctx context.Context, phone, sendingIdentity string) (*domain.Campaign, *domain.RecipientRecord, error)
	InsertFollowupOutcome(ctx context.Context, o *domain.FollowupOutcome) error
}

// TenantResolver resolves the context a follow-up is sent under.
type TenantResolver interface {
	Resolve(ctx context.Context, l tenant.Lookup) (*tenant.Context, error)
}

// Sender sends free-form messages.
type Sender interface {
	SendFreeform(ctx context.Context, tc *tenant.Context, req dispatch.FreeformRequest) (domain.DeliveryOutcome, error)
}

// Settings tune correlation and matching.
type Settings struct {
	// DefaultTrigger applies to campaigns stored without a keyword.
	DefaultTrigger string
	// ScopeToSendingIdentity restricts correlation to campaigns sent from
	// the identity that received the reply.
	ScopeToSendingIdentity bool
}

// Action is what happened to one inbound message.
type Action string

const (
	ActionUncorrelated Action = "uncorrelated"
	ActionNoFollowup   Action = "no_followup"
	ActionNoMatch      Action = "no_match"
	ActionDropped      Action = "dropped"
	ActionSent         Action = "sent"
	ActionFailed       Action = "failed"
)

// Result reports the handling of one inbound message.
type Result struct {
	EventID    string                  `json:"event_id"`
	CampaignID string                  `json:"campaign_id,omitempty"`
	Action     Action                  `json:"action"`
	Outcome    *domain.FollowupOutcome `json:"outcome,omitempty"`
}

// Service is the inbound correlator.
type Service struct {
	store    Store
	tenants  TenantResolver
	sender   Sender
	renderer *Renderer
	settings Settings
	log      *logger.Logger
	now      func() time.Time
}

// NewService wires the correlator.
func NewService(store Store, tenants TenantResolver, sender Sender, s Settings) *Service {
	if strings.TrimSpace(s.DefaultTrigger) == "" {
		s.DefaultTrigger = "yes"
	}
	return &Service{
		store:    store,
		tenants:  tenants,
		sender:   sender,
		renderer: NewRenderer(),
		settings: s,
		log:      logger.With("followup"),
		now:      time.Now,
	}
}

// HandleWebhook processes every inbound message of a webhook delivery in
// order. A malformed body is the only error; per-message problems are
// logged and reflected in the results.
func (s *Service) HandleWebhook(ctx context.Context, body []byte) ([]Result, error) {
	msgs, err := ParseWebhook(body)
	if err != nil {
		metrics.InboundEventsTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}
	results := make([]Result, 0, len(msgs))
	for _, m := range msgs {
		results = append(results, s.Handle(ctx, m))
	}
	return results, nil
}

// Handle records, correlates and, when triggered, answers one message.
func (s *Service) Handle(ctx context.Context, m Message) Result {
	ctx = context.WithoutCancel(ctx)

	ev := &domain.InboundEvent{
		ID:              uuid.NewString(),
		ReceivedAt:      m.Timestamp,
		Phone:           m.From,
		Type:            m.Type,
		Text:            m.Text,
		RawPayload:      m.Raw,
		IsQuickReply:    m.QuickReply,
		SendingIdentity: m.PhoneNumberID,
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now().UTC()
	}

	scope := ""
	if s.settings.ScopeToSendingIdentity {
		scope = m.PhoneNumberID
	}
	c, rec, err := s.store.FindCorrelation(ctx, m.From, scope)
	switch {
	case errors.Is(err, ErrNoCorrelation):
		c, rec = nil, nil
	case err != nil:
		s.log.Error("correlation lookup failed", "phone", m.From, "error", err)
		c, rec = nil, nil
	}
	if c != nil {
		id := c.ID
		ev.CampaignID = &id
	}

	if err := s.store.InsertInboundEvent(ctx, ev); err != nil {
		s.log.Error("recording inbound event failed", "phone", m.From, "error", err)
	}

	res := Result{EventID: ev.ID}
	if c == nil {
		metrics.InboundEventsTotal.WithLabelValues("uncorrelated").Inc()
		res.Action = ActionUncorrelated
		return res
	}
	metrics.InboundEventsTotal.WithLabelValues("correlated").Inc()
	res.CampaignID = c.ID

	if !c.FollowupEnabled() {
		res.Action = ActionNoFollowup
		return res
	}
	if !s.triggered(m.Text, c.Followup.Trigger) {
		metrics.FollowupsTotal.WithLabelValues(string(ActionNoMatch)).Inc()
		res.Action = ActionNoMatch
		return res
	}

	res.Outcome, res.Action = s.sendFollowup(ctx, m, c, rec)
	metrics.FollowupsTotal.WithLabelValues(string(res.Action)).Inc()
	return res
}

func (s *Service) triggered(text, keyword string) bool {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		keyword = s.settings.DefaultTrigger
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
}

func (s *Service) sendFollowup(ctx context.Context, m Message, c *domain.Campaign, rec *domain.RecipientRecord) (*domain.FollowupOutcome, Action) {
	var params domain.Params
	media := c.Followup.StaticMedia
	if rec != nil {
		params = rec.Params
		if rec.FollowMedia != nil && rec.FollowMedia.Link != "" {
			media = rec.FollowMedia
		}
	}
	text := s.renderer.Render(c.Followup.Text, params)

	tc, err := s.sendingContext(ctx, m, c)
	if err != nil {
		s.log.Warn("no sending context for follow-up, dropping", "campaign_id", c.ID, "phone", m.From, "error", err)
		return nil, ActionDropped
	}

	out, err := s.sender.SendFreeform(ctx, tc, dispatch.FreeformRequest{To: m.From, Text: text, Media: media})
	if err != nil {
		s.log.Warn("follow-up not sent, dropping", "campaign_id", c.ID, "phone", m.From, "error", err)
		return nil, ActionDropped
	}

	fo := &domain.FollowupOutcome{
		ID:         uuid.NewString(),
		CampaignID: c.ID,
		Phone:      m.From,
		Text:       text,
		HasMedia:   media != nil && media.Link != "",
		Status:     domain.FollowupSent,
		HTTPStatus: out.Status,
		MessageID:  out.MessageID,
		CreatedAt:  s.now().UTC(),
	}
	if fo.HasMedia {
		fo.MediaLink = media.Link
	}
	if !out.OK {
		fo.Status = domain.FollowupFailed
		fo.Error = out.Error
	}
	if err := s.store.InsertFollowupOutcome(ctx, fo); err != nil {
		s.log.Error("recording follow-up outcome failed", "campaign_id", c.ID, "error", err)
	}

	if !out.OK {
		return fo, ActionFailed
	}
	s.log.Info("follow-up sent", "campaign_id", c.ID, "phone", m.From, "media", fo.HasMedia)
	return fo, ActionSent
}

// sendingContext prefers the identity that received the reply, then the
// campaign's own identity, then the deployment default.
func (s *Service) sendingContext(ctx context.Context, m Message, c *domain.Campaign) (*tenant.Context, error) {
	var fallback *tenant.Context
	for _, l := range []tenant.Lookup{
		{PhoneNumberID: m.PhoneNumberID},
		{TenantID: c.TenantID, PhoneNumberID: c.SendingIdentity},
	} {
		if l == (tenant.Lookup{}) {
			continue
		}
		tc, err := s.tenants.Resolve(ctx, l)
		if err != nil {
			s.log.Debug("follow-up context lookup failed", "phone_number_id", l.PhoneNumberID, "error", err)
			continue
		}
		if tc.Source != tenant.SourceDeployment {
			return tc, nil
		}
		if fallback == nil {
			fallback = tc
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return s.tenants.Resolve(ctx, tenant.Lookup{})
}
