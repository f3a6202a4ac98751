package domain

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	// CampaignPendingSchedule campaigns wait for the runner.
	CampaignPendingSchedule CampaignStatus = "pending_schedule"
	// CampaignDispatched is terminal; immediate campaigns are born here.
	CampaignDispatched CampaignStatus = "dispatched"
)

// Campaign is one broadcast request.
type Campaign struct {
	ID              string          `json:"id" db:"id"`
	TenantID        string          `json:"tenant_id,omitempty" db:"tenant_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	ScheduledAt     *time.Time      `json:"scheduled_at,omitempty" db:"scheduled_at"`
	Status          CampaignStatus  `json:"status" db:"status"`
	TemplateName    string          `json:"template_name" db:"template_name"`
	SenderPhone     string          `json:"sender_phone,omitempty" db:"sender_phone"`
	SendingIdentity string          `json:"sending_identity,omitempty" db:"sending_identity"`
	Followup        *FollowupConfig `json:"followup,omitempty" db:"followup_config"`
}

// FollowupEnabled reports whether inbound replies can trigger a follow-up.
func (c *Campaign) FollowupEnabled() bool {
	return c.Followup != nil && strings.TrimSpace(c.Followup.Text) != ""
}

// FollowupConfig is the campaign's auto-reply rule.
type FollowupConfig struct {
	Trigger     string `json:"trigger"`
	Text        string `json:"text"`
	StaticMedia *Media `json:"static_media,omitempty"`
}

// MediaKind is the gateway media message type.
type MediaKind string

const (
	MediaDocument MediaKind = "document"
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
)

// ParseMediaKind accepts the gateway names case-insensitively. Unknown or
// empty values are documents.
func ParseMediaKind(s string) MediaKind {
	switch MediaKind(strings.ToLower(strings.TrimSpace(s))) {
	case MediaImage:
		return MediaImage
	case MediaVideo:
		return MediaVideo
	case MediaAudio:
		return MediaAudio
	default:
		return MediaDocument
	}
}

// Media is an attachment referenced by public link.
type Media struct {
	Kind     MediaKind `json:"type"`
	Link     string    `json:"link"`
	Filename string    `json:"filename,omitempty"`
}

// Param is one named template variable. Order matters: it is the order of
// the positional placeholders in the template body.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Params is an ordered parameter list.
type Params []Param

// Map returns the params keyed by name.
func (p Params) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, v := range p {
		m[v.Name] = v.Value
	}
	return m
}

// Values returns the param values in order.
func (p Params) Values() []string {
	out := make([]string, len(p))
	for i, v := range p {
		out[i] = v.Value
	}
	return out
}

// ParamsFromMap rebuilds an ordered list from "varN" keyed values, sorted by
// numeric suffix. Keys that are not varN and empty values are dropped.
func ParamsFromMap(m map[string]string) Params {
	type indexed struct {
		n int
		p Param
	}
	var items []indexed
	for k, v := range m {
		n, ok := VarIndex(k)
		if !ok || v == "" {
			continue
		}
		items = append(items, indexed{n: n, p: Param{Name: k, Value: v}})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].n < items[j].n })
	out := make(Params, len(items))
	for i, it := range items {
		out[i] = it.p
	}
	return out
}

// VarIndex parses "var12" into 12.
func VarIndex(key string) (int, bool) {
	if !strings.HasPrefix(key, "var") || len(key) == 3 {
		return 0, false
	}
	n, err := strconv.Atoi(key[3:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// RecipientRecord is one destination of a campaign plus its outcome.
type RecipientRecord struct {
	ID          int64            `json:"id" db:"id"`
	CampaignID  string           `json:"campaign_id" db:"campaign_id"`
	Phone       string           `json:"phone" db:"phone"`
	Params      Params           `json:"vars" db:"vars_json"`
	FollowMedia *Media           `json:"follow_media,omitempty" db:"follow_media"`
	Outcome     *DeliveryOutcome `json:"outcome,omitempty"`
	AttemptedAt *time.Time       `json:"attempted_at,omitempty" db:"attempted_at"`
}

// DeliveryOutcome is the normalized result of one send attempt.
// Error holds the gateway's error payload verbatim.
type DeliveryOutcome struct {
	Phone     string          `json:"phone"`
	OK        bool            `json:"ok"`
	Status    int             `json:"status"`
	MessageID *string         `json:"messageId"`
	Error     json.RawMessage `json:"error"`
}

// DispatchSummary aggregates the outcomes of one dispatch pass.
type DispatchSummary struct {
	CampaignID string            `json:"broadcast_id"`
	Total      int               `json:"total"`
	OK         int               `json:"ok"`
	Failed     int               `json:"failed"`
	Results    []DeliveryOutcome `json:"results,omitempty"`
}

// Add folds one outcome into the summary.
func (s *DispatchSummary) Add(o DeliveryOutcome) {
	s.Total++
	if o.OK {
		s.OK++
	} else {
		s.Failed++
	}
	s.Results = append(s.Results, o)
}
