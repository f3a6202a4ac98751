package domain

import (
	"encoding/json"
	"time"
)

// InboundEvent is the audit record of one inbound message. It is written
// for every inbound message, correlated or not.
type InboundEvent struct {
	ID              string          `json:"id" db:"id"`
	ReceivedAt      time.Time       `json:"received_at" db:"received_at"`
	Phone           string          `json:"phone" db:"phone"`
	Type            string          `json:"type" db:"type"`
	Text            string          `json:"text" db:"text"`
	RawPayload      json.RawMessage `json:"raw_payload" db:"raw_payload"`
	CampaignID      *string         `json:"campaign_id,omitempty" db:"campaign_id"`
	IsQuickReply    bool            `json:"is_quick_reply" db:"is_quick_reply"`
	SendingIdentity string          `json:"sending_identity,omitempty" db:"sending_identity"`
}

// FollowupStatus is the result of a follow-up send.
type FollowupStatus string

const (
	FollowupSent   FollowupStatus = "sent"
	FollowupFailed FollowupStatus = "failed"
)

// FollowupOutcome is the audit record of one follow-up send.
type FollowupOutcome struct {
	ID         string          `json:"id" db:"id"`
	CampaignID string          `json:"campaign_id" db:"campaign_id"`
	Phone      string          `json:"phone" db:"phone"`
	Text       string          `json:"text" db:"text"`
	HasMedia   bool            `json:"has_media" db:"has_media"`
	MediaLink  string          `json:"media_link,omitempty" db:"media_link"`
	Status     FollowupStatus  `json:"status" db:"status"`
	HTTPStatus int             `json:"http_status" db:"http_status"`
	MessageID  *string         `json:"message_id,omitempty" db:"message_id"`
	Error      json.RawMessage `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
