package followup

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mckuadrat/wa-broadcast/internal/pkg/phone"
)

// Message is one inbound message lifted out of a webhook envelope.
type Message struct {
	ID string
	// From is the sender's digits-only address.
	From string
	// PhoneNumberID is the sending identity that received the message.
	PhoneNumberID string
	Type          string
	// Text is the trigger text: the text body, else the quick-reply button
	// text, else the interactive reply title.
	Text       string
	QuickReply bool
	Timestamp  time.Time
	Raw        json.RawMessage
}

type envelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []json.RawMessage `json:"messages"`
				Statuses []json.RawMessage `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type wireMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

// ParseWebhook extracts the inbound messages of a webhook delivery.
// Status-only deliveries yield no messages.
func ParseWebhook(body []byte) ([]Message, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	var out []Message
	for _, e := range env.Entry {
		for _, ch := range e.Changes {
			for _, raw := range ch.Value.Messages {
				var wm wireMessage
				if err := json.Unmarshal(raw, &wm); err != nil {
					return nil, fmt.Errorf("decode message: %w", err)
				}
				m := Message{
					ID:            wm.ID,
					From:          phone.Digits(wm.From),
					PhoneNumberID: ch.Value.Metadata.PhoneNumberID,
					Type:          wm.Type,
					Text:          wm.triggerText(),
					QuickReply:    wm.Button != nil || wm.Interactive != nil,
					Timestamp:     parseUnix(wm.Timestamp),
					Raw:           raw,
				}
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (m *wireMessage) triggerText() string {
	var candidates []string
	if m.Text != nil {
		candidates = append(candidates, m.Text.Body)
	}
	if m.Button != nil {
		candidates = append(candidates, m.Button.Text)
	}
	if m.Interactive != nil {
		if m.Interactive.ButtonReply != nil {
			candidates = append(candidates, m.Interactive.ButtonReply.Title)
		}
		if m.Interactive.ListReply != nil {
			candidates = append(candidates, m.Interactive.ListReply.Title)
		}
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
