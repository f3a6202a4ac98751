package whatsapp

import (
	"encoding/json"
	"fmt"
)

// Credentials authorize one call on behalf of one tenant.
type Credentials struct {
	AccessToken string
	APIVersion  string
}

// Message is the body of POST /{version}/{phone_number_id}/messages.
type Message struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *Text        `json:"text,omitempty"`
	Template         *Template    `json:"template,omitempty"`
	Image            *MediaObject `json:"image,omitempty"`
	Document         *MediaObject `json:"document,omitempty"`
	Video            *MediaObject `json:"video,omitempty"`
	Audio            *MediaObject `json:"audio,omitempty"`
}

// Text is a free-form text body.
type Text struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// Template references an approved template by name and language.
type Template struct {
	Name       string      `json:"name"`
	Language   Language    `json:"language"`
	Components []Component `json:"components,omitempty"`
}

// Language is the template language selector.
type Language struct {
	Code string `json:"code"`
}

// Component fills one template section ("header", "body", "button").
type Component struct {
	Type       string      `json:"type"`
	Parameters []Parameter `json:"parameters"`
}

// Parameter is one positional value in a component.
type Parameter struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	Document *MediaObject `json:"document,omitempty"`
	Image    *MediaObject `json:"image,omitempty"`
	Video    *MediaObject `json:"video,omitempty"`
}

// MediaObject references media by public link.
type MediaObject struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// SendResult is whatever came back from the gateway for one send. Body is
// the response payload verbatim.
type SendResult struct {
	Status    int
	MessageID string
	Body      json.RawMessage
}

// OK reports a 2xx response.
func (r *SendResult) OK() bool { return r.Status >= 200 && r.Status < 300 }

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// TemplateInfo is one entry of GET /{waba_id}/message_templates.
type TemplateInfo struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Status     string              `json:"status"`
	Category   string              `json:"category"`
	Components []TemplateComponent `json:"components"`
}

// TemplateComponent is one section of a template definition.
type TemplateComponent struct {
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
	Text   string `json:"text,omitempty"`
}

// TemplateQuery filters the template listing.
type TemplateQuery struct {
	Name   string
	Status string
	Limit  int
}

// PhoneNumber is one entry of GET /{waba_id}/phone_numbers.
type PhoneNumber struct {
	ID                 string `json:"id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	VerifiedName       string `json:"verified_name"`
}

type listResponse[T any] struct {
	Data   []T `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// APIError is a non-2xx answer to a read call.
type APIError struct {
	Status int
	Body   json.RawMessage
}

func (e *APIError) Error() string {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(e.Body, &env) == nil && env.Error.Message != "" {
		return fmt.Sprintf("gateway error (status %d, code %d): %s", e.Status, env.Error.Code, env.Error.Message)
	}
	return fmt.Sprintf("gateway error (status %d): %s", e.Status, string(e.Body))
}
