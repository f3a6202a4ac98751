// Package dispatch composes gateway messages and turns every send attempt
// into a normalized DeliveryOutcome. Sends are attempted exactly once.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mckuadrat/wa-broadcast/internal/config"
	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/metrics"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
	"github.com/mckuadrat/wa-broadcast/internal/tenant"
	"github.com/mckuadrat/wa-broadcast/internal/whatsapp"
)

var (
	// ErrNoSendingIdentity means the tenant context carries no identity to
	// send from. It is a configuration error, not a delivery failure.
	ErrNoSendingIdentity = errors.New("no sending identity configured")
	// ErrEmptyMessage means a free-form send had neither text nor media.
	ErrEmptyMessage = errors.New("message has neither text nor media")
)

// Sender posts one message to the gateway.
type Sender interface {
	SendMessage(ctx context.Context, creds whatsapp.Credentials, phoneNumberID string, msg *whatsapp.Message) (*whatsapp.SendResult, error)
}

// TemplateRequest is one templated send.
type TemplateRequest struct {
	To       string
	Template string
	// Language falls back to the tenant default when empty.
	Language string
	Params   []string
	// HeaderMedia is attached as the template's media header when set.
	HeaderMedia *domain.Media
}

// FreeformRequest is one text or media send. With media, Text becomes the
// caption.
type FreeformRequest struct {
	To    string
	Text  string
	Media *domain.Media
}

// Dispatcher sends messages on behalf of a tenant.
type Dispatcher struct {
	sender Sender
	media  config.MediaConfig
}

// New creates a dispatcher.
func New(sender Sender, media config.MediaConfig) *Dispatcher {
	return &Dispatcher{sender: sender, media: media}
}

// SendTemplate sends an approved template.
func (d *Dispatcher) SendTemplate(ctx context.Context, tc *tenant.Context, req TemplateRequest) (domain.DeliveryOutcome, error) {
	if tc.PhoneNumberID == "" {
		return domain.DeliveryOutcome{}, ErrNoSendingIdentity
	}
	lang := req.Language
	if lang == "" {
		lang = tc.TemplateLanguage
	}

	tpl := &whatsapp.Template{Name: req.Template, Language: whatsapp.Language{Code: lang}}
	if req.HeaderMedia != nil && req.HeaderMedia.Link != "" {
		tpl.Components = append(tpl.Components, whatsapp.Component{
			Type:       "header",
			Parameters: []whatsapp.Parameter{d.headerParameter(req.HeaderMedia)},
		})
	}
	if len(req.Params) > 0 {
		params := make([]whatsapp.Parameter, len(req.Params))
		for i, v := range req.Params {
			params[i] = whatsapp.Parameter{Type: "text", Text: v}
		}
		tpl.Components = append(tpl.Components, whatsapp.Component{Type: "body", Parameters: params})
	}

	return d.send(ctx, tc, "template", &whatsapp.Message{To: req.To, Type: "template", Template: tpl}), nil
}

// SendFreeform sends a text message, or a media message captioned with the
// text.
func (d *Dispatcher) SendFreeform(ctx context.Context, tc *tenant.Context, req FreeformRequest) (domain.DeliveryOutcome, error) {
	if tc.PhoneNumberID == "" {
		return domain.DeliveryOutcome{}, ErrNoSendingIdentity
	}
	text := strings.TrimSpace(req.Text)
	if req.Media == nil || req.Media.Link == "" {
		if text == "" {
			return domain.DeliveryOutcome{}, ErrEmptyMessage
		}
		return d.send(ctx, tc, "text", &whatsapp.Message{
			To:   req.To,
			Type: "text",
			Text: &whatsapp.Text{Body: text, PreviewURL: strings.Contains(text, "http")},
		}), nil
	}

	kind := domain.ParseMediaKind(string(req.Media.Kind))
	obj := &whatsapp.MediaObject{Link: req.Media.Link}
	if kind != domain.MediaAudio {
		obj.Caption = text
	}
	msg := &whatsapp.Message{To: req.To, Type: string(kind)}
	switch kind {
	case domain.MediaImage:
		msg.Image = obj
	case domain.MediaVideo:
		msg.Video = obj
	case domain.MediaAudio:
		msg.Audio = obj
	default:
		obj.Filename = NormalizeFilename(req.Media.Filename, req.Media.Link, d.media)
		msg.Document = obj
	}
	return d.send(ctx, tc, "media", msg), nil
}

func (d *Dispatcher) headerParameter(m *domain.Media) whatsapp.Parameter {
	obj := &whatsapp.MediaObject{Link: m.Link}
	switch domain.ParseMediaKind(string(m.Kind)) {
	case domain.MediaImage:
		return whatsapp.Parameter{Type: "image", Image: obj}
	case domain.MediaVideo:
		return whatsapp.Parameter{Type: "video", Video: obj}
	default:
		obj.Filename = NormalizeFilename(m.Filename, m.Link, d.media)
		return whatsapp.Parameter{Type: "document", Document: obj}
	}
}

func (d *Dispatcher) send(ctx context.Context, tc *tenant.Context, kind string, msg *whatsapp.Message) domain.DeliveryOutcome {
	out := domain.DeliveryOutcome{Phone: msg.To}

	res, err := d.sender.SendMessage(ctx, tc.Credentials(), tc.PhoneNumberID, msg)
	if err != nil {
		out.Status = http.StatusInternalServerError
		out.Error = errorPayload(err)
		logger.Warn("dispatch: send failed", "kind", kind, "phone", msg.To, "error", err)
	} else {
		out.OK = res.OK()
		out.Status = res.Status
		if res.MessageID != "" {
			id := res.MessageID
			out.MessageID = &id
		}
		if !out.OK {
			out.Error = res.Body
		}
	}
	metrics.RecipientsDispatchedTotal.WithLabelValues(kind, metrics.Result(out.OK)).Inc()
	return out
}

func errorPayload(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"message": err.Error()})
	return b
}
