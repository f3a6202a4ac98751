package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mckuadrat/wa-broadcast/internal/config"
	"github.com/mckuadrat/wa-broadcast/internal/metrics"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/httpretry"
)

// maxPages bounds how far list calls follow paging.next.
const maxPages = 10

// Client talks to the WhatsApp Cloud API. It holds no credentials; every
// call carries the tenant's.
type Client struct {
	baseURL string
	// sends are single-attempt; only reads go through the retry client
	sendClient httpretry.HTTPDoer
	readClient httpretry.HTTPDoer
	pacer      *pacer
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg config.WhatsAppConfig) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout()}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		sendClient: httpClient,
		readClient: httpretry.NewRetryClient(httpClient, cfg.MetadataRetries),
		pacer:      newPacer(cfg.MessagesPerSecond),
	}
}

// SendMessage posts msg from the given sending identity. A non-2xx answer is
// not an error: it is returned in the result with the body verbatim. The
// error is set only when no response was obtained.
func (c *Client) SendMessage(ctx context.Context, creds Credentials, phoneNumberID string, msg *Message) (*SendResult, error) {
	if phoneNumberID == "" {
		return nil, fmt.Errorf("send message: phone number id is required")
	}
	if msg.MessagingProduct == "" {
		msg.MessagingProduct = "whatsapp"
	}
	if err := c.pacer.wait(ctx, phoneNumberID); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}

	status, body, err := c.doRequest(ctx, c.sendClient, "send_"+msg.Type, http.MethodPost,
		c.endpoint(creds, phoneNumberID, "messages"), creds, payload)
	if err != nil {
		return nil, err
	}

	res := &SendResult{Status: status, Body: asJSON(body)}
	if res.OK() {
		var sr sendResponse
		if json.Unmarshal(body, &sr) == nil && len(sr.Messages) > 0 {
			res.MessageID = sr.Messages[0].ID
		}
	}
	return res, nil
}

// ListTemplates returns the templates of a business account.
func (c *Client) ListTemplates(ctx context.Context, creds Credentials, wabaID string, q TemplateQuery) ([]TemplateInfo, error) {
	params := url.Values{}
	params.Set("fields", "id,name,language,status,category,components")
	if q.Name != "" {
		params.Set("name", q.Name)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return listAll[TemplateInfo](ctx, c, creds, "list_templates",
		c.endpoint(creds, wabaID, "message_templates")+"?"+params.Encode())
}

// ListPhoneNumbers returns the sending identities of a business account.
func (c *Client) ListPhoneNumbers(ctx context.Context, creds Credentials, wabaID string) ([]PhoneNumber, error) {
	params := url.Values{}
	params.Set("fields", "id,display_phone_number,verified_name")
	return listAll[PhoneNumber](ctx, c, creds, "list_phone_numbers",
		c.endpoint(creds, wabaID, "phone_numbers")+"?"+params.Encode())
}

func listAll[T any](ctx context.Context, c *Client, creds Credentials, op, next string) ([]T, error) {
	var out []T
	for page := 0; next != "" && page < maxPages; page++ {
		status, body, err := c.doRequest(ctx, c.readClient, op, http.MethodGet, next, creds, nil)
		if err != nil {
			return nil, err
		}
		if status < 200 || status >= 300 {
			return nil, &APIError{Status: status, Body: asJSON(body)}
		}
		var lr listResponse[T]
		if err := json.Unmarshal(body, &lr); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", op, err)
		}
		out = append(out, lr.Data...)
		next = lr.Paging.Next
	}
	return out, nil
}

func (c *Client) endpoint(creds Credentials, node, edge string) string {
	version := creds.APIVersion
	if version == "" {
		version = "v20.0"
	}
	return fmt.Sprintf("%s/%s/%s/%s", c.baseURL, version, url.PathEscape(node), edge)
}

// doRequest performs one HTTP exchange and returns status and raw body.
func (c *Client) doRequest(ctx context.Context, doer httpretry.HTTPDoer, op, method, fullURL string, creds Credentials, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := doer.Do(req)
	if err != nil {
		metrics.GatewayRequestDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		return 0, nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()
	metrics.GatewayRequestDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// asJSON keeps b verbatim when it is JSON and wraps it as a JSON string
// otherwise, so the payload can always be embedded in a JSON document.
func asJSON(b []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}
