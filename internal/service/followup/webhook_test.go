package followup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const textWebhook = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "waba-1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "628111", "phone_number_id": "pn-1"},
        "contacts": [{"wa_id": "6281200000001", "profile": {"name": "Sari"}}],
        "messages": [
          {"from": "6281200000001", "id": "wamid.A", "timestamp": "1773133200", "type": "text", "text": {"body": "  Yes, kirim dong "}},
          {"from": "6281200000002", "id": "wamid.B", "timestamp": "1773133201", "type": "button", "button": {"text": "YES", "payload": "yes-payload"}},
          {"from": "6281200000003", "id": "wamid.C", "timestamp": "1773133202", "type": "interactive",
           "interactive": {"type": "list_reply", "list_reply": {"id": "r1", "title": "Yes please"}}},
          {"from": "6281200000004", "id": "wamid.D", "timestamp": "1773133203", "type": "image", "image": {"id": "media-1"}}
        ]
      }
    }]
  }]
}`

func TestParseWebhook(t *testing.T) {
	msgs, err := ParseWebhook([]byte(textWebhook))
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, "6281200000001", msgs[0].From)
	assert.Equal(t, "pn-1", msgs[0].PhoneNumberID)
	assert.Equal(t, "Yes, kirim dong", msgs[0].Text)
	assert.False(t, msgs[0].QuickReply)
	assert.Equal(t, time.Unix(1773133200, 0).UTC(), msgs[0].Timestamp)
	assert.Contains(t, string(msgs[0].Raw), `"wamid.A"`)

	assert.Equal(t, "YES", msgs[1].Text)
	assert.True(t, msgs[1].QuickReply)

	assert.Equal(t, "Yes please", msgs[2].Text)
	assert.True(t, msgs[2].QuickReply)

	assert.Equal(t, "image", msgs[3].Type)
	assert.Empty(t, msgs[3].Text)
}

func TestParseWebhook_StatusesOnly(t *testing.T) {
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{
		"metadata":{"phone_number_id":"pn-1"},
		"statuses":[{"id":"wamid.A","status":"delivered","recipient_id":"6281"}]}}]}]}`
	msgs, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestParseWebhook_Malformed(t *testing.T) {
	_, err := ParseWebhook([]byte(`{"entry": "nope"`))
	assert.Error(t, err)
}

func TestTriggerTextPreference(t *testing.T) {
	// a text body wins over a button title on the same message
	body := `{"entry":[{"changes":[{"value":{"messages":[
		{"from":"1","type":"interactive","text":{"body":"typed"},
		 "interactive":{"type":"button_reply","button_reply":{"id":"b","title":"tapped"}}},
		{"from":"2","type":"interactive","text":{"body":"   "},
		 "interactive":{"type":"button_reply","button_reply":{"id":"b","title":"tapped"}}}
	]}}]}]}`
	msgs, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "typed", msgs[0].Text)
	assert.Equal(t, "tapped", msgs[1].Text)
}
