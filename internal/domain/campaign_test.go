package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsFromMap(t *testing.T) {
	p := ParamsFromMap(map[string]string{
		"var10": "ten",
		"var2":  "two",
		"var1":  "one",
		"var3":  "",
		"name":  "ignored",
		"var":   "ignored",
		"varx":  "ignored",
	})
	assert.Equal(t, []string{"one", "two", "ten"}, p.Values())
	assert.Equal(t, "two", p.Map()["var2"])
}

func TestVarIndex(t *testing.T) {
	n, ok := VarIndex("var7")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = VarIndex("var")
	assert.False(t, ok)
	_, ok = VarIndex("phone")
	assert.False(t, ok)
}

func TestParseMediaKind(t *testing.T) {
	assert.Equal(t, MediaImage, ParseMediaKind("IMAGE"))
	assert.Equal(t, MediaAudio, ParseMediaKind("audio"))
	assert.Equal(t, MediaDocument, ParseMediaKind(""))
	assert.Equal(t, MediaDocument, ParseMediaKind("sticker"))
}

func TestFollowupEnabled(t *testing.T) {
	c := &Campaign{}
	assert.False(t, c.FollowupEnabled())
	c.Followup = &FollowupConfig{Text: "  "}
	assert.False(t, c.FollowupEnabled())
	c.Followup.Text = "Thanks {{1}}"
	assert.True(t, c.FollowupEnabled())
}

func TestDispatchSummaryAdd(t *testing.T) {
	var s DispatchSummary
	s.Add(DeliveryOutcome{Phone: "1", OK: true, Status: 200})
	s.Add(DeliveryOutcome{Phone: "2", OK: false, Status: 400})
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.OK)
	assert.Equal(t, 1, s.Failed)
	assert.Len(t, s.Results, 2)
}

func TestDeliveryOutcomeJSON(t *testing.T) {
	b, err := json.Marshal(DeliveryOutcome{Phone: "6281", OK: true, Status: 200})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phone":"6281","ok":true,"status":200,"messageId":null,"error":null}`, string(b))

	id := "wamid.1"
	b, err = json.Marshal(DeliveryOutcome{Phone: "6281", Status: 400, MessageID: &id, Error: json.RawMessage(`{"code":131026}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phone":"6281","ok":false,"status":400,"messageId":"wamid.1","error":{"code":131026}}`, string(b))
}
