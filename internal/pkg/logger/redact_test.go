package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "628*******890", RedactPhone("6281234567890"))
	assert.Equal(t, "***", RedactPhone("12345"))
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "****wxyz", RedactSecret("EAAbcdwxyz"))
	assert.Equal(t, "****", RedactSecret("abc"))
}

func TestRedactPIIValue(t *testing.T) {
	assert.Equal(t, "628*******890", redactPIIValue("phone", "6281234567890"))
	assert.Equal(t, "****1234", redactPIIValue("access_token", "secret-1234"))
	assert.Equal(t, "jo***@example.com", redactPIIValue("contact_email", "john@example.com"))
	assert.Equal(t, "sent to 628*******890", redactPIIValue("detail", "sent to 6281234567890"))
	assert.Equal(t, "campaign bc_1", redactPIIValue("detail", "campaign bc_1"))
}

func TestEntryComponentAndFields(t *testing.T) {
	l := &Logger{level: DEBUG, redactPII: false, component: "runner"}
	e := l.entry(WARN, "skipped", "campaign_id", "bc_1", "dangling")
	assert.Equal(t, "WARN", e["level"])
	assert.Equal(t, "runner", e["component"])
	assert.Equal(t, "bc_1", e["campaign_id"])
	_, ok := e["dangling"]
	assert.False(t, ok)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel(""))
}
