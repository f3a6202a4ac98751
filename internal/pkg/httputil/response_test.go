package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadRequestEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	BadRequest(rec, "recipients must not be empty")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Code)
	assert.Equal(t, "recipients must not be empty", body.Error)
}

func TestDecode(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"promo"}`))
	require.True(t, Decode(rec, req, &dst, 0))
	assert.Equal(t, "promo", dst.Name)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		limit  int64
		status int
	}{
		{"empty", "", 0, http.StatusBadRequest},
		{"malformed", "{", 0, http.StatusBadRequest},
		{"too large", `{"name":"` + strings.Repeat("x", 64) + `"}`, 16, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst map[string]any
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			assert.False(t, Decode(rec, req, &dst, tt.limit))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
